package network

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/chatguard/pkg/storage"
)

type recorder struct {
	mu      sync.Mutex
	packets []string
	reply   string
	err     error
}

func (r *recorder) handle(_ context.Context, _ peer.ID, packet string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, packet)
	return r.reply, r.err
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.packets...)
}

type memOutbox struct {
	mu     sync.Mutex
	nextID int64
	items  []storage.QueuedPacket
}

func (m *memOutbox) Enqueue(_ context.Context, peer, packet string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.items = append(m.items, storage.QueuedPacket{ID: m.nextID, Peer: peer, Packet: packet})
	return nil
}

func (m *memOutbox) Pending(_ context.Context, peer string) ([]storage.QueuedPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.QueuedPacket
	for _, it := range m.items {
		if it.Peer == peer {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memOutbox) QueuedPeers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, it := range m.items {
		if !seen[it.Peer] {
			seen[it.Peer] = true
			out = append(out, it.Peer)
		}
	}
	return out, nil
}

func (m *memOutbox) DeleteQueued(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memOutbox) IncrementAttempts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Attempts++
		}
	}
	return nil
}

func (m *memOutbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func newTestTransport(t *testing.T, h Handler, outbox Outbox) *Transport {
	t.Helper()
	tr, err := New(context.Background(), Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	}, h, outbox)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSendAndReply(t *testing.T) {
	ctx := context.Background()
	bob := &recorder{reply: "::ACKNOWLEDGMENT::__alice"}

	a := newTestTransport(t, (&recorder{}).handle, nil)
	b := newTestTransport(t, bob.handle, nil)

	_, err := a.Connect(ctx, b.Addrs()[0].String())
	require.NoError(t, err)

	reply, err := a.Send(ctx, b.ID(), "::HANDSHAKE::__1000__alice__pem")
	require.NoError(t, err)
	assert.Equal(t, "::ACKNOWLEDGMENT::__alice", reply)
	assert.Equal(t, []string{"::HANDSHAKE::__1000__alice__pem"}, bob.received())

	var known bool
	for _, p := range a.Peers() {
		if p.ID == b.ID() {
			known = true
		}
	}
	assert.True(t, known)
}

func TestSendRemoteError(t *testing.T) {
	ctx := context.Background()
	b := newTestTransport(t, (&recorder{err: errors.New("boom")}).handle, nil)
	a := newTestTransport(t, (&recorder{}).handle, nil)

	_, err := a.Connect(ctx, b.Addrs()[0].String())
	require.NoError(t, err)

	_, err = a.Send(ctx, b.ID(), "::ACKNOWLEDGMENT::__x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSendRejectsNonPacket(t *testing.T) {
	a := newTestTransport(t, (&recorder{}).handle, nil)

	_, err := a.Send(context.Background(), a.ID(), "hello")
	assert.ErrorIs(t, err, ErrNotPacket)

	_, err = a.Broadcast(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotPacket)
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	b := &recorder{reply: "::ACKNOWLEDGMENT::__alice"}
	c := &recorder{}

	a := newTestTransport(t, (&recorder{}).handle, nil)
	tb := newTestTransport(t, b.handle, nil)
	tc := newTestTransport(t, c.handle, nil)

	_, err := a.Connect(ctx, tb.Addrs()[0].String())
	require.NoError(t, err)
	_, err = a.Connect(ctx, tc.Addrs()[0].String())
	require.NoError(t, err)

	replies, err := a.Broadcast(ctx, "::HANDSHAKE::__1__alice__pem")
	require.NoError(t, err)
	assert.Equal(t, []string{"::ACKNOWLEDGMENT::__alice"}, replies)
	assert.Len(t, b.received(), 1)
	assert.Len(t, c.received(), 1)
}

func TestQueueAndFlushOnConnect(t *testing.T) {
	ctx := context.Background()
	outbox := &memOutbox{}
	bob := &recorder{}

	a := newTestTransport(t, (&recorder{}).handle, outbox)
	b := newTestTransport(t, bob.handle, nil)

	// bob's addresses are unknown to alice, so delivery fails and is queued
	_, err := a.Send(ctx, b.ID(), "::ACKNOWLEDGMENT::__one")
	require.ErrorIs(t, err, ErrQueued)
	_, err = a.Send(ctx, b.ID(), "::ACKNOWLEDGMENT::__two")
	require.ErrorIs(t, err, ErrQueued)
	require.Equal(t, 2, outbox.len())

	_, err = a.Connect(ctx, b.Addrs()[0].String())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return outbox.len() == 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"::ACKNOWLEDGMENT::__one", "::ACKNOWLEDGMENT::__two"}, bob.received())
}

func TestFlushQueuedConnectedPeers(t *testing.T) {
	ctx := context.Background()
	outbox := &memOutbox{}
	bob := &recorder{}

	a := newTestTransport(t, (&recorder{}).handle, outbox)
	b := newTestTransport(t, bob.handle, nil)

	_, err := a.Connect(ctx, b.Addrs()[0].String())
	require.NoError(t, err)

	// queued after the connection was made, so onConnected will not see it
	require.NoError(t, outbox.Enqueue(ctx, b.ID().String(), "::ACKNOWLEDGMENT::__late", time.Hour))
	require.NoError(t, outbox.Enqueue(ctx, "not-a-peer-id", "::ACKNOWLEDGMENT::__lost", time.Hour))

	_, err = a.FlushQueued(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"::ACKNOWLEDGMENT::__late"}, bob.received())
	pending, err := outbox.Pending(ctx, "not-a-peer-id")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "undecodable peers are left for expiry")
	assert.Equal(t, 1, outbox.len())
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, first.Equals(second))

	id1, err := peer.IDFromPrivateKey(first)
	require.NoError(t, err)
	id2, err := peer.IDFromPrivateKey(second)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestParsePeers(t *testing.T) {
	_, err := parsePeers([]string{"not-a-multiaddr"})
	assert.Error(t, err)

	_, err = parsePeers([]string{"/ip4/127.0.0.1/tcp/9000"})
	assert.Error(t, err, "address without /p2p component")

	infos, err := parsePeers(nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
