// Package network delivers framed packet strings between nodes over libp2p streams.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/chatguard/pkg/protocol"
)

const (
	// ProtocolID is the libp2p stream protocol for packet delivery
	ProtocolID = "/chatguard/packet/1.0.0"

	// DHTPrefix keeps the routing table separate from the public IPFS DHT
	DHTPrefix = "/chatguard"

	streamTimeout = 30 * time.Second
)

var (
	ErrNotPacket = errors.New("not a chatguard packet")
	ErrQueued    = errors.New("peer unreachable, packet queued")
)

// Handler processes one inbound packet and returns an optional framed reply
type Handler func(ctx context.Context, from peer.ID, packet string) (reply string, err error)

// frame is one request on a stream
type frame struct {
	Version uint8  `json:"version"`
	Packet  string `json:"packet"`
}

// response answers a frame
type response struct {
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// PeerInfo contains information about a known peer
type PeerInfo struct {
	ID        peer.ID
	Addresses []multiaddr.Multiaddr
	LastSeen  time.Time
	Connected bool
}

// Config configures a Transport
type Config struct {
	ListenAddrs []string
	Peers       []string // multiaddrs ending in /p2p/<id>
	EnableDHT   bool
	PrivateKey  crypto.PrivKey // optional, generated when nil
	OutboxTTL   time.Duration
}

// Transport is a libp2p host speaking ProtocolID
type Transport struct {
	host    host.Host
	kad     *dht.IpfsDHT
	handler Handler
	outbox  Outbox
	ttl     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	peers map[peer.ID]*PeerInfo

	flushMu sync.Mutex
	wg      sync.WaitGroup
}

// New starts a transport. outbox may be nil, in which case undeliverable packets fail.
func New(ctx context.Context, cfg Config, handler Handler, outbox Outbox) (*Transport, error) {
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = GenerateKey()
		if err != nil {
			return nil, err
		}
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	t := &Transport{
		handler: handler,
		outbox:  outbox,
		ttl:     cfg.OutboxTTL,
		ctx:     nodeCtx,
		cancel:  cancel,
		peers:   make(map[peer.ID]*PeerInfo),
	}

	bootstrap, err := parsePeers(cfg.Peers)
	if err != nil {
		cancel()
		return nil, err
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.EnableDHT {
		opts = append(opts, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			kad, err := dht.New(nodeCtx, h,
				dht.Mode(dht.ModeAuto),
				dht.ProtocolPrefix(DHTPrefix),
				dht.BootstrapPeers(bootstrap...),
			)
			t.kad = kad
			return kad, err
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	t.host = h

	h.SetStreamHandler(ProtocolID, t.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    t.onConnected,
		DisconnectedF: t.onDisconnected,
	})

	if t.kad != nil {
		if err := t.kad.Bootstrap(nodeCtx); err != nil {
			log.Printf("⚠️  DHT bootstrap failed: %v", err)
		}
	}

	for _, info := range bootstrap {
		t.track(info.ID, info.Addrs)
		t.wg.Add(1)
		go t.maintainPeer(info)
	}
	if outbox != nil {
		t.wg.Add(1)
		go t.retryQueued()
	}

	log.Printf("🌐 Transport listening as %s", h.ID())
	return t, nil
}

// ID returns the local libp2p peer id
func (t *Transport) ID() peer.ID {
	return t.host.ID()
}

// Addrs returns dialable addresses including the /p2p component
func (t *Transport) Addrs() []multiaddr.Multiaddr {
	info := peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return addrs
}

// Connect dials a peer given its multiaddr
func (t *Transport) Connect(ctx context.Context, addr string) (peer.ID, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("invalid multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return "", fmt.Errorf("failed to parse peer info: %w", err)
	}

	t.track(info.ID, info.Addrs)
	if err := t.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}
	return info.ID, nil
}

// Peers returns every peer the transport knows about
func (t *Transport) Peers() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// Send delivers packet to the peer and returns its reply.
// When the peer cannot be reached and an outbox is attached the packet is
// queued and the error wraps ErrQueued.
func (t *Transport) Send(ctx context.Context, to peer.ID, packet string) (string, error) {
	if !protocol.IsPacket(packet) {
		return "", ErrNotPacket
	}

	reply, err := t.deliver(ctx, to, packet)
	if err == nil {
		return reply, nil
	}
	if t.outbox == nil || ctx.Err() != nil {
		return "", err
	}
	if qerr := t.outbox.Enqueue(ctx, to.String(), packet, t.ttl); qerr != nil {
		return "", fmt.Errorf("%v (queue failed: %w)", err, qerr)
	}
	return "", fmt.Errorf("%w: %v", ErrQueued, err)
}

// Broadcast sends packet to every connected peer and returns the non-empty replies
func (t *Transport) Broadcast(ctx context.Context, packet string) ([]string, error) {
	if !protocol.IsPacket(packet) {
		return nil, ErrNotPacket
	}

	var replies []string
	var errs []error
	for _, p := range t.host.Network().Peers() {
		reply, err := t.deliver(ctx, p, packet)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if reply != "" {
			replies = append(replies, reply)
		}
	}
	return replies, errors.Join(errs...)
}

func (t *Transport) deliver(ctx context.Context, to peer.ID, packet string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	stream, err := t.host.NewStream(ctx, to, ProtocolID)
	if err != nil {
		return "", fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := json.NewEncoder(stream).Encode(frame{Version: protocol.SchemeVersion, Packet: packet}); err != nil {
		stream.Reset()
		return "", fmt.Errorf("failed to send packet: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		stream.Reset()
		return "", fmt.Errorf("failed to close write: %w", err)
	}

	var resp response
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("connection closed by peer")
		}
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("remote node error: %s", resp.Error)
	}
	return resp.Reply, nil
}

// handleStream processes one inbound frame
func (t *Transport) handleStream(stream network.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(streamTimeout))

	from := stream.Conn().RemotePeer()
	t.track(from, []multiaddr.Multiaddr{stream.Conn().RemoteMultiaddr()})

	var req frame
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		writeResponse(stream, response{Error: fmt.Sprintf("failed to decode frame: %v", err)})
		return
	}
	if req.Version != protocol.SchemeVersion {
		writeResponse(stream, response{Error: fmt.Sprintf("unsupported scheme version: %d", req.Version)})
		return
	}

	reply, err := t.handler(t.ctx, from, req.Packet)
	if err != nil {
		writeResponse(stream, response{Error: err.Error()})
		return
	}
	writeResponse(stream, response{Reply: reply})
}

func writeResponse(stream network.Stream, resp response) {
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		log.Printf("⚠️  Failed to write response to %s: %v", stream.Conn().RemotePeer(), err)
	}
}

func (t *Transport) track(id peer.ID, addrs []multiaddr.Multiaddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok {
		p = &PeerInfo{ID: id}
		t.peers[id] = p
	}
	if len(addrs) > 0 {
		p.Addresses = addrs
	}
	p.LastSeen = time.Now()
}

func (t *Transport) onConnected(_ network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	t.track(id, []multiaddr.Multiaddr{conn.RemoteMultiaddr()})

	t.mu.Lock()
	t.peers[id].Connected = true
	t.mu.Unlock()

	if t.outbox == nil || t.ctx.Err() != nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if n, err := t.Flush(t.ctx, id); err != nil {
			log.Printf("⚠️  Outbox flush to %s failed: %v", id, err)
		} else if n > 0 {
			log.Printf("📤 Delivered %d queued packets to %s", n, id)
		}
	}()
}

func (t *Transport) onDisconnected(_ network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	if t.host.Network().Connectedness(id) == network.Connected {
		return
	}
	t.mu.Lock()
	if p, ok := t.peers[id]; ok {
		p.Connected = false
	}
	t.mu.Unlock()
}

// Close shuts the transport down
func (t *Transport) Close() error {
	t.cancel()
	var errs []error
	if t.kad != nil {
		errs = append(errs, t.kad.Close())
	}
	errs = append(errs, t.host.Close())
	t.wg.Wait()
	return errors.Join(errs...)
}

func parsePeers(addrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, s := range addrs {
		maddr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %s: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse peer info from %s: %w", s, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
