package network

import (
	"context"
	"log"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ZentaChain/chatguard/pkg/storage"
)

// Outbox holds packets for peers that could not be reached
type Outbox interface {
	Enqueue(ctx context.Context, peer, packet string, ttl time.Duration) error
	Pending(ctx context.Context, peer string) ([]storage.QueuedPacket, error)
	QueuedPeers(ctx context.Context) ([]string, error)
	DeleteQueued(ctx context.Context, id int64) error
	IncrementAttempts(ctx context.Context, id int64) error
}

const (
	// maxFlushAttempts drops a queued packet after this many failed deliveries
	maxFlushAttempts = 10

	// retryInterval is how often queued peers that are already connected get flushed
	retryInterval = time.Minute
)

// Flush delivers queued packets to the peer in order and returns how many went out.
// It stops at the first failure so ordering is kept.
func (t *Transport) Flush(ctx context.Context, to peer.ID) (int, error) {
	if t.outbox == nil {
		return 0, nil
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	pending, err := t.outbox.Pending(ctx, to.String())
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range pending {
		reply, err := t.deliver(ctx, to, p.Packet)
		if err != nil {
			if p.Attempts+1 >= maxFlushAttempts {
				_ = t.outbox.DeleteQueued(ctx, p.ID)
				continue
			}
			_ = t.outbox.IncrementAttempts(ctx, p.ID)
			return delivered, err
		}
		if err := t.outbox.DeleteQueued(ctx, p.ID); err != nil {
			return delivered, err
		}
		delivered++

		if reply != "" {
			t.handleReply(ctx, to, reply)
		}
	}
	return delivered, nil
}

// handleReply feeds a reply to a queued packet back into the local handler
func (t *Transport) handleReply(ctx context.Context, from peer.ID, reply string) {
	if _, err := t.handler(ctx, from, reply); err != nil {
		logReplyError(from, err)
	}
}

// FlushQueued flushes every queued peer that is currently connected.
// Connections made before a packet was queued never fire onConnected again,
// so this picks those packets up.
func (t *Transport) FlushQueued(ctx context.Context) (int, error) {
	if t.outbox == nil {
		return 0, nil
	}

	peers, err := t.outbox.QueuedPeers(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range peers {
		id, err := peer.Decode(p)
		if err != nil {
			continue
		}
		if t.host.Network().Connectedness(id) != network.Connected {
			continue
		}
		n, err := t.Flush(ctx, id)
		total += n
		if err != nil {
			log.Printf("⚠️  Outbox flush to %s failed: %v", id, err)
		}
	}
	return total, nil
}

// retryQueued runs FlushQueued at start and then every retryInterval
func (t *Transport) retryQueued() {
	defer t.wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		if n, err := t.FlushQueued(t.ctx); err != nil {
			if t.ctx.Err() != nil {
				return
			}
			log.Printf("⚠️  Outbox retry failed: %v", err)
		} else if n > 0 {
			log.Printf("📤 Delivered %d queued packets on retry", n)
		}

		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
