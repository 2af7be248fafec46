package network

import (
	"log"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// maintainPeer keeps a configured peer connected, redialing with exponential backoff
func (t *Transport) maintainPeer(info peer.AddrInfo) {
	defer t.wg.Done()

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if t.host.Network().Connectedness(info.ID) != network.Connected {
			if err := t.host.Connect(t.ctx, info); err != nil {
				if t.ctx.Err() != nil {
					return
				}
				log.Printf("🔄 Peer %s unreachable, retrying in %v: %v", info.ID, backoff, err)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			} else {
				log.Printf("✅ Connected to peer %s", info.ID)
				backoff = time.Second
			}
		}

		select {
		case <-t.ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func logReplyError(from peer.ID, err error) {
	log.Printf("⚠️  Failed to handle reply from %s: %v", from, err)
}
