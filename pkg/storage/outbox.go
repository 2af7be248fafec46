package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultOutboxTTL is how long an undelivered packet is kept
const DefaultOutboxTTL = 7 * 24 * time.Hour

// QueuedPacket is a framed packet waiting for its peer to become reachable
type QueuedPacket struct {
	ID        int64
	Peer      string // transport address of the peer
	Packet    string // framed packet text
	QueuedAt  int64  // Unix seconds
	ExpiresAt int64  // Unix seconds
	Attempts  int
}

// ===== OUTBOX OPERATIONS =====

// Enqueue stores a packet for later delivery to peer
func (db *DB) Enqueue(ctx context.Context, peer, packet string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultOutboxTTL
	}
	now := time.Now().Unix()
	expiresAt := now + int64(ttl.Seconds())

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO outbox (peer, packet, queued_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, peer, packet, now, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to queue packet: %w", err)
	}

	log.Printf("📬 Queued packet for unreachable peer %s (expires in %v)", shortPeer(peer), ttl)
	return nil
}

// Pending returns unexpired packets for peer in queue order
func (db *DB) Pending(ctx context.Context, peer string) ([]QueuedPacket, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, peer, packet, queued_at, expires_at, attempts
		FROM outbox
		WHERE peer = ? AND expires_at > ?
		ORDER BY id ASC
	`, peer, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get queued packets: %w", err)
	}
	defer rows.Close()

	var packets []QueuedPacket
	for rows.Next() {
		var p QueuedPacket
		if err := rows.Scan(&p.ID, &p.Peer, &p.Packet, &p.QueuedAt, &p.ExpiresAt, &p.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

// QueuedPeers returns every peer with at least one unexpired packet
func (db *DB) QueuedPeers(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT DISTINCT peer FROM outbox WHERE expires_at > ? ORDER BY peer`,
		time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued peers: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, rows.Err()
}

// DeleteQueued removes a packet after successful delivery
func (db *DB) DeleteQueued(ctx context.Context, id int64) error {
	if _, err := db.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queued packet: %w", err)
	}
	return nil
}

// IncrementAttempts increments the delivery attempt counter
func (db *DB) IncrementAttempts(ctx context.Context, id int64) error {
	_, err := db.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, id)
	return err
}

// QueueSize returns the number of unexpired queued packets
func (db *DB) QueueSize(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE expires_at > ?`, time.Now().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// PurgeExpired deletes packets whose TTL ended before now
func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx, `DELETE FROM outbox WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	return result.RowsAffected()
}

// RunCleanup purges expired packets every interval until ctx is done
func (db *DB) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := db.PurgeExpired(ctx, now)
			if err != nil {
				log.Printf("Failed to cleanup expired packets: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("🧹 Cleaned up %d expired packets", count)
			}
		}
	}
}

func shortPeer(peer string) string {
	if len(peer) > 12 {
		return peer[len(peer)-12:]
	}
	return peer
}
