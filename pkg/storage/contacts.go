package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZentaChain/chatguard/pkg/contacts"
)

// ===== CONTACT OPERATIONS =====

// SaveContact adds or updates a contact. The update only lands when the
// stored last_seen is not newer, so another process sharing the file cannot
// be overwritten by a stale read; that case returns contacts.ErrStale.
func (db *DB) SaveContact(ctx context.Context, record *contacts.Record) error {
	query := `
		INSERT INTO contacts (peer_id, public_key, last_seen, enabled, acknowledged, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(peer_id) DO UPDATE SET
			public_key = excluded.public_key,
			last_seen = excluded.last_seen,
			enabled = excluded.enabled,
			acknowledged = excluded.acknowledged,
			updated_at = excluded.updated_at
		WHERE excluded.last_seen >= contacts.last_seen
	`

	result, err := db.db.ExecContext(ctx, query,
		record.PeerID,
		record.PublicKeyPEM,
		record.LastSeen,
		boolToInt(record.Enabled),
		boolToInt(record.Acknowledged),
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return contacts.ErrStale
	}
	return nil
}

// GetContact retrieves a contact by peer id
func (db *DB) GetContact(ctx context.Context, peerID string) (*contacts.Record, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT peer_id, public_key, last_seen, enabled, acknowledged
		FROM contacts WHERE peer_id = ?
	`, peerID)

	rec, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, contacts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return rec, nil
}

// ListContacts returns all contacts ordered by peer id
func (db *DB) ListContacts(ctx context.Context) ([]contacts.Record, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT peer_id, public_key, last_seen, enabled, acknowledged
		FROM contacts ORDER BY peer_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var list []contacts.Record
	for rows.Next() {
		rec, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*contacts.Record, error) {
	var rec contacts.Record
	var enabled, acknowledged int

	if err := row.Scan(&rec.PeerID, &rec.PublicKeyPEM, &rec.LastSeen, &enabled, &acknowledged); err != nil {
		return nil, err
	}
	rec.Enabled = intToBool(enabled)
	rec.Acknowledged = intToBool(acknowledged)
	return &rec, nil
}
