package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/identity"
)

// ===== IDENTITY OPERATIONS =====

// LoadIdentity returns the stored identity or identity.ErrNotFound
func (db *DB) LoadIdentity(ctx context.Context) (*identity.Identity, error) {
	var peerID, publicKey string
	var sealed []byte

	err := db.db.QueryRowContext(ctx,
		`SELECT peer_id, public_key, private_key FROM identity WHERE slot = 1`,
	).Scan(&peerID, &publicKey, &sealed)
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	privateKey, err := crypto.AESDecrypt(sealed, db.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}
	defer crypto.Wipe(privateKey)

	return identity.FromPEM(peerID, publicKey, string(privateKey))
}

// SaveIdentity stores id, replacing any previous identity
func (db *DB) SaveIdentity(ctx context.Context, id *identity.Identity) error {
	sealed, err := crypto.AESEncrypt(rand.Reader, []byte(id.PrivateKeyPEM), db.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO identity (slot, peer_id, public_key, private_key)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			peer_id = excluded.peer_id,
			public_key = excluded.public_key,
			private_key = excluded.private_key
	`, id.ID, id.PublicKeyPEM, sealed)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}
