package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/chatguard/pkg/crypto"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPassword = errors.New("invalid password")
)

const (
	metaSalt     = "kdf_salt"
	metaKeyCheck = "key_check"

	saltSize = 16

	// keyCheckPlaintext is sealed under the derived key to detect a wrong password on open
	keyCheckPlaintext = "chatguard-key-check-v1"
)

// DB is the durable local store: the single identity, the contact
// directory and the outbound packet queue, all in one SQLite file.
// The private key is sealed at rest with a key derived from the password.
type DB struct {
	db            *sql.DB
	encryptionKey []byte
}

// Open opens or creates the database at dbPath
func Open(dbPath string, password string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	sdb := &DB{db: db}
	if err := sdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := sdb.unlock(password); err != nil {
		db.Close()
		return nil, err
	}

	return sdb, nil
}

// initSchema creates database tables
func (db *DB) initSchema() error {
	schema := `
	-- Key/value settings (KDF salt, password check)
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	-- The single local identity
	CREATE TABLE IF NOT EXISTS identity (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		peer_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		private_key BLOB NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Contact directory
	CREATE TABLE IF NOT EXISTS contacts (
		peer_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL DEFAULT '',
		last_seen INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Framed packets waiting for a reachable peer
	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer TEXT NOT NULL,
		packet TEXT NOT NULL,
		queued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_peer ON outbox(peer, id);
	CREATE INDEX IF NOT EXISTS idx_outbox_expires ON outbox(expires_at);
	`

	if _, err := db.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// unlock derives the at-rest key and checks it against the stored check value
func (db *DB) unlock(password string) error {
	ctx := context.Background()

	salt, err := db.getMeta(ctx, metaSalt)
	if errors.Is(err, ErrNotFound) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := db.setMeta(ctx, metaSalt, salt); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	key := deriveKey(password, salt)

	check, err := db.getMeta(ctx, metaKeyCheck)
	switch {
	case errors.Is(err, ErrNotFound):
		sealed, err := crypto.AESEncrypt(rand.Reader, []byte(keyCheckPlaintext), key)
		if err != nil {
			return fmt.Errorf("failed to seal key check: %w", err)
		}
		if err := db.setMeta(ctx, metaKeyCheck, sealed); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		plain, err := crypto.AESDecrypt(check, key)
		if err != nil || string(plain) != keyCheckPlaintext {
			return ErrInvalidPassword
		}
	}

	db.encryptionKey = key
	return nil
}

func (db *DB) getMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

func (db *DB) setMeta(ctx context.Context, key string, value []byte) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	crypto.Wipe(db.encryptionKey)
	return db.db.Close()
}
