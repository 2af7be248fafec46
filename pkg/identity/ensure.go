package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
)

type ensureConfig struct {
	bits     int
	now      func() time.Time
	generate func(bits int) (*rsa.PrivateKey, error)
}

// Option configures Ensure
type Option func(*ensureConfig)

// WithRSABits sets the modulus size for a new keypair
func WithRSABits(bits int) Option {
	return func(c *ensureConfig) { c.bits = bits }
}

// WithClock sets the clock used for the self-record timestamp
func WithClock(now func() time.Time) Option {
	return func(c *ensureConfig) { c.now = now }
}

// WithKeyGenerator replaces the RSA key generator
func WithKeyGenerator(gen func(bits int) (*rsa.PrivateKey, error)) Option {
	return func(c *ensureConfig) { c.generate = gen }
}

// Ensure loads the local identity or creates it on first use.
//
// A new identity gets a fresh keypair and a self contact record that is
// enabled and acknowledged, so the local key is trusted from the start.
// An existing identity keeps its keys; its self record is repaired when it
// is missing or holds a different key. The identity is saved before the
// self record, so a failed save leaves the directory untouched.
// If ctx is done before key generation completes nothing is persisted.
func Ensure(ctx context.Context, localID string, store Store, dir *contacts.Directory, opts ...Option) (*Identity, error) {
	cfg := ensureConfig{
		bits:     crypto.DefaultRSABits,
		now:      time.Now,
		generate: crypto.GenerateRSAKeyPair,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	existing, err := store.LoadIdentity(ctx)
	switch {
	case err == nil:
		if existing.ID != localID {
			return nil, fmt.Errorf("%w: have %q, want %q", ErrIdentityMismatch, existing.ID, localID)
		}
		if err := seedSelf(ctx, dir, existing, cfg.now); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	key, err := generateKey(ctx, cfg)
	if err != nil {
		return nil, err
	}

	id, err := New(localID, key)
	if err != nil {
		return nil, err
	}

	if err := store.SaveIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	if err := seedSelf(ctx, dir, id, cfg.now); err != nil {
		return nil, err
	}

	fp, _ := id.Fingerprint()
	log.Printf("✅ Identity created for %s (fingerprint %s)", localID, fp)
	return id, nil
}

// seedSelf makes the self contact record carry id's key, enabled and acknowledged.
// A stale record left by an earlier failed attempt is overwritten with a
// timestamp past it so the freshness rule accepts the write.
func seedSelf(ctx context.Context, dir *contacts.Directory, id *Identity, now func() time.Time) error {
	rec, found, err := dir.Get(ctx, id.ID)
	if err != nil {
		return fmt.Errorf("failed to read self contact: %w", err)
	}
	if found && rec.PublicKeyPEM == id.PublicKeyPEM && rec.Acknowledged {
		return nil
	}

	ts := now().UnixMilli()
	if found && ts <= rec.LastSeen {
		ts = rec.LastSeen + 1
	}
	accepted, err := dir.Upsert(ctx, id.ID, contacts.Record{
		PublicKeyPEM: id.PublicKeyPEM,
		LastSeen:     ts,
		Enabled:      true,
		Acknowledged: true,
	})
	if err != nil {
		return fmt.Errorf("failed to seed self contact: %w", err)
	}
	if !accepted {
		return fmt.Errorf("%w: self contact for %s not updated", ErrSelfContact, id.ID)
	}
	return nil
}

// generateKey runs RSA generation off the caller's goroutine so a done ctx returns promptly
func generateKey(ctx context.Context, cfg ensureConfig) (*rsa.PrivateKey, error) {
	type result struct {
		key *rsa.PrivateKey
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := cfg.generate(cfg.bits)
		done <- result{key, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, r.err)
		}
		return r.key, nil
	}
}
