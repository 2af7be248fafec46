package contacts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// FreshnessPolicy decides how equal timestamps are treated
type FreshnessPolicy int

const (
	// FreshnessStrict rejects an update whose LastSeen is not newer than the stored one
	FreshnessStrict FreshnessPolicy = iota

	// FreshnessAllowEqual rejects only strictly older updates
	FreshnessAllowEqual
)

// String returns the config name of the policy
func (p FreshnessPolicy) String() string {
	if p == FreshnessAllowEqual {
		return "allow-equal"
	}
	return "strict"
}

// ParseFreshnessPolicy maps a config name to a policy
func ParseFreshnessPolicy(s string) (FreshnessPolicy, error) {
	switch s {
	case "", "strict":
		return FreshnessStrict, nil
	case "allow-equal":
		return FreshnessAllowEqual, nil
	default:
		return FreshnessStrict, fmt.Errorf("unknown freshness policy %q", s)
	}
}

// Directory applies the freshness rule on top of a Store
type Directory struct {
	store  Store
	policy FreshnessPolicy

	mu    sync.Mutex
	locks map[string]*peerLock
}

type peerLock struct {
	sem  chan struct{}
	refs int
}

// DirectoryOption configures a Directory
type DirectoryOption func(*Directory)

// WithFreshnessPolicy overrides the default FreshnessStrict policy
func WithFreshnessPolicy(p FreshnessPolicy) DirectoryOption {
	return func(d *Directory) { d.policy = p }
}

// NewDirectory creates a Directory over store
func NewDirectory(store Store, opts ...DirectoryOption) *Directory {
	d := &Directory{
		store:  store,
		policy: FreshnessStrict,
		locks:  make(map[string]*peerLock),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the active freshness policy
func (d *Directory) Policy() FreshnessPolicy {
	return d.policy
}

// Get returns the record for peerID; ok is false when the peer is unknown
func (d *Directory) Get(ctx context.Context, peerID string) (*Record, bool, error) {
	rec, err := d.store.GetContact(ctx, peerID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// List returns every known record
func (d *Directory) List(ctx context.Context) ([]Record, error) {
	return d.store.ListContacts(ctx)
}

// Upsert stores candidate for peerID unless it is stale.
//
// When a record exists and candidate.LastSeen is not newer (per policy),
// nothing is written and accepted is false. An accepted candidate replaces
// the record entirely, Acknowledged included, so a changed key is never
// carried over as acknowledged unless the caller says so.
func (d *Directory) Upsert(ctx context.Context, peerID string, candidate Record) (bool, error) {
	if peerID == "" {
		return false, ErrInvalidRecord
	}

	unlock, err := d.lock(ctx, peerID)
	if err != nil {
		return false, err
	}
	defer unlock()

	existing, found, err := d.Get(ctx, peerID)
	if err != nil {
		return false, err
	}
	if found && d.stale(candidate.LastSeen, existing.LastSeen) {
		return false, nil
	}

	next := candidate
	next.PeerID = peerID
	if found && existing.PublicKeyPEM != next.PublicKeyPEM && existing.PublicKeyPEM != "" {
		log.Printf("🔑 Public key changed for peer %s (acknowledged=%v)", peerID, next.Acknowledged)
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.save(ctx, &next)
}

// MarkAcknowledged sets Acknowledged on a peer with a stored public key.
// Unknown peers and peers without a key are left untouched.
func (d *Directory) MarkAcknowledged(ctx context.Context, peerID string) (bool, error) {
	return d.update(ctx, peerID, func(rec *Record) bool {
		if !rec.HasKey() {
			return false
		}
		rec.Acknowledged = true
		return true
	})
}

// SetEnabled flips the per-peer enable flag
func (d *Directory) SetEnabled(ctx context.Context, peerID string, enabled bool) (bool, error) {
	return d.update(ctx, peerID, func(rec *Record) bool {
		rec.Enabled = enabled
		return true
	})
}

// update applies fn to an existing record under the peer lock; fn returns false to skip the write
func (d *Directory) update(ctx context.Context, peerID string, fn func(*Record) bool) (bool, error) {
	unlock, err := d.lock(ctx, peerID)
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, found, err := d.Get(ctx, peerID)
	if err != nil || !found {
		return false, err
	}
	if !fn(rec) {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.save(ctx, rec)
}

// save writes rec; losing to a newer record written elsewhere is a rejection, not an error
func (d *Directory) save(ctx context.Context, rec *Record) (bool, error) {
	err := d.store.SaveContact(ctx, rec)
	switch {
	case errors.Is(err, ErrStale):
		log.Printf("🔁 Contact %s changed underneath us, keeping the newer record", rec.PeerID)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to save contact %s: %w", rec.PeerID, err)
	}
	return true, nil
}

func (d *Directory) stale(candidate, existing int64) bool {
	if d.policy == FreshnessAllowEqual {
		return candidate < existing
	}
	return candidate <= existing
}

// lock acquires the per-peer lock or gives up when ctx is done
func (d *Directory) lock(ctx context.Context, peerID string) (func(), error) {
	d.mu.Lock()
	pl, ok := d.locks[peerID]
	if !ok {
		pl = &peerLock{sem: make(chan struct{}, 1)}
		d.locks[peerID] = pl
	}
	pl.refs++
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(d.locks, peerID)
		}
		d.mu.Unlock()
	}

	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}
