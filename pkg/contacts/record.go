package contacts

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("contact not found")
	ErrInvalidRecord = errors.New("invalid contact record")

	// ErrStale is returned by Store.SaveContact when the stored record is
	// newer than the one being written, e.g. another process got there first
	ErrStale = errors.New("stored contact is newer")
)

// Record is what the local actor knows about one peer
type Record struct {
	PeerID       string `json:"peerId"`
	PublicKeyPEM string `json:"publicKey"`
	LastSeen     int64  `json:"lastSeen"` // Unix milliseconds
	Enabled      bool   `json:"enabled"`
	Acknowledged bool   `json:"acknowledged"`
}

// HasKey reports whether a public key is stored for the peer
func (r *Record) HasKey() bool {
	return r != nil && r.PublicKeyPEM != ""
}

// Store is the durable peerId -> Record mapping
type Store interface {
	// GetContact returns ErrNotFound when no record exists
	GetContact(ctx context.Context, peerID string) (*Record, error)
	// SaveContact never replaces a record with a larger LastSeen; it returns ErrStale instead
	SaveContact(ctx context.Context, record *Record) error
	ListContacts(ctx context.Context) ([]Record, error)
}
