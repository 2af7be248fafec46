// Package handshake runs the per-peer key announcement protocol.
//
// Per peer the state moves Unknown -> PendingAcknowledgment -> Acknowledged.
// A handshake carrying a new key moves the peer back to PendingAcknowledgment.
// State lives in the contact directory; Machine itself holds none.
package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/ZentaChain/chatguard/pkg/protocol"
)

// State is the trust state of one peer
type State int

const (
	StateUnknown State = iota
	StatePendingAcknowledgment
	StateAcknowledged
)

func (s State) String() string {
	switch s {
	case StatePendingAcknowledgment:
		return "pending"
	case StateAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Machine creates and consumes handshake and acknowledgment packets
type Machine struct {
	dir *contacts.Directory
	now func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithClock sets the clock used for handshake timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine over dir
func NewMachine(dir *contacts.Directory, opts ...Option) *Machine {
	m := &Machine{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateHandshake announces the local id and public key
func (m *Machine) CreateHandshake(local *identity.Identity) *protocol.Handshake {
	return &protocol.Handshake{
		Timestamp:    m.now().UnixMilli(),
		PeerID:       local.ID,
		PublicKeyPEM: local.PublicKeyPEM,
	}
}

// ReceiveHandshake stores the announced key and returns the acknowledgment to send.
//
// It returns nil without error when the handshake is our own or when the
// directory rejects it as stale; a stale handshake gets no reply.
func (m *Machine) ReceiveHandshake(ctx context.Context, pkt *protocol.Handshake, local *identity.Identity) (*protocol.Acknowledgment, error) {
	if pkt.PeerID == local.ID {
		return nil, nil
	}
	pub, err := crypto.ImportPublicKeyPEM([]byte(pkt.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("handshake from %s: %w", pkt.PeerID, err)
	}
	// smaller moduli cannot carry an OAEP-SHA256 wrapped session key safely
	if bits := pub.N.BitLen(); bits < crypto.MinRSABits {
		return nil, fmt.Errorf("handshake from %s: %w: %w: %d bits", pkt.PeerID, crypto.ErrInvalidKey, crypto.ErrKeyTooSmall, bits)
	}

	candidate := contacts.Record{
		PublicKeyPEM: pkt.PublicKeyPEM,
		LastSeen:     pkt.Timestamp,
		Enabled:      true,
		Acknowledged: false,
	}
	accepted, err := m.dir.Upsert(ctx, pkt.PeerID, candidate)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, nil
	}
	return CreateAcknowledgment(pkt.PeerID), nil
}

// CreateAcknowledgment confirms acceptance of peerID's handshake
func CreateAcknowledgment(peerID string) *protocol.Acknowledgment {
	return &protocol.Acknowledgment{PeerID: peerID}
}

// ReceiveAcknowledgment marks the named peer acknowledged.
// A peer without a stored key is not acknowledged and false is returned.
func (m *Machine) ReceiveAcknowledgment(ctx context.Context, pkt *protocol.Acknowledgment) (bool, error) {
	return m.dir.MarkAcknowledged(ctx, pkt.PeerID)
}

// State reports where peerID is in the handshake
func (m *Machine) State(ctx context.Context, peerID string) (State, error) {
	rec, found, err := m.dir.Get(ctx, peerID)
	if err != nil {
		return StateUnknown, err
	}
	switch {
	case !found || !rec.HasKey():
		return StateUnknown, nil
	case rec.Acknowledged:
		return StateAcknowledged, nil
	default:
		return StatePendingAcknowledgment, nil
	}
}
