// Package guard wires identity, contacts, envelopes and handshakes into one
// Engine that consumes and produces framed packet strings.
package guard

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ZentaChain/chatguard/pkg/config"
	"github.com/ZentaChain/chatguard/pkg/contacts"
	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/envelope"
	"github.com/ZentaChain/chatguard/pkg/handshake"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/ZentaChain/chatguard/pkg/protocol"
	"github.com/ZentaChain/chatguard/pkg/ratelimit"
)

var (
	ErrDisabled      = errors.New("chatguard is disabled")
	ErrNotRegistered = errors.New("no local identity registered")
)

// Result is the outcome of handling one inbound packet
type Result struct {
	Kind protocol.Kind

	// Message
	Plaintext []byte
	Addressed bool // false when neither envelope was ours

	// Handshake: framed acknowledgment to deliver, empty when dropped
	Reply string

	// Acknowledgment
	Accepted bool
}

// Engine is safe for concurrent use
type Engine struct {
	cfg        config.Config
	identities identity.Store
	dir        *contacts.Directory
	machine    *handshake.Machine
	limiter    *ratelimit.MapLimiter
	metrics    *Metrics

	now    func() time.Time
	random io.Reader
	keygen func(bits int) (*rsa.PrivateKey, error)

	mu    sync.RWMutex
	local *identity.Identity
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock for handshake timestamps and rate limiting
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandom sets the random source for session keys and nonces
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// WithMetrics sets the collectors the engine reports to
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithKeyGenerator replaces RSA key generation at registration
func WithKeyGenerator(gen func(bits int) (*rsa.PrivateKey, error)) Option {
	return func(e *Engine) { e.keygen = gen }
}

// New creates an Engine over the given stores
func New(cfg config.Config, identities identity.Store, store contacts.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		identities: identities,
		now:        time.Now,
		keygen:     crypto.GenerateRSAKeyPair,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	e.dir = contacts.NewDirectory(store, contacts.WithFreshnessPolicy(cfg.Freshness))
	e.machine = handshake.NewMachine(e.dir, handshake.WithClock(func() time.Time { return e.now() }))
	e.limiter = ratelimit.New(cfg.HandshakeRate, cfg.HandshakeBurst, 0)
	return e
}

// Register loads or creates the local identity for localID
func (e *Engine) Register(ctx context.Context, localID string) (*identity.Identity, error) {
	if !e.cfg.Enabled {
		return nil, ErrDisabled
	}

	id, err := identity.Ensure(ctx, localID, e.identities, e.dir,
		identity.WithRSABits(e.cfg.RSABits),
		identity.WithClock(e.now),
		identity.WithKeyGenerator(e.keygen),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.local = id
	e.mu.Unlock()
	return id, nil
}

// Identity returns the registered local identity
func (e *Engine) Identity() (*identity.Identity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.local == nil {
		return nil, ErrNotRegistered
	}
	return e.local, nil
}

// Directory exposes the contact directory
func (e *Engine) Directory() *contacts.Directory {
	return e.dir
}

// State reports the handshake state of peerID
func (e *Engine) State(ctx context.Context, peerID string) (handshake.State, error) {
	return e.machine.State(ctx, peerID)
}

// Handshake returns a framed handshake announcing the local key
func (e *Engine) Handshake() (string, error) {
	local, err := e.Identity()
	if err != nil {
		return "", err
	}
	return e.machine.CreateHandshake(local).Encode()
}

// Send seals plaintext for peerID and returns the framed message.
// ok is false when no public key is stored for peerID.
func (e *Engine) Send(ctx context.Context, peerID string, plaintext []byte) (string, bool, error) {
	local, err := e.Identity()
	if err != nil {
		return "", false, err
	}

	rec, found, err := e.dir.Get(ctx, peerID)
	if err != nil {
		return "", false, err
	}
	if !found || !rec.HasKey() {
		e.metrics.Unknown.Inc()
		return "", false, nil
	}

	recipient, err := crypto.ImportPublicKeyPEM([]byte(rec.PublicKeyPEM))
	if err != nil {
		return "", false, fmt.Errorf("stored key for %s: %w", peerID, err)
	}
	if !rec.Acknowledged {
		// Acknowledgment is advisory; sending does not wait for it.
		log.Printf("⚠️  Sending to %s before its handshake was acknowledged", peerID)
	}

	msg, err := envelope.Encode(e.random, plaintext, local, recipient)
	if err != nil {
		return "", false, err
	}
	text, err := msg.Encode()
	if err != nil {
		return "", false, err
	}

	e.metrics.Encoded.Inc()
	return text, true, nil
}

// Handle parses text once and dispatches on the packet kind.
// Text that is not a packet returns protocol.ErrUnknownKind.
func (e *Engine) Handle(ctx context.Context, text string) (Result, error) {
	local, err := e.Identity()
	if err != nil {
		return Result{}, err
	}

	pkt, err := protocol.Parse(text)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnknownKind) {
			e.metrics.ParseErrors.Inc()
		}
		return Result{}, err
	}

	switch p := pkt.(type) {
	case *protocol.Message:
		return e.handleMessage(p, local)
	case *protocol.Handshake:
		return e.handleHandshake(ctx, p, local)
	case *protocol.Acknowledgment:
		return e.handleAcknowledgment(ctx, p)
	default:
		return Result{}, protocol.ErrUnknownKind
	}
}

func (e *Engine) handleMessage(msg *protocol.Message, local *identity.Identity) (Result, error) {
	res := Result{Kind: protocol.KindMessage}
	kind := protocol.KindMessage.String()

	plaintext, ok, err := envelope.Decode(msg, local)
	switch {
	case err != nil:
		e.metrics.packet(kind, OutcomeFailed)
		log.Printf("❌ Message decryption failed: %v", err)
		res.Addressed = ok
		return res, err
	case !ok:
		e.metrics.packet(kind, OutcomeNotAddressed)
		return res, nil
	}

	e.metrics.packet(kind, OutcomeDecoded)
	res.Plaintext = plaintext
	res.Addressed = true
	return res, nil
}

func (e *Engine) handleHandshake(ctx context.Context, hs *protocol.Handshake, local *identity.Identity) (Result, error) {
	res := Result{Kind: protocol.KindHandshake}
	kind := protocol.KindHandshake.String()

	if hs.PeerID == local.ID {
		e.metrics.packet(kind, OutcomeSelf)
		return res, nil
	}
	if !e.limiter.Allow(hs.PeerID, e.now()) {
		e.metrics.packet(kind, OutcomeLimited)
		log.Printf("⏳ Handshake from %s rate limited", hs.PeerID)
		return res, nil
	}

	ack, err := e.machine.ReceiveHandshake(ctx, hs, local)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidKey) {
			e.metrics.packet(kind, OutcomeInvalid)
		}
		return res, err
	}
	if ack == nil {
		e.metrics.packet(kind, OutcomeStale)
		log.Printf("🔁 Ignoring stale handshake from %s (ts=%d)", hs.PeerID, hs.Timestamp)
		return res, nil
	}

	reply, err := ack.Encode()
	if err != nil {
		return res, err
	}
	e.metrics.packet(kind, OutcomeAccepted)
	log.Printf("🤝 Accepted handshake from %s", hs.PeerID)
	res.Reply = reply
	return res, nil
}

func (e *Engine) handleAcknowledgment(ctx context.Context, ack *protocol.Acknowledgment) (Result, error) {
	res := Result{Kind: protocol.KindAcknowledgment}
	kind := protocol.KindAcknowledgment.String()

	accepted, err := e.machine.ReceiveAcknowledgment(ctx, ack)
	if err != nil {
		return res, err
	}
	if accepted {
		e.metrics.packet(kind, OutcomeAccepted)
	} else {
		e.metrics.packet(kind, OutcomeIgnored)
	}
	res.Accepted = accepted
	return res, nil
}
