// Package identity owns the local actor's RSA keypair.
package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/protocol"
)

var (
	ErrNotFound            = errors.New("identity not found")
	ErrKeyGenerationFailed = errors.New("key generation failed")
	ErrIdentityMismatch    = errors.New("stored identity belongs to another id")
	ErrSelfContact         = errors.New("self contact rejected")
)

// Identity is the local actor's id and keypair. It never leaves the process.
type Identity struct {
	ID            string
	PublicKeyPEM  string
	PrivateKeyPEM string

	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
}

// Store persists the single local identity
type Store interface {
	// LoadIdentity returns ErrNotFound when no identity was saved yet
	LoadIdentity(ctx context.Context) (*Identity, error)
	SaveIdentity(ctx context.Context, id *Identity) error
}

// New builds an Identity from a generated private key
func New(id string, key *rsa.PrivateKey) (*Identity, error) {
	if err := protocol.ValidatePeerID(id); err != nil {
		return nil, err
	}
	privPEM, err := crypto.ExportPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	pubPEM, err := crypto.ExportPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:            id,
		PublicKeyPEM:  string(pubPEM),
		PrivateKeyPEM: string(privPEM),
		publicKey:     &key.PublicKey,
		privateKey:    key,
	}, nil
}

// FromPEM rebuilds an Identity loaded from a store
func FromPEM(id, publicKeyPEM, privateKeyPEM string) (*Identity, error) {
	priv, err := crypto.ImportPrivateKeyPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	pub, err := crypto.ImportPublicKeyPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
		return nil, fmt.Errorf("%w: public key does not match private key", crypto.ErrInvalidKey)
	}
	return &Identity{
		ID:            id,
		PublicKeyPEM:  publicKeyPEM,
		PrivateKeyPEM: privateKeyPEM,
		publicKey:     pub,
		privateKey:    priv,
	}, nil
}

// PublicKey returns the parsed public key
func (i *Identity) PublicKey() *rsa.PublicKey { return i.publicKey }

// PrivateKey returns the parsed private key
func (i *Identity) PrivateKey() *rsa.PrivateKey { return i.privateKey }

// Fingerprint returns the display fingerprint of the public key
func (i *Identity) Fingerprint() (string, error) {
	return crypto.Fingerprint(i.publicKey)
}
