// Package envelope implements the dual-recipient hybrid envelope.
//
// A fresh AES-256 session key seals the plaintext with AES-GCM. The session
// key is then wrapped twice with RSA-OAEP: once under the sender's own public
// key and once under the recipient's. Either party can later open the
// message with only its own private key, without knowing which role it had.
package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/ZentaChain/chatguard/pkg/crypto"
	"github.com/ZentaChain/chatguard/pkg/identity"
	"github.com/ZentaChain/chatguard/pkg/protocol"
)

var (
	ErrNoRecipientKey   = errors.New("recipient public key is nil")
	ErrNoIdentity       = errors.New("local identity is nil")
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
)

// Encode seals plaintext for sender and recipient.
// random supplies the session key and nonce; nil means crypto/rand.
func Encode(random io.Reader, plaintext []byte, sender *identity.Identity, recipient *rsa.PublicKey) (*protocol.Message, error) {
	if sender == nil || sender.PublicKey() == nil {
		return nil, ErrNoIdentity
	}
	if recipient == nil {
		return nil, ErrNoRecipientKey
	}
	if random == nil {
		random = rand.Reader
	}

	sessionKey, err := crypto.GenerateSessionKey(random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	defer crypto.Wipe(sessionKey)

	senderEnv, err := crypto.RSAEncrypt(sessionKey, sender.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("sender envelope: %w", err)
	}
	recipientEnv, err := crypto.RSAEncrypt(sessionKey, recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient envelope: %w", err)
	}

	ciphertext, err := crypto.AESEncrypt(random, plaintext, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal plaintext: %w", err)
	}

	return &protocol.Message{
		SenderEnvelope:    senderEnv,
		RecipientEnvelope: recipientEnv,
		Ciphertext:        ciphertext,
	}, nil
}

// Decode opens msg with the local private key.
//
// ok is false when neither envelope was made for local; that is an
// expected outcome, not an error. Once a session key is recovered any
// failure to open the ciphertext is ErrDecryptionFailed.
func Decode(msg *protocol.Message, local *identity.Identity) (plaintext []byte, ok bool, err error) {
	if local == nil || local.PrivateKey() == nil {
		return nil, false, ErrNoIdentity
	}
	if msg == nil {
		return nil, false, nil
	}

	priv := local.PrivateKey()
	sessionKey, ok := firstOf(
		tryDecrypt(msg.SenderEnvelope, priv),
		tryDecrypt(msg.RecipientEnvelope, priv),
	)
	if !ok {
		return nil, false, nil
	}
	defer crypto.Wipe(sessionKey)

	if len(sessionKey) != crypto.SessionKeySize {
		return nil, true, fmt.Errorf("%w: session key is %d bytes", ErrDecryptionFailed, len(sessionKey))
	}

	plaintext, err = crypto.AESDecrypt(msg.Ciphertext, sessionKey)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, true, nil
}

// attempt recovers a session key or reports that the envelope is not ours
type attempt func() ([]byte, bool)

// tryDecrypt unwraps one envelope. A wrong-key failure is ok=false.
func tryDecrypt(envelope []byte, priv *rsa.PrivateKey) attempt {
	return func() ([]byte, bool) {
		if len(envelope) == 0 {
			return nil, false
		}
		key, err := crypto.RSADecrypt(envelope, priv)
		if err != nil {
			return nil, false
		}
		return key, true
	}
}

// firstOf runs attempts in order and returns the first success
func firstOf(attempts ...attempt) ([]byte, bool) {
	for _, try := range attempts {
		if key, ok := try(); ok {
			return key, true
		}
	}
	return nil, false
}
