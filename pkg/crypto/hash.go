package crypto

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) ([]byte, error) {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	hash.Write(data)
	return hash.Sum(nil), nil
}

// Fingerprint returns base58(BLAKE2b-256(PKIX DER)) of a public key.
// Two parties compare fingerprints out of band to confirm a handshake key.
func Fingerprint(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", ErrInvalidKey
	}
	sum, err := Hash(der)
	if err != nil {
		return "", err
	}
	return base58.Encode(sum), nil
}

// FingerprintPEM is Fingerprint for a PEM encoded public key
func FingerprintPEM(pemData string) (string, error) {
	key, err := ImportPublicKeyPEM([]byte(pemData))
	if err != nil {
		return "", err
	}
	return Fingerprint(key)
}
