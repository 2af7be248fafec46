package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"
)

// SessionKeySize is the AES-256 session key length in bytes
const SessionKeySize = 32

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateSessionKey reads a fresh AES-256 key from random
func GenerateSessionKey(random io.Reader) ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, err
	}
	return key, nil
}

// AESEncrypt encrypts data with AES-256-GCM, returning nonce || ciphertext
func AESEncrypt(random io.Reader, plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// AESDecrypt decrypts nonce || ciphertext produced by AESEncrypt
func AESDecrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Wipe zeroes key material once it is no longer needed
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
