package storage

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ZentaChain/chatguard/pkg/crypto"
)

// PBKDF2Iterations for the at-rest key
const PBKDF2Iterations = 100000

// deriveKey derives the at-rest AES-256 key from the password and per-database salt
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, crypto.SessionKeySize, sha256.New)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
