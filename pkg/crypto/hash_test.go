package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/mr-tron/base58/base58"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string // BLAKE2b-256 hash in hex
	}{
		{
			name:     "empty input",
			input:    []byte{},
			expected: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		},
		{
			name:     "simple string",
			input:    []byte("hello world"),
			expected: "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610",
		},
		{
			name:  "arbitrary data",
			input: []byte("The quick brown fox jumps over the lazy dog"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := Hash(tt.input)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}

			if len(hash) != 32 {
				t.Errorf("Hash() length = %d, want 32", len(hash))
			}

			if tt.expected != "" {
				got := hex.EncodeToString(hash)
				if got != tt.expected {
					t.Errorf("Hash() = %s, want %s", got, tt.expected)
				}
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	key := testKey(t)

	fp, err := Fingerprint(&key.PublicKey)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}

	raw, err := base58.Decode(fp)
	if err != nil {
		t.Fatalf("Fingerprint() is not base58: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("Fingerprint() decodes to %d bytes, want 32", len(raw))
	}

	pemData, _ := ExportPublicKeyPEM(&key.PublicKey)
	fromPEM, err := FingerprintPEM(string(pemData))
	if err != nil {
		t.Fatalf("FingerprintPEM() error = %v", err)
	}
	if fromPEM != fp {
		t.Errorf("FingerprintPEM() = %s, want %s", fromPEM, fp)
	}

	other := testOtherKey(t)
	otherFP, _ := Fingerprint(&other.PublicKey)
	if otherFP == fp {
		t.Error("Fingerprint() identical for different keys")
	}
}

func TestFingerprintPEMInvalid(t *testing.T) {
	if _, err := FingerprintPEM("not a key"); err == nil {
		t.Error("FingerprintPEM() expected error for invalid PEM")
	}
}
