package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func TestGenerateSessionKey(t *testing.T) {
	k1, err := GenerateSessionKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateSessionKey() error = %v", err)
	}
	k2, _ := GenerateSessionKey(rand.Reader)

	if len(k1) != SessionKeySize {
		t.Errorf("GenerateSessionKey() length = %d, want %d", len(k1), SessionKeySize)
	}
	if bytes.Equal(k1, k2) {
		t.Error("GenerateSessionKey() produced identical keys")
	}
}

func TestGenerateSessionKeyShortRandom(t *testing.T) {
	_, err := GenerateSessionKey(bytes.NewReader(make([]byte, 8)))
	if err == nil {
		t.Error("GenerateSessionKey() expected error for exhausted random source")
	}
}

func TestAESEncryptDecrypt(t *testing.T) {
	key, _ := GenerateSessionKey(rand.Reader)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"text", []byte("hello")},
		{"empty", []byte{}},
		{"unicode", []byte("héllo wörld 👋")},
		{"large", bytes.Repeat([]byte("A"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := AESEncrypt(rand.Reader, tt.plaintext, key)
			if err != nil {
				t.Fatalf("AESEncrypt() error = %v", err)
			}

			opened, err := AESDecrypt(sealed, key)
			if err != nil {
				t.Fatalf("AESDecrypt() error = %v", err)
			}

			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("AESDecrypt() = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestAESDecryptTampered(t *testing.T) {
	key, _ := GenerateSessionKey(rand.Reader)
	sealed, _ := AESEncrypt(rand.Reader, []byte("integrity"), key)

	sealed[len(sealed)-1] ^= 0x01
	if _, err := AESDecrypt(sealed, key); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("AESDecrypt() tampered error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := AESDecrypt([]byte{1, 2, 3}, key); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("AESDecrypt() short error = %v, want ErrCiphertextTooShort", err)
	}

	other, _ := GenerateSessionKey(rand.Reader)
	sealed[len(sealed)-1] ^= 0x01
	if _, err := AESDecrypt(sealed, other); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("AESDecrypt() wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestAESInvalidKeySize(t *testing.T) {
	if _, err := AESEncrypt(rand.Reader, []byte("x"), make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("AESEncrypt() error = %v, want ErrInvalidKey", err)
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("Wipe() left %v", b)
	}
}
