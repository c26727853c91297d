package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// deriveKey produces a deterministic 32-byte AES-256 key from the hostname and
// the data directory, so an apikeys.json copied to another machine or another
// data directory cannot be opened as-is.
func deriveKey(scope string) []byte {
	hostname, _ := os.Hostname()
	seed := fmt.Sprintf("localchat:%s:%s", hostname, scope)
	hash := sha256.Sum256([]byte(seed))
	return hash[:]
}

func newGCM(scope string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(scope))
	if err != nil {
		return nil, fmt.Errorf("cipher error: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM error: %w", err)
	}
	return aead, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns base64(nonce||ciphertext).
// Empty input stays empty.
func Seal(scope, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := newGCM(scope)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce error: %w", err)
	}
	return base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Open reverses Seal.
func Open(scope, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode error: %w", err)
	}
	aead, err := newGCM(scope)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt error: %w", err)
	}
	return string(plaintext), nil
}

// SealMap encrypts every value of m. Values that fail to encrypt are dropped
// and reported through the returned error.
func SealMap(scope string, m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	var firstErr error
	for k, v := range m {
		sealed, err := Seal(scope, v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("seal %s: %w", k, err)
			}
			continue
		}
		out[k] = sealed
	}
	return out, firstErr
}

// OpenMap decrypts every value of m. A value that does not decrypt is kept
// verbatim, which lets hand-edited plaintext files keep working.
func OpenMap(scope string, m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if plain, err := Open(scope, v); err == nil {
			out[k] = plain
		} else {
			out[k] = v
		}
	}
	return out
}
