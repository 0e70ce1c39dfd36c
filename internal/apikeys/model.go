// Package apikeys stores the API keys that admit callers to the HTTP
// transport. Persisted stores index keys by their BLAKE2b-256 digest and never
// hold the plaintext key.
package apikeys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("api key not found")

// keyPrefix marks generated keys so they are recognisable in logs and configs.
const keyPrefix = "agk_"

// APIKey is a stored credential. Key is populated only on the value returned
// from Create; lookups never expose the plaintext.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Key        string     `json:"key,omitempty"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Digest returns the hex BLAKE2b-256 digest under which key is stored.
func Digest(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random key with the agk_ prefix.
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}
