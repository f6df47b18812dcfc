package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a simple TTL-based cache abstraction that can be backed
// by memory, Redis, PostgreSQL or any other KV store. A zero ttl stores the
// value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// HashKey derives a short, stable backend key from an arbitrary logical key.
// The namespace stays readable so operators can still scan by prefix.
func HashKey(namespace, raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	digest := hex.EncodeToString(sum[:16])
	namespace = strings.TrimSuffix(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		return digest
	}
	return namespace + ":" + digest
}
