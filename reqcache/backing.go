package reqcache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/adeilh/rakhcache/cache"
)

const defaultBackingPrefix = "rakh"

// Backing is a shared second tier consulted by fetchers before they hit the
// origin. Values are stored JSON-encoded under hashed keys. Store failures
// are logged and never fail a fetch.
type Backing struct {
	store  cache.Store
	prefix string
	log    log.Interface
}

// BackingOption configures a Backing.
type BackingOption func(*Backing)

// WithBackingPrefix sets the namespace prepended to every stored key.
func WithBackingPrefix(prefix string) BackingOption {
	return func(b *Backing) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithBackingLogger routes store warnings to l.
func WithBackingLogger(l log.Interface) BackingOption {
	return func(b *Backing) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBacking wraps store. A nil store yields a nil Backing, which Through
// treats as "no second tier".
func NewBacking(store cache.Store, opts ...BackingOption) *Backing {
	if store == nil {
		return nil
	}
	b := &Backing{store: store, prefix: defaultBackingPrefix, log: log.Log}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// StoreKey returns the backend key used for the logical key.
func (b *Backing) StoreKey(key string) string {
	return cache.HashKey(b.prefix, key)
}

// Invalidate removes the stored copy of key. Missing keys are not an error.
func (b *Backing) Invalidate(ctx context.Context, key string) error {
	if b == nil {
		return nil
	}
	if err := b.store.Delete(ctx, b.StoreKey(key)); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}
	return nil
}

type batchDeleter interface {
	DeleteKeys(ctx context.Context, keys ...string) (int64, error)
}

// InvalidateAll removes the stored copies of keys and reports how many
// existed. Stores that can delete in one round trip are asked to.
func (b *Backing) InvalidateAll(ctx context.Context, keys ...string) (int64, error) {
	if b == nil || len(keys) == 0 {
		return 0, nil
	}
	skeys := make([]string, len(keys))
	for i, k := range keys {
		skeys[i] = b.StoreKey(k)
	}
	if bd, ok := b.store.(batchDeleter); ok {
		return bd.DeleteKeys(ctx, skeys...)
	}

	var n int64
	for _, k := range skeys {
		err := b.store.Delete(ctx, k)
		switch {
		case err == nil:
			n++
		case !errors.Is(err, cache.ErrNotFound):
			return n, err
		}
	}
	return n, nil
}

// Through returns a fetcher that serves key from b when present and
// otherwise calls fetch and stores its result for ttl.
func Through[T any](b *Backing, key string, ttl time.Duration, fetch FetchFunc[T]) FetchFunc[T] {
	if b == nil || fetch == nil {
		return fetch
	}
	return func(ctx context.Context) (T, error) {
		skey := b.StoreKey(key)
		logger := b.log.WithFields(log.Fields{"key": key, "store_key": skey})

		raw, err := b.store.Get(ctx, skey)
		switch {
		case err == nil:
			var out T
			derr := json.Unmarshal(raw, &out)
			if derr == nil {
				return out, nil
			}
			logger.WithError(derr).Warn("discarding undecodable backing entry")
		case !errors.Is(err, cache.ErrNotFound):
			logger.WithError(err).Warn("backing read failed")
		}

		val, err := fetch(ctx)
		if err != nil {
			return val, err
		}

		payload, err := json.Marshal(val)
		if err != nil {
			logger.WithError(err).Warn("backing encode failed")
			return val, nil
		}
		var werr error
		if !WhileAttached(ctx, func() { werr = b.store.Set(ctx, skey, payload, ttl) }) {
			logger.Debug("fetch detached, backing write skipped")
			return val, nil
		}
		if werr != nil {
			logger.WithError(werr).Warn("backing write failed")
		}
		return val, nil
	}
}
