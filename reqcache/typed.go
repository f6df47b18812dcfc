package reqcache

import (
	"context"
	"fmt"
)

// FetchFunc is the typed form of Fetcher.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Fetch is Get for callers that know the value type stored under key.
func Fetch[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T], opts ...GetOption) (T, error) {
	var zero T
	if fetch == nil {
		return zero, ErrNilFetcher
	}
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) }, opts...)
	if err != nil {
		return zero, err
	}
	return as[T](key, v)
}

// Reload is the typed form of Cache.Reload.
func Reload[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T], opts ...GetOption) (T, error) {
	c.Refetch(key)
	return Fetch(ctx, c, key, fetch, opts...)
}

func as[T any](key string, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: key %q holds %T, want %T", ErrTypeMismatch, key, v, zero)
	}
	return t, nil
}
