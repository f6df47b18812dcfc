// Package redis implements cache.Store on go-redis so several gateway
// replicas can share fetched collections and token revocations.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/rakhcache/cache"
)

type Store struct {
	client    *goredis.Client
	scanCount int64
}

func NewStore(opts Options) *Store {
	opts.fill()
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		PoolSize:     opts.PoolSize,
	})
	return &Store{client: client, scanCount: opts.ScanCount}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, cache.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return payload, nil
}

// Set stores value. A non-positive ttl keeps it until deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.DeleteKeys(ctx, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// DeleteKeys removes keys with a single DEL and reports how many existed.
func (s *Store) DeleteKeys(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: del %d keys: %w", len(keys), err)
	}
	return n, nil
}

// DeletePrefix removes every key starting with prefix. Keys are collected
// with SCAN so the server is never blocked by KEYS.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis: scan %s*: %w", prefix, err)
	}

	var deleted int64
	for start := 0; start < len(keys); start += int(s.scanCount) {
		end := min(start+int(s.scanCount), len(keys))
		n, err := s.DeleteKeys(ctx, keys[start:end]...)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
