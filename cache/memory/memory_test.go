package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adeilh/rakhcache/cache"
)

func TestStoreSetGetDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("payload"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Get() = %q, want payload", got)
	}

	// Returned slices are copies.
	got[0] = 'X'
	again, _ := store.Get(ctx, "k")
	if string(again) != "payload" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStoreTTL(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "short", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(999 * time.Millisecond)
	if _, err := store.Get(ctx, "short"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	now = now.Add(time.Millisecond)
	if _, err := store.Get(ctx, "short"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() at expiry error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "forever"); err != nil {
		t.Fatalf("Get(forever) error = %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	_ = store.Set(ctx, "a", []byte("1"), time.Minute)
	_ = store.Set(ctx, "b", []byte("2"), time.Hour)
	now = now.Add(2 * time.Minute)

	if n := store.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestStoreContextCancellation(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "any", []byte("value"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
