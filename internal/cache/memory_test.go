package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL returned error: %v", err)
	}
	value, found, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !found || value != "v" {
		t.Fatalf("expected (v, true), got (%q, %v)", value, found)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStoreWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", "v", 4*time.Hour); err != nil {
		t.Fatalf("SetWithTTL returned error: %v", err)
	}

	now = now.Add(4*time.Hour - time.Second)
	if _, found, _ := store.Get(ctx, "k"); !found {
		t.Fatal("entry expired before its TTL elapsed")
	}

	now = now.Add(2 * time.Second)
	if _, found, _ := store.Get(ctx, "k"); found {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryStoreDeleteAbsentKey(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("deleting an absent key must not error, got %v", err)
	}
}
