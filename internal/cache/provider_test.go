package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if _, err := p.Get(ctx, "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := p.Set(ctx, "key", []byte("payload"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("value = %q", got)
	}

	if err := p.Del(ctx, "key"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderTTL(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	if err := p.Set(ctx, "short", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "short"); err != nil {
		t.Fatalf("fresh entry missing: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := p.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()
	if err := p.Set(ctx, "key", []byte("x"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}
