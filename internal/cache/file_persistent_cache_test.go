package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFilePersistentCache_SetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache := NewFilePersistentCache(time.Minute, path, nil)
	ctx := context.Background()

	if err := cache.Set(ctx, "plan", "raw plan text"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, "plan")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "raw plan text" {
		t.Errorf("expected 'raw plan text', got %v", got)
	}

	if _, err := cache.Get(ctx, "missing"); err == nil {
		t.Error("expected error for missing key, got nil")
	}
}

func TestFilePersistentCache_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	first := NewFilePersistentCache(time.Minute, path, nil)
	if err := first.Set(ctx, "plan", "persisted"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := NewFilePersistentCache(time.Minute, path, nil)
	got, err := second.Get(ctx, "plan")
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if got != "persisted" {
		t.Errorf("expected 'persisted', got %v", got)
	}
}

func TestFilePersistentCache_Expiration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache := NewFilePersistentCache(10*time.Millisecond, path, nil)
	ctx := context.Background()

	if err := cache.Set(ctx, "plan", "short lived"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := cache.Get(ctx, "plan"); err == nil {
		t.Error("expected error for expired item, got nil")
	}
}

func TestFilePersistentCache_ClosePersistsAndStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.json")
	cache := NewFilePersistentCache(1*time.Second, path, &StdLogger{})
	ctx := context.Background()

	if err := cache.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	select {
	case <-cache.done:
	default:
		t.Error("expected the cleanup stop channel to be closed")
	}

	reopened := NewFilePersistentCache(1*time.Second, path, &StdLogger{})
	defer reopened.Close()
	got, err := reopened.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != "v" {
		t.Errorf("expected persisted value, got %v", got)
	}
}
