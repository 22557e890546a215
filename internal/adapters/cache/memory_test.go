package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/cache"
)

func TestMemoryLockIsExclusiveUntilReleased(t *testing.T) {
	t.Parallel()
	c := cache.NewMemoryCache()
	ctx := context.Background()

	release, ok, err := c.TryLock(ctx, "settlement:lock:milestone:m1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.TryLock(ctx, "settlement:lock:milestone:m1", time.Minute); ok {
		t.Fatalf("expected second lock to be refused")
	}
	release(ctx)
	if _, ok, _ := c.TryLock(ctx, "settlement:lock:milestone:m1", time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestMemorySettingsCacheInvalidation(t *testing.T) {
	t.Parallel()
	c := cache.NewMemoryCache()
	ctx := context.Background()
	if err := c.Set(ctx, "influencer_fee_percentage", "10", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := c.Get(ctx, "influencer_fee_percentage"); !ok || v != "10" {
		t.Fatalf("unexpected cached value: %q ok=%v", v, ok)
	}
	if err := c.Delete(ctx, "influencer_fee_percentage"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "influencer_fee_percentage"); ok {
		t.Fatalf("expected cache miss after delete")
	}
}
