package ratelimit

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestIngestLimiter(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewIngestLimiter(client, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "linkedin")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "linkedin")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "linkedin")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// A different source holds its own bucket.
	allowed, _, _ = bucket.Allow(ctx, "indeed")
	if !allowed {
		t.Fatalf("expected fresh source to be allowed")
	}

	// Note: Cannot test refill with miniredis.FastForward() because the Lua script
	// receives time from Go's time.Now(), not Redis's internal clock.
}

func TestAllowSurfacesRedisErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewIngestLimiter(client, 2, 1)
	mr.Close()

	// A broken Redis must come back as an error, not as a rate limit
	// rejection: the caller answers 503, not 429.
	allowed, _, err := bucket.Allow(context.Background(), "linkedin")
	if err == nil {
		t.Fatalf("expected error from unreachable redis, got allowed=%v", allowed)
	}
}
