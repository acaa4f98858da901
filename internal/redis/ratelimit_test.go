package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewFromAddr(context.Background(), mr.Addr(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFromAddr: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: limit, Window: window})
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := rl.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		wantRemaining := 3 - (i + 1)
		if result.Remaining != wantRemaining {
			t.Errorf("request %d: remaining = %d, want %d", i, result.Remaining, wantRemaining)
		}
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := rl.Allow(ctx, "user-1"); err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
	}

	result, err := rl.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Fatal("third request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
	if !result.ResetAt.After(time.Now()) {
		t.Error("ResetAt should be in the future")
	}
}

func TestRateLimiterSeparateKeys(t *testing.T) {
	rl := setupTestRateLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if result, _ := rl.Allow(ctx, "ip:10.0.0.1"); !result.Allowed {
		t.Fatal("first key should be allowed")
	}
	if result, _ := rl.Allow(ctx, "ip:10.0.0.1"); result.Allowed {
		t.Fatal("first key should be exhausted")
	}
	if result, _ := rl.Allow(ctx, "ip:10.0.0.2"); !result.Allowed {
		t.Fatal("second key has its own bucket")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewFromAddr(context.Background(), mr.Addr(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFromAddr: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 1, Window: 50 * time.Millisecond})
	ctx := context.Background()

	if result, _ := rl.Allow(ctx, "user-1"); !result.Allowed {
		t.Fatal("first request should be allowed")
	}
	if result, _ := rl.Allow(ctx, "user-1"); result.Allowed {
		t.Fatal("second request should be blocked")
	}

	// Entries outside the sliding window are pruned on the next check.
	time.Sleep(60 * time.Millisecond)
	if result, _ := rl.Allow(ctx, "user-1"); !result.Allowed {
		t.Fatal("request after the window elapsed should be allowed")
	}
}
