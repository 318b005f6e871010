package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

// testRule returns a rule with a unique key prefix so runs don't interfere.
func testRule(t *testing.T, limit int) Rule {
	return Rule{
		Key:    fmt.Sprintf("rl:test:%s:%d:", t.Name(), time.Now().UnixNano()),
		Limit:  limit,
		Window: time.Minute,
	}
}

func TestLimiterAllowUpToLimit(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	rule := testRule(t, 3)
	ctx := context.Background()

	for i := 0; i < rule.Limit; i++ {
		allowed, err := limiter.Allow(ctx, "u1", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Fatal("request over the limit should be denied")
	}
}

func TestLimiterIsolatesIdentifiers(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	rule := testRule(t, 1)
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "u1", rule); !allowed {
		t.Fatal("u1 first request should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "u1", rule); allowed {
		t.Fatal("u1 second request should be denied")
	}
	if allowed, _ := limiter.Allow(ctx, "u2", rule); !allowed {
		t.Fatal("u2 should not be affected by u1's limit")
	}
}

func TestLimiterRemaining(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	rule := testRule(t, 5)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("expected full limit before any request, got %d", remaining)
	}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "u1", rule); err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
	}

	remaining, err = limiter.Remaining(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining, got %d", remaining)
	}
}
