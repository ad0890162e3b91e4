package analytics

import (
	"context"
	"testing"

	"github.com/marketpulse/transaction-analytics/pkg/config"
)

func TestViewCacheComputesDirectlyWithoutRedis(t *testing.T) {
	c := NewViewCache(nil, config.RedisConfig{}, nil)

	calls := 0
	data, hit, err := c.GetOrCompute(context.Background(), "zone-leaderboard", func() ([]byte, error) {
		calls++
		return []byte(`{"data":[]}`), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if hit {
		t.Error("hit = true, want false without redis")
	}
	if string(data) != `{"data":[]}` {
		t.Errorf("data = %s, want computed payload", data)
	}
	if calls != 1 {
		t.Errorf("compute calls = %d, want 1", calls)
	}
}

func TestViewCacheInvalidateWithoutRedis(t *testing.T) {
	c := NewViewCache(nil, config.RedisConfig{}, nil)
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate() without redis: %v", err)
	}

	var missing *ViewCache
	if err := missing.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate() on nil cache: %v", err)
	}
}
