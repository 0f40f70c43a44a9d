package velocity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
)

type failingCache struct {
	*cache.LRUCache
}

func (f *failingCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("cache down")
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	t.Run("counts within window", func(t *testing.T) {
		s := NewService(cache.NewLRUCache(100), nil, time.Hour)

		for want := int64(1); want <= 3; want++ {
			if got := s.Observe(ctx, "hash-a"); got != want {
				t.Errorf("Observe = %d, want %d", got, want)
			}
		}
	})

	t.Run("cards are independent", func(t *testing.T) {
		s := NewService(cache.NewLRUCache(100), nil, time.Hour)

		_ = s.Observe(ctx, "hash-a")
		_ = s.Observe(ctx, "hash-a")
		if got := s.Observe(ctx, "hash-b"); got != 1 {
			t.Errorf("Observe = %d, want 1 for a fresh card", got)
		}
	})

	t.Run("empty hash counts zero", func(t *testing.T) {
		s := NewService(cache.NewLRUCache(100), nil, time.Hour)
		if got := s.Observe(ctx, ""); got != 0 {
			t.Errorf("Observe = %d, want 0", got)
		}
	})

	t.Run("cache failure without fallback reads zero", func(t *testing.T) {
		s := NewService(&failingCache{cache.NewLRUCache(100)}, nil, time.Hour)
		if got := s.Observe(ctx, "hash-a"); got != 0 {
			t.Errorf("Observe = %d, want 0 when no data source is available", got)
		}
	})

	t.Run("nil cache and repo", func(t *testing.T) {
		s := NewService(nil, nil, 0)
		if got := s.Observe(ctx, "hash-a"); got != 0 {
			t.Errorf("Observe = %d, want 0", got)
		}
	})
}
