// Package velocity tracks per-card transaction velocity.
package velocity

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWindow is the structuring-detection window.
const DefaultWindow = time.Hour

// Service counts recent transactions per card hash. The primary path is the
// cache's atomic windowed counter; the audit store serves as fallback when
// the cache is unavailable. Velocity is advisory: a failed count reads as
// zero and the evaluation proceeds.
type Service struct {
	cache  domain.DecisionCache
	repo   domain.Repository
	window time.Duration
}

// NewService creates a velocity service.
func NewService(cache domain.DecisionCache, repo domain.Repository, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		cache:  cache,
		repo:   repo,
		window: window,
	}
}

// Observe records a transaction for a card hash and returns the count seen
// in the current window, the new transaction included. An empty hash (card
// not present, e.g. bank transfer channels) counts as zero.
func (s *Service) Observe(ctx context.Context, panHash string) int64 {
	if panHash == "" {
		return 0
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, "pan:"+panHash, s.window)
		if err == nil {
			return count
		}
		slog.Warn("velocity counter unavailable, falling back to repository",
			"error", err)
	}

	if s.repo != nil {
		count, err := s.repo.CountTransactionsByPAN(ctx, panHash, time.Now().Add(-s.window))
		if err == nil {
			// The repository has not seen the current transaction yet.
			return count + 1
		}
		slog.Warn("velocity fallback query failed",
			"error", err)
	}

	return 0
}
