package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the expiry sweep once an hour.
const DefaultSweepSchedule = "@every 1h"

// Sweeper drops sessions that have been idle longer than the TTL.
type Sweeper struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewSweeper(store Store, ttl time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, ttl: ttl, logger: logger}
}

// Sweep runs one pass and returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	pruned, err := s.store.PruneExpired(ctx, s.ttl)
	if err != nil {
		s.logger.Error("Failed to prune expired sessions", zap.Error(err))
		return 0
	}
	if pruned > 0 {
		s.logger.Info("Pruned expired sessions", zap.Int("count", pruned), zap.Duration("ttl", s.ttl))
	}
	return pruned
}

// Schedule registers the sweep on c. Each run uses ctx.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, schedule string) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() { s.Sweep(ctx) })
}
