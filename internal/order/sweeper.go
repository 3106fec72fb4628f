package order

import (
	"context"
	"time"

	"bilimpay-be/internal/idempotency"
	"bilimpay-be/internal/logger"

	"go.uber.org/zap"
)

// Sweeper expires stale pending orders and trims the dedupe tables. Every
// transition it makes is status-guarded, so concurrent sweeper instances
// only produce redundant no-ops, never duplicate side effects.
type Sweeper struct {
	repo     Repository
	guard    idempotency.Guard
	ttl      time.Duration
	window   time.Duration
	interval time.Duration
}

func NewSweeper(repo Repository, guard idempotency.Guard, ttl, window, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		guard:    guard,
		ttl:      ttl,
		window:   window,
		interval: interval,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.L().Info("expiry sweeper started",
		zap.Duration("ttl", s.ttl),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.L().Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	log := logger.L().With(zap.String("method", "SweepOnce"))

	now := time.Now()
	expired, err := s.repo.ExpirePendingBefore(ctx, now.Add(-s.ttl))
	if err != nil {
		log.Error("failed to expire pending orders", zap.Error(err))
	} else if expired > 0 {
		log.Info("expired stale pending orders", zap.Int64("count", expired))
	}

	// Dedupe rows must outlive both the order TTL and the dedupe window,
	// otherwise an active creation binding could be purged early.
	retention := s.ttl
	if s.window > retention {
		retention = s.window
	}
	if err := s.guard.Purge(ctx, now.Add(-retention)); err != nil {
		log.Error("failed to purge dedupe tables", zap.Error(err))
	}
}
