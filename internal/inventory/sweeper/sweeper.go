// Package sweeper runs the background reservation expiry sweep. Expired
// holds are routed through the reconciliation engine like any other
// resolution, never written to the summary directly.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/internal/observability"
	"github.com/shoplane/inventory-service/pkg/logger"
)

type Sweeper struct {
	repo      inventory.Repository
	uc        inventory.UseCase
	logger    logger.ZapLogger
	interval  time.Duration
	batchSize int
}

func NewSweeper(repo inventory.Repository, uc inventory.UseCase, log logger.ZapLogger, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		repo:      repo,
		uc:        uc,
		logger:    log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start loops until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting reservation expiry sweeper", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping reservation expiry sweeper")
			return
		case <-ticker.C:
			expired, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
			if expired > 0 {
				s.logger.Info("expired stale reservations", zap.Int("count", expired))
			}
		}
	}
}

// SweepOnce expires one batch of stale reservations and returns how many it
// transitioned. A reservation resolved by a racing caller between the scan
// and the resolution comes back as ErrAlreadyResolved and is skipped; that
// race is expected and not an error. A failure on one reservation never
// blocks the rest of the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	observability.SweepRuns.Inc()

	stale, err := s.repo.FindExpiredReservations(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rv := range stale {
		if _, err := s.uc.ExpireReservation(ctx, rv.ID); err != nil {
			if errors.Is(err, model.ErrAlreadyResolved) {
				continue
			}
			s.logger.Error("failed to expire reservation",
				zap.String("reservation_id", rv.ID),
				zap.String("product_id", rv.ProductID),
				zap.Error(err),
			)
			continue
		}
		expired++
		observability.SweepExpired.Inc()
	}
	return expired, nil
}
