package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

const (
	DefaultReservationTTL = 30 * time.Minute
	DefaultSweepInterval  = 5 * time.Minute
	defaultSweepBatch     = 200

	releaseReasonExpired = "expired"
)

type SweepStats struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ExpirySweeper cancels abandoned and failed reservations and returns their
// units to inventory.
type ExpirySweeper struct {
	store    *store.Store
	ttl      time.Duration
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

func NewExpirySweeper(st *store.Store, ttl, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirySweeper{
		store:    st,
		ttl:      ttl,
		interval: interval,
		batch:    defaultSweepBatch,
		clock:    time.Now,
		logger:   logger.Named("sweeper"),
	}
}

// Sweep releases one batch. Each ticket is released in its own transaction;
// a failure is logged and the sweep moves on.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	cutoff := s.clock().Add(-s.ttl)
	tickets, err := s.store.FindReleasableReservations(cutoff, s.batch)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(tickets)

	for _, ticket := range tickets {
		if ctx.Err() != nil {
			break
		}
		released, err := s.release(ctx, ticket)
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Error("release reservation",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_type_id", ticket.TicketTypeID),
				zap.Error(err),
			)
		case released:
			stats.Released++
		default:
			stats.Skipped++
		}
	}

	monitoring.TrackReleased(releaseReasonExpired, stats.Released)
	if stats.Scanned > 0 {
		s.logger.Info("sweep finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("released", stats.Released),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, ctx.Err()
}

func (s *ExpirySweeper) release(ctx context.Context, ticket *models.Ticket) (bool, error) {
	reason := "reservation expired"
	if ticket.PaymentStatus == models.PaymentFailed {
		reason = "payment failed"
	}

	var released bool
	err := s.store.RunInTransaction(ctx, func(tx *store.Store) error {
		var err error
		released, err = releaseReservation(ctx, tx, ticket, reason)
		return err
	})
	return released, err
}

// releaseReservation cancels a reserved ticket and returns its unit. Only the
// caller that wins the cancel claim decrements sold.
func releaseReservation(ctx context.Context, tx *store.Store, ticket *models.Ticket, reason string) (bool, error) {
	ok, err := tx.CancelReservation(ctx, ticket.ID, reason)
	if err != nil || !ok {
		return false, err
	}
	if _, err := tx.ReleaseUnit(ctx, ticket.TicketTypeID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("ttl", s.ttl), zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
