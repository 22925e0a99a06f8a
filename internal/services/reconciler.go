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
	DefaultReconcileInterval = 10 * time.Minute
	defaultReconcileBatch    = 100
)

type ReconcileStats struct {
	Scanned   int `json:"scanned"`
	Fulfilled int `json:"fulfilled"`
	Failed    int `json:"failed"`
}

// Reconciler re-runs fulfillment for tickets whose payment completed but
// which were never issued.
type Reconciler struct {
	store    *store.Store
	registry *HandlerRegistry
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewReconciler(st *store.Store, registry *HandlerRegistry, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    st,
		registry: registry,
		interval: interval,
		batch:    defaultReconcileBatch,
		logger:   logger.Named("reconciler"),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	tickets, err := r.store.FindUnfulfilledPayments(r.batch)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(tickets)

	for _, ticket := range tickets {
		if ctx.Err() != nil {
			break
		}
		if !ticket.AwaitingFulfillment() {
			continue
		}
		payment := models.PaymentFromTicket(ticket)
		err := r.store.RunInTransaction(ctx, func(tx *store.Store) error {
			return r.registry.Dispatch(ctx, tx, payment)
		})
		if err != nil {
			stats.Failed++
			monitoring.TrackFulfillment(string(payment.Kind), "error")
			r.logger.Error("reconcile fulfillment", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		stats.Fulfilled++
		monitoring.TrackFulfillment(string(payment.Kind), "reconciled")
	}

	if stats.Scanned > 0 {
		r.logger.Info("reconcile finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("fulfilled", stats.Fulfilled),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, ctx.Err()
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}
