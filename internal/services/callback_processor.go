package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

const releaseReasonPaymentFailed = "payment_failed"

// CallbackProcessor applies payment provider callbacks to tickets.
type CallbackProcessor struct {
	store            *store.Store
	registry         *HandlerRegistry
	releaseOnFailure bool
	clock            func() time.Time
	logger           *zap.Logger
}

type CallbackProcessorOption func(*CallbackProcessor)

// WithReleaseOnFailure cancels the reservation and returns its unit as soon
// as a failure callback arrives instead of leaving it to the sweeper.
func WithReleaseOnFailure(enabled bool) CallbackProcessorOption {
	return func(p *CallbackProcessor) {
		p.releaseOnFailure = enabled
	}
}

func NewCallbackProcessor(st *store.Store, registry *HandlerRegistry, logger *zap.Logger, opts ...CallbackProcessorOption) *CallbackProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &CallbackProcessor{
		store:    st,
		registry: registry,
		clock:    time.Now,
		logger:   logger.Named("callback"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleCallback records the payment outcome and, on success, runs the
// fulfillment handler. The payment state transition is a conditional update,
// so of two concurrent deliveries for the same correlation id only one has an
// effect; the other gets status.ErrDuplicateCallback.
//
// A fulfillment failure is returned wrapped in status.ErrFulfillmentHandler
// but the payment stays completed. The reconciler retries it.
func (p *CallbackProcessor) HandleCallback(ctx context.Context, cb *models.PaymentCallback) error {
	log := p.logger.With(zap.String("correlation_id", cb.CorrelationID), zap.Int("result_code", cb.ResultCode))

	metadata, err := cb.AuditMetadata()
	if err != nil {
		return fmt.Errorf("encode callback metadata: %w", err)
	}

	var payment *models.Payment
	err = p.store.RunInTransaction(ctx, func(tx *store.Store) error {
		ticket, err := tx.FindTicketByCorrelationID(cb.CorrelationID)
		if err != nil {
			if errors.Is(err, status.ErrTicketNotFound) {
				return status.ErrUnknownCallback
			}
			return err
		}
		log = log.With(zap.String("ticket_id", ticket.ID))

		target := models.PaymentFailed
		if cb.Succeeded() {
			target = models.PaymentCompleted
		}
		if !ticket.PaymentStatus.CanTransitionTo(target) {
			return status.ErrDuplicateCallback
		}

		if !cb.Succeeded() {
			return p.fail(ctx, tx, ticket, cb, metadata)
		}

		paidAt := p.clock()
		ok, err := tx.MarkPaymentCompleted(ctx, ticket.ID, cb.ReceiptNumber(), metadata, paidAt)
		if err != nil {
			return err
		}
		if !ok {
			return status.ErrDuplicateCallback
		}
		ticket.ReceiptNumber = cb.ReceiptNumber()
		ticket.PaymentStatus = models.PaymentCompleted
		ticket.PaidAt = &paidAt
		pay := models.PaymentFromTicket(ticket)
		payment = &pay
		return nil
	})

	switch {
	case errors.Is(err, status.ErrUnknownCallback):
		monitoring.TrackCallback("unknown")
		log.Warn("callback for unknown correlation id")
		return err
	case errors.Is(err, status.ErrDuplicateCallback):
		monitoring.TrackCallback("duplicate")
		log.Warn("duplicate callback ignored")
		return err
	case err != nil:
		monitoring.TrackCallback("error")
		log.Error("callback processing failed", zap.Error(err))
		return err
	case payment == nil:
		monitoring.TrackCallback("failed")
		log.Info("payment failed", zap.String("result_description", cb.ResultDescription))
		return nil
	}

	monitoring.TrackCallback("completed")
	log.Info("payment completed", zap.String("receipt_number", payment.ReceiptNumber))

	if err := p.store.RunInTransaction(ctx, func(tx *store.Store) error {
		return p.registry.Dispatch(ctx, tx, *payment)
	}); err != nil {
		monitoring.TrackFulfillment(string(payment.Kind), "error")
		log.Error("fulfillment failed, left for reconciliation", zap.Error(err))
		if !errors.Is(err, status.ErrFulfillmentHandler) {
			err = fmt.Errorf("%w: %v", status.ErrFulfillmentHandler, err)
		}
		return err
	}
	monitoring.TrackFulfillment(string(payment.Kind), "ok")
	return nil
}

func (p *CallbackProcessor) fail(ctx context.Context, tx *store.Store, ticket *models.Ticket, cb *models.PaymentCallback, metadata json.RawMessage) error {
	reason := cb.ResultDescription
	if reason == "" {
		reason = fmt.Sprintf("result code %d", cb.ResultCode)
	}
	ok, err := tx.MarkPaymentFailed(ctx, ticket.ID, reason, metadata)
	if err != nil {
		return err
	}
	if !ok {
		return status.ErrDuplicateCallback
	}
	if !p.releaseOnFailure {
		return nil
	}

	released, err := releaseReservation(ctx, tx, ticket, reason)
	if err != nil {
		return err
	}
	if released {
		monitoring.TrackReleased(releaseReasonPaymentFailed, 1)
	}
	return nil
}
