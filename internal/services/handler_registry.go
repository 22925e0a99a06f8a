package services

import (
	"context"
	"fmt"
	"sort"

	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
)

// FulfillmentHandler completes whatever a payment paid for. It runs inside the
// transaction bound to tx and must be safe to run more than once for the same
// payment.
type FulfillmentHandler interface {
	Kind() models.PayableKind
	OnPaymentFulfilled(ctx context.Context, tx *store.Store, payment models.Payment) error
}

// HandlerRegistry maps payable kinds to their handler. It is built once at
// startup and read-only afterwards.
type HandlerRegistry struct {
	handlers map[models.PayableKind]FulfillmentHandler
}

func NewHandlerRegistry(handlers ...FulfillmentHandler) (*HandlerRegistry, error) {
	r := &HandlerRegistry{handlers: make(map[models.PayableKind]FulfillmentHandler, len(handlers))}
	for _, h := range handlers {
		if _, exists := r.handlers[h.Kind()]; exists {
			return nil, fmt.Errorf("duplicate fulfillment handler for %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

func (r *HandlerRegistry) Lookup(kind models.PayableKind) (FulfillmentHandler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", status.ErrPayableKindUnknown, kind)
	}
	return h, nil
}

// Dispatch runs the handler for payment.Kind. Handler errors are wrapped with
// status.ErrFulfillmentHandler.
func (r *HandlerRegistry) Dispatch(ctx context.Context, tx *store.Store, payment models.Payment) error {
	h, err := r.Lookup(payment.Kind)
	if err != nil {
		return err
	}
	if err := h.OnPaymentFulfilled(ctx, tx, payment); err != nil {
		return fmt.Errorf("%w: %s %s: %v", status.ErrFulfillmentHandler, payment.Kind, payment.PayableID, err)
	}
	return nil
}

func (r *HandlerRegistry) Kinds() []models.PayableKind {
	kinds := make([]models.PayableKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
