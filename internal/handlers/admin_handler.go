package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"ticket-engine/internal/services"
	"ticket-engine/internal/store"
)

type AdminHandler struct {
	store      *store.Store
	sweeper    *services.ExpirySweeper
	reconciler *services.Reconciler
	relay      *services.OutboxRelay
	logger     *zap.Logger
}

func NewAdminHandler(st *store.Store, sweeper *services.ExpirySweeper, reconciler *services.Reconciler, relay *services.OutboxRelay, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		store:      st,
		sweeper:    sweeper,
		reconciler: reconciler,
		relay:      relay,
		logger:     logger.Named("admin_handler"),
	}
}

// RunSweep - Release expired and failed reservations now
func (h *AdminHandler) RunSweep(e *core.RequestEvent) error {
	stats, err := h.sweeper.Sweep(e.Request.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, stats)
}

// RunReconcile - Retry fulfillment of paid but unissued tickets now
func (h *AdminHandler) RunReconcile(e *core.RequestEvent) error {
	stats, err := h.reconciler.Reconcile(e.Request.Context())
	if err != nil {
		h.logger.Error("manual reconcile failed", zap.Error(err))
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, stats)
}

// DispatchOutbox - Deliver one batch of pending outbox messages now
func (h *AdminHandler) DispatchOutbox(e *core.RequestEvent) error {
	stats, err := h.relay.DispatchPending(e.Request.Context())
	if err != nil {
		h.logger.Error("manual outbox dispatch failed", zap.Error(err))
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, stats)
}

// GetOutboxStats - Outbox message counts by state
func (h *AdminHandler) GetOutboxStats(e *core.RequestEvent) error {
	stats, err := h.store.OutboxStats()
	if err != nil {
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, stats)
}
