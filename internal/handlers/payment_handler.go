package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"ticket-engine/internal/services/gateway"
	"ticket-engine/internal/status"
	"ticket-engine/models"
)

const (
	maxCallbackBody        = 64 << 10
	defaultCallbackTimeout = 20 * time.Second
)

// CallbackHandler applies a parsed provider callback.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb *models.PaymentCallback) error
}

type PaymentHandler struct {
	gateway   gateway.Gateway
	processor CallbackHandler
	timeout   time.Duration
	inflight  sync.WaitGroup
	logger    *zap.Logger
}

func NewPaymentHandler(gw gateway.Gateway, processor CallbackHandler, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		gateway:   gw,
		processor: processor,
		timeout:   defaultCallbackTimeout,
		logger:    logger.Named("payment_handler"),
	}
}

// PaymentCallback - Provider webhook. The payload is parsed and acknowledged
// right away; the callback is applied in the background and its outcome is
// logged and counted.
func (h *PaymentHandler) PaymentCallback(e *core.RequestEvent) error {
	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxCallbackBody))
	if err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	cb, err := h.gateway.ParseCallback(body)
	if err != nil {
		h.logger.Warn("unparseable payment callback", zap.Int("bytes", len(body)), zap.Error(err))
		return apis.NewBadRequestError("Invalid callback payload", nil)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.Request.Context()), h.timeout)
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer cancel()
		h.process(ctx, cb)
	}()

	return e.JSON(http.StatusOK, h.gateway.Acknowledgement())
}

func (h *PaymentHandler) process(ctx context.Context, cb *models.PaymentCallback) {
	err := h.processor.HandleCallback(ctx, cb)
	if err == nil || errors.Is(err, status.ErrUnknownCallback) || errors.Is(err, status.ErrDuplicateCallback) {
		return
	}
	h.logger.Error("payment callback not fully processed",
		zap.String("correlation_id", cb.CorrelationID),
		zap.Error(err),
	)
}

// Wait blocks until every accepted callback has been processed.
func (h *PaymentHandler) Wait() {
	h.inflight.Wait()
}

type SimulateCallbackRequest struct {
	CorrelationID     string `json:"correlationId"`
	ResultCode        int    `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
	ReceiptNumber     string `json:"receiptNumber"`
}

// SimulateCallback - Development only: apply a callback without a provider and
// report the outcome
func (h *PaymentHandler) SimulateCallback(e *core.RequestEvent) error {
	var req SimulateCallbackRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.CorrelationID == "" {
		return apis.NewBadRequestError("correlationId required", nil)
	}

	cb := &models.PaymentCallback{
		CorrelationID:     req.CorrelationID,
		ResultCode:        req.ResultCode,
		ResultDescription: req.ResultDescription,
	}
	if req.ReceiptNumber != "" {
		cb.MetadataItems = []models.MetadataItem{{Name: "ReceiptNumber", Value: req.ReceiptNumber}}
	}

	if err := h.processor.HandleCallback(e.Request.Context(), cb); err != nil {
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Callback applied"})
}
