package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"go.uber.org/zap"

	"ticket-engine/internal/services"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type PurchaseHandler struct {
	reservation *services.ReservationService
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewPurchaseHandler(reservation *services.ReservationService, logger *zap.Logger) *PurchaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseHandler{
		reservation: reservation,
		validate:    validator.New(),
		logger:      logger.Named("purchase_handler"),
	}
}

type PurchaseRequest struct {
	TicketTypeID   string `json:"ticketTypeId" validate:"required,max=32"`
	Phone          string `json:"phone" validate:"required,min=9,max=16"`
	HolderName     string `json:"holderName" validate:"omitempty,max=255"`
	HolderEmail    string `json:"holderEmail" validate:"omitempty,email"`
	HolderPhone    string `json:"holderPhone" validate:"omitempty,max=16"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=64"`
}

// CreatePurchase - Reserve a ticket and start payment
func (h *PurchaseHandler) CreatePurchase(e *core.RequestEvent) error {
	organizationID := e.Request.PathValue("organizationId")
	if organizationID == "" {
		return apis.NewBadRequestError("Organization ID required", nil)
	}

	var req PurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = e.Request.Header.Get(IdempotencyKeyHeader)
	}
	if err := h.validate.Struct(req); err != nil {
		return toAPIError(err)
	}

	ticket, err := h.reservation.InitiatePurchase(e.Request.Context(), services.PurchaseRequest{
		OrganizationID: organizationID,
		TicketTypeID:   req.TicketTypeID,
		Phone:          req.Phone,
		HolderName:     req.HolderName,
		HolderEmail:    req.HolderEmail,
		HolderPhone:    req.HolderPhone,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		apiErr := toAPIError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			h.logger.Error("purchase failed", zap.String("ticket_type_id", req.TicketTypeID), zap.Error(err))
		}
		return apiErr
	}

	return e.JSON(http.StatusCreated, map[string]any{
		"id":            ticket.ID,
		"paymentStatus": ticket.PaymentStatus,
		"status":        ticket.Status,
		"code":          ticket.IssuedCode(),
	})
}

// GetTicketStatus - Poll payment and issue state of a ticket
func (h *PurchaseHandler) GetTicketStatus(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")
	if ticketID == "" {
		return apis.NewBadRequestError("Ticket ID required", nil)
	}

	view, err := h.reservation.GetStatus(e.Request.Context(), ticketID)
	if err != nil {
		return toAPIError(err)
	}
	return e.JSON(http.StatusOK, view)
}
