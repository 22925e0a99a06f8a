package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/utils"
)

const (
	DefaultQRBaseURL = "https://api.qrserver.com/v1/create-qr-code/"

	maxCodeAttempts = 5
)

// ArtifactURL builds the scannable-code URL for a ticket code. The same code
// always yields the same URL.
func ArtifactURL(baseURL, code string) string {
	if baseURL == "" {
		baseURL = DefaultQRBaseURL
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "size=300x300&data=" + url.QueryEscape(code)
}

// TicketFulfillment issues tickets once their payment has settled.
type TicketFulfillment struct {
	qrBaseURL string
	newCode   func() (string, error)
	clock     func() time.Time
	logger    *zap.Logger
}

func NewTicketFulfillment(qrBaseURL string, logger *zap.Logger) *TicketFulfillment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketFulfillment{
		qrBaseURL: qrBaseURL,
		newCode:   func() (string, error) { return utils.GenerateTicketCode(utils.TicketCodeLength) },
		clock:     time.Now,
		logger:    logger.Named("fulfillment"),
	}
}

func (h *TicketFulfillment) Kind() models.PayableKind {
	return models.PayableTicket
}

// OnPaymentFulfilled issues the code, marks the ticket valid and records the
// artifact job and ticket_issued trigger in the outbox. Running it again for an
// already valid ticket changes nothing.
func (h *TicketFulfillment) OnPaymentFulfilled(ctx context.Context, tx *store.Store, payment models.Payment) error {
	ticket, err := tx.FindTicket(payment.PayableID)
	if err != nil {
		return err
	}

	switch ticket.Status {
	case models.TicketValid, models.TicketUsed:
		h.logger.Debug("ticket already fulfilled", zap.String("ticket_id", ticket.ID))
		return nil
	case models.TicketReserved:
	default:
		return fmt.Errorf("ticket %s is %s", ticket.ID, ticket.Status)
	}

	now := h.clock()
	code, qrURL, err := h.issue(ctx, tx, ticket.ID, now)
	if err != nil {
		return err
	}
	if code == "" {
		return nil
	}

	event, err := tx.FindEvent(ticket.EventID)
	if err != nil {
		return err
	}

	if event.GeneratesHypeCard() {
		job := models.ArtifactJob{
			TicketID:   ticket.ID,
			TemplateID: event.HypeCardTemplate,
			InputData: map[string]any{
				"holder_name": ticket.HolderName,
				"event_name":  event.Name,
				"venue":       event.Venue,
				"ticket_code": code,
				"qr_code_url": qrURL,
			},
		}
		if _, err := tx.EnqueueOutbox(ctx, models.OutboxArtifactJob, models.ArtifactDedupKey(ticket.ID), job); err != nil {
			return err
		}
	}

	trigger := models.Trigger{
		Name:      models.TriggerTicketIssued,
		TenantID:  ticket.OrganizationID,
		ContactID: ticket.ContactID,
		Context: map[string]any{
			"ticket_id":   ticket.ID,
			"ticket_code": code,
			"qr_code_url": qrURL,
			"event_id":    event.ID,
			"event_name":  event.Name,
			"amount":      ticket.Amount.String(),
		},
	}
	if _, err := tx.EnqueueOutbox(ctx, models.OutboxTrigger, models.TriggerDedupKey(trigger.Name, ticket.ID), trigger); err != nil {
		return err
	}

	h.logger.Info("ticket issued",
		zap.String("ticket_id", ticket.ID),
		zap.String("organization_id", ticket.OrganizationID),
		zap.Bool("hype_card", event.GeneratesHypeCard()),
	)
	return nil
}

// issue claims the reserved ticket with a fresh code, retrying on the rare
// code collision. An empty code means another caller fulfilled it first.
func (h *TicketFulfillment) issue(ctx context.Context, tx *store.Store, ticketID string, now time.Time) (string, string, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := h.newCode()
		if err != nil {
			return "", "", fmt.Errorf("generate ticket code: %w", err)
		}
		qrURL := ArtifactURL(h.qrBaseURL, code)

		ok, err := tx.FulfillTicket(ctx, ticketID, code, qrURL, now)
		if store.IsUniqueViolation(err) {
			h.logger.Warn("ticket code collision", zap.String("ticket_id", ticketID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", nil
		}
		return code, qrURL, nil
	}
	return "", "", fmt.Errorf("no unique ticket code after %d attempts", maxCodeAttempts)
}
