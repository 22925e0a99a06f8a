package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ticket-engine/internal/services/gateway"
	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

const releaseReasonGatewayFailed = "gateway_unavailable"

type PurchaseRequest struct {
	OrganizationID string
	TicketTypeID   string
	Phone          string
	HolderName     string
	HolderEmail    string
	HolderPhone    string
	// IdempotencyKey makes a retried request return the first ticket instead of reserving again.
	IdempotencyKey string
}

// TicketStatusView is what buyers poll while waiting for payment confirmation.
type TicketStatusView struct {
	ID            string               `json:"id"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	Status        models.TicketStatus  `json:"status"`
	Code          string               `json:"code,omitempty"`
	ArtifactURL   string               `json:"artifactUrl,omitempty"`
}

type ReservationService struct {
	store    *store.Store
	gateway  gateway.Gateway
	registry *HandlerRegistry
	clock    func() time.Time
	logger   *zap.Logger
}

func NewReservationService(st *store.Store, gw gateway.Gateway, registry *HandlerRegistry, logger *zap.Logger) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationService{
		store:    st,
		gateway:  gw,
		registry: registry,
		clock:    time.Now,
		logger:   logger.Named("reservation"),
	}
}

// InitiatePurchase reserves one unit of the ticket type and starts payment.
//
// The reservation is committed first: under the ticket-type lock it checks
// capacity, inserts the ticket and increments sold. A free ticket is fulfilled
// in that same transaction. For a paid ticket the gateway is called after the
// commit, with no transaction open. If the push fails the reservation is
// cancelled and its unit released through the same claim the sweeper uses, so
// the unit is returned exactly once. A crash between the two steps leaves a
// pending ticket without a correlation id, which the sweeper reclaims after
// the TTL.
func (s *ReservationService) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*models.Ticket, error) {
	phone, err := gateway.NormalizePhone(req.Phone)
	if err != nil {
		monitoring.TrackPurchase("invalid")
		return nil, err
	}
	holderPhone := req.HolderPhone
	if holderPhone != "" {
		if normalized, err := gateway.NormalizePhone(holderPhone); err == nil {
			holderPhone = normalized
		}
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.store.FindTicketByIdempotencyKey(req.OrganizationID, req.IdempotencyKey); err == nil {
			monitoring.TrackPurchase("replayed")
			return existing, nil
		} else if !errors.Is(err, status.ErrTicketNotFound) {
			return nil, err
		}
	}

	ticket, tt, err := s.reserve(ctx, req, phone, holderPhone)
	if err != nil {
		if req.IdempotencyKey != "" && store.IsUniqueViolation(err) {
			if existing, findErr := s.store.FindTicketByIdempotencyKey(req.OrganizationID, req.IdempotencyKey); findErr == nil {
				monitoring.TrackPurchase("replayed")
				return existing, nil
			}
		}
		return nil, s.rejected(req, err)
	}

	if !tt.IsFree() {
		if err := s.startPayment(ctx, phone, tt, ticket); err != nil {
			return nil, s.rejected(req, err)
		}
	}

	monitoring.TrackPurchase("reserved")
	s.logger.Info("ticket reserved",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_type_id", ticket.TicketTypeID),
		zap.String("status", string(ticket.Status)),
		zap.String("checkout_request_id", ticket.CheckoutRequestID),
	)
	return ticket, nil
}

// reserve runs the locked part of a purchase and commits it.
func (s *ReservationService) reserve(ctx context.Context, req PurchaseRequest, phone, holderPhone string) (*models.Ticket, *models.TicketType, error) {
	var (
		ticket *models.Ticket
		tt     *models.TicketType
	)
	err := s.store.RunInTransaction(ctx, func(tx *store.Store) error {
		var err error
		tt, err = tx.LockTicketType(ctx, req.TicketTypeID)
		if err != nil {
			return err
		}
		if tt.OrganizationID != req.OrganizationID || !tt.Active {
			return status.ErrInvalidTicketType
		}
		if tt.SoldOut() {
			return status.ErrSoldOut
		}

		contact, err := tx.UpsertContact(ctx, req.OrganizationID, phone, req.HolderName, req.HolderEmail)
		if err != nil {
			return err
		}

		t := &models.Ticket{
			TicketTypeID:   tt.ID,
			EventID:        tt.EventID,
			OrganizationID: tt.OrganizationID,
			ContactID:      contact.ID,
			HolderName:     req.HolderName,
			HolderEmail:    req.HolderEmail,
			HolderPhone:    holderPhone,
			Amount:         tt.Price,
			Currency:       tt.Currency,
			Code:           models.NewPlaceholderCode(),
			PaymentStatus:  models.PaymentPending,
			Status:         models.TicketReserved,
			PayableType:    models.PayableTicket,
			IdempotencyKey: req.IdempotencyKey,
			ReservedAt:     s.clock(),
		}
		if err := tx.CreateTicket(ctx, t); err != nil {
			return err
		}
		if err := tx.IncrementSold(ctx, tt.ID); err != nil {
			return err
		}

		if !tt.IsFree() {
			ticket = t
			return nil
		}
		if err := s.registry.Dispatch(ctx, tx, models.PaymentFromTicket(t)); err != nil {
			monitoring.TrackFulfillment(string(t.PayableType), "error")
			return err
		}
		monitoring.TrackFulfillment(string(t.PayableType), "ok")
		ticket, err = tx.FindTicket(t.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return ticket, tt, nil
}

// startPayment pushes the payment request for a committed reservation and
// records the correlation id, or gives the unit back when the push fails.
func (s *ReservationService) startPayment(ctx context.Context, phone string, tt *models.TicketType, ticket *models.Ticket) error {
	correlationID, pushErr := s.push(ctx, phone, tt, ticket)

	// The reservation is already committed; finish it even if the caller left.
	ctx = context.WithoutCancel(ctx)
	if pushErr != nil {
		if err := s.abandon(ctx, ticket, pushErr); err != nil {
			s.logger.Error("release after gateway failure, left for the sweeper",
				zap.String("ticket_id", ticket.ID),
				zap.Error(err),
			)
		}
		return pushErr
	}

	if err := s.store.SetCorrelationID(ctx, ticket.ID, correlationID); err != nil {
		return err
	}
	ticket.CheckoutRequestID = correlationID
	return nil
}

func (s *ReservationService) abandon(ctx context.Context, ticket *models.Ticket, cause error) error {
	return s.store.RunInTransaction(ctx, func(tx *store.Store) error {
		released, err := releaseReservation(ctx, tx, ticket, releaseReasonGatewayFailed)
		if err != nil {
			return err
		}
		if released {
			monitoring.TrackReleased(releaseReasonGatewayFailed, 1)
			s.logger.Info("reservation released after gateway failure",
				zap.String("ticket_id", ticket.ID),
				zap.NamedError("cause", cause),
			)
		}
		return tx.ReleaseIdempotencyKey(ctx, ticket.ID)
	})
}

func (s *ReservationService) rejected(req PurchaseRequest, err error) error {
	monitoring.TrackPurchase(purchaseResult(err))
	s.logger.Info("purchase rejected",
		zap.String("organization_id", req.OrganizationID),
		zap.String("ticket_type_id", req.TicketTypeID),
		zap.Error(err),
	)
	return err
}

func (s *ReservationService) push(ctx context.Context, phone string, tt *models.TicketType, t *models.Ticket) (string, error) {
	started := time.Now()
	res, err := s.gateway.Push(ctx, &gateway.PushRequest{
		Phone:       phone,
		Amount:      tt.Price,
		Reference:   t.ID,
		Description: tt.Name,
	})
	provider := string(s.gateway.Provider())
	if err != nil {
		monitoring.ObserveGatewayPush(provider, "error", time.Since(started))
		s.logger.Warn("gateway push failed", zap.String("ticket_id", t.ID), zap.String("provider", provider), zap.Error(err))
		return "", fmt.Errorf("%w: %v", status.ErrGatewayUnavailable, err)
	}
	monitoring.ObserveGatewayPush(provider, "ok", time.Since(started))

	if res.CorrelationID == "" {
		return "", fmt.Errorf("%w: empty correlation id", status.ErrGatewayUnavailable)
	}
	return res.CorrelationID, nil
}

func (s *ReservationService) GetStatus(ctx context.Context, ticketID string) (*TicketStatusView, error) {
	ticket, err := s.store.FindTicket(ticketID)
	if err != nil {
		return nil, err
	}
	view := &TicketStatusView{
		ID:            ticket.ID,
		PaymentStatus: ticket.PaymentStatus,
		Status:        ticket.Status,
		Code:          ticket.IssuedCode(),
	}
	if view.Code != "" {
		view.ArtifactURL = ticket.QRCodeURL
	}
	return view, nil
}

func purchaseResult(err error) string {
	switch {
	case errors.Is(err, status.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, status.ErrInvalidTicketType):
		return "invalid_ticket_type"
	case errors.Is(err, status.ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "error"
	}
}
