package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId(CollectionTickets)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("ticket_type", t.TicketTypeID)
	record.Set("event", t.EventID)
	record.Set("organization", t.OrganizationID)
	record.Set("contact", t.ContactID)
	record.Set("holder_name", t.HolderName)
	record.Set("holder_email", t.HolderEmail)
	record.Set("holder_phone", t.HolderPhone)
	record.Set("amount", t.Amount.InexactFloat64())
	record.Set("currency", t.Currency)
	record.Set("code", t.Code)
	record.Set("checkout_request_id", t.CheckoutRequestID)
	record.Set("payment_status", string(t.PaymentStatus))
	record.Set("status", string(t.Status))
	record.Set("payable_type", string(t.PayableType))
	record.Set("idempotency_key", t.IdempotencyKey)
	record.Set("reserved_at", t.ReservedAt)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}

	t.ID = record.Id
	return nil
}

func (s *Store) FindTicket(id string) (*models.Ticket, error) {
	record, err := s.app.FindRecordById(CollectionTickets, id)
	if err != nil {
		if isNotFound(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket %s: %w", id, err)
	}
	return ticketFromRecord(record), nil
}

func (s *Store) FindTicketByCorrelationID(correlationID string) (*models.Ticket, error) {
	if correlationID == "" {
		return nil, status.ErrTicketNotFound
	}
	record, err := s.app.FindFirstRecordByData(CollectionTickets, "checkout_request_id", correlationID)
	if err != nil {
		if isNotFound(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket by checkout request: %w", err)
	}
	return ticketFromRecord(record), nil
}

func (s *Store) FindTicketByIdempotencyKey(organizationID, key string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		CollectionTickets,
		"organization = {:org} && idempotency_key = {:key}",
		dbx.Params{"org": organizationID, "key": key},
	)
	if err != nil {
		if isNotFound(err) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket by idempotency key: %w", err)
	}
	return ticketFromRecord(record), nil
}

func (s *Store) SetCorrelationID(ctx context.Context, ticketID, correlationID string) error {
	_, err := s.app.DB().
		NewQuery("UPDATE {{tickets}} SET [[checkout_request_id]] = {:cid} WHERE [[id]] = {:id}").
		Bind(dbx.Params{"id": ticketID, "cid": correlationID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("set checkout request id: %w", err)
	}
	return nil
}

// MarkPaymentCompleted moves a pending payment to completed. It reports false
// when the payment was no longer pending.
func (s *Store) MarkPaymentCompleted(ctx context.Context, ticketID, receipt string, metadata json.RawMessage, paidAt time.Time) (bool, error) {
	return s.claim(ctx, `UPDATE {{tickets}}
		SET [[payment_status]] = {:completed}, [[receipt_number]] = {:receipt},
			[[payment_metadata]] = {:metadata}, [[paid_at]] = {:paid_at}
		WHERE [[id]] = {:id} AND [[payment_status]] = {:pending}`,
		dbx.Params{
			"id":        ticketID,
			"completed": string(models.PaymentCompleted),
			"pending":   string(models.PaymentPending),
			"receipt":   receipt,
			"metadata":  metadataValue(metadata),
			"paid_at":   formatTime(paidAt),
		})
}

// MarkPaymentFailed moves a pending payment to failed. The reservation keeps
// its unit until CancelReservation runs.
func (s *Store) MarkPaymentFailed(ctx context.Context, ticketID, reason string, metadata json.RawMessage) (bool, error) {
	return s.claim(ctx, `UPDATE {{tickets}}
		SET [[payment_status]] = {:failed}, [[failure_reason]] = {:reason}, [[payment_metadata]] = {:metadata}
		WHERE [[id]] = {:id} AND [[payment_status]] = {:pending}`,
		dbx.Params{
			"id":       ticketID,
			"failed":   string(models.PaymentFailed),
			"pending":  string(models.PaymentPending),
			"reason":   reason,
			"metadata": metadataValue(metadata),
		})
}

// FulfillTicket issues the code and marks the ticket valid. Only a reserved
// ticket whose payment did not fail can be fulfilled, and only once.
func (s *Store) FulfillTicket(ctx context.Context, ticketID, code, qrURL string, at time.Time) (bool, error) {
	return s.claim(ctx, `UPDATE {{tickets}}
		SET [[status]] = {:valid}, [[payment_status]] = {:completed}, [[code]] = {:code},
			[[qr_url]] = {:qr}, [[fulfilled_at]] = {:at},
			[[paid_at]] = CASE WHEN [[paid_at]] = '' THEN {:at} ELSE [[paid_at]] END
		WHERE [[id]] = {:id} AND [[status]] = {:reserved} AND [[payment_status]] != {:failed}`,
		dbx.Params{
			"id":        ticketID,
			"valid":     string(models.TicketValid),
			"completed": string(models.PaymentCompleted),
			"reserved":  string(models.TicketReserved),
			"failed":    string(models.PaymentFailed),
			"code":      code,
			"qr":        qrURL,
			"at":        formatTime(at),
		})
}

// CancelReservation moves a reserved ticket to cancelled. Exactly one caller
// wins the transition, and only the winner may release the unit.
func (s *Store) CancelReservation(ctx context.Context, ticketID, reason string) (bool, error) {
	return s.claim(ctx, `UPDATE {{tickets}}
		SET [[status]] = {:cancelled}, [[payment_status]] = {:failed},
			[[failure_reason]] = CASE WHEN [[failure_reason]] = '' THEN {:reason} ELSE [[failure_reason]] END
		WHERE [[id]] = {:id} AND [[status]] = {:reserved} AND [[payment_status]] != {:completed}`,
		dbx.Params{
			"id":        ticketID,
			"cancelled": string(models.TicketCancelled),
			"failed":    string(models.PaymentFailed),
			"reserved":  string(models.TicketReserved),
			"completed": string(models.PaymentCompleted),
			"reason":    reason,
		})
}

// ReleaseIdempotencyKey clears the key of a cancelled ticket so the same key
// can be used for a new purchase.
func (s *Store) ReleaseIdempotencyKey(ctx context.Context, ticketID string) error {
	_, err := s.app.DB().
		NewQuery("UPDATE {{tickets}} SET [[idempotency_key]] = '' WHERE [[id]] = {:id} AND [[status]] = {:cancelled}").
		Bind(dbx.Params{"id": ticketID, "cancelled": string(models.TicketCancelled)}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *Store) CountTicketsByStatus(ticketStatus models.TicketStatus) (int64, error) {
	return s.app.CountRecords(CollectionTickets, dbx.HashExp{"status": string(ticketStatus)})
}

// FindReleasableReservations returns reserved tickets whose payment failed, or
// is still pending and was reserved before cutoff, oldest first.
func (s *Store) FindReleasableReservations(cutoff time.Time, limit int) ([]*models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionTickets,
		"status = {:reserved} && (payment_status = {:failed} || (payment_status = {:pending} && reserved_at < {:cutoff}))",
		"reserved_at",
		limit,
		0,
		dbx.Params{
			"reserved": string(models.TicketReserved),
			"failed":   string(models.PaymentFailed),
			"pending":  string(models.PaymentPending),
			"cutoff":   formatTime(cutoff),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("find releasable reservations: %w", err)
	}
	return ticketsFromRecords(records), nil
}

// FindUnfulfilledPayments returns tickets that were paid but never issued.
func (s *Store) FindUnfulfilledPayments(limit int) ([]*models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionTickets,
		"status = {:reserved} && payment_status = {:completed}",
		"paid_at",
		limit,
		0,
		dbx.Params{
			"reserved":  string(models.TicketReserved),
			"completed": string(models.PaymentCompleted),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("find unfulfilled payments: %w", err)
	}
	return ticketsFromRecords(records), nil
}

func (s *Store) claim(ctx context.Context, query string, params dbx.Params) (bool, error) {
	res, err := s.app.DB().NewQuery(query).Bind(params).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func metadataValue(metadata json.RawMessage) string {
	if len(metadata) == 0 {
		return "null"
	}
	return string(metadata)
}

func ticketsFromRecords(records []*core.Record) []*models.Ticket {
	tickets := make([]*models.Ticket, 0, len(records))
	for _, record := range records {
		tickets = append(tickets, ticketFromRecord(record))
	}
	return tickets
}

func ticketFromRecord(record *core.Record) *models.Ticket {
	t := &models.Ticket{
		ID:                record.Id,
		TicketTypeID:      record.GetString("ticket_type"),
		EventID:           record.GetString("event"),
		OrganizationID:    record.GetString("organization"),
		ContactID:         record.GetString("contact"),
		HolderName:        record.GetString("holder_name"),
		HolderEmail:       record.GetString("holder_email"),
		HolderPhone:       record.GetString("holder_phone"),
		Amount:            decimal.NewFromFloat(record.GetFloat("amount")),
		Currency:          record.GetString("currency"),
		Code:              record.GetString("code"),
		QRCodeURL:         record.GetString("qr_url"),
		CheckoutRequestID: record.GetString("checkout_request_id"),
		PaymentStatus:     models.PaymentStatus(record.GetString("payment_status")),
		Status:            models.TicketStatus(record.GetString("status")),
		PayableType:       models.PayableKind(record.GetString("payable_type")),
		ReceiptNumber:     record.GetString("receipt_number"),
		FailureReason:     record.GetString("failure_reason"),
		IdempotencyKey:    record.GetString("idempotency_key"),
		ReservedAt:        record.GetDateTime("reserved_at").Time(),
		PaidAt:            timePtr(record.GetDateTime("paid_at")),
		FulfilledAt:       timePtr(record.GetDateTime("fulfilled_at")),
	}
	if raw, ok := record.Get("payment_metadata").(types.JSONRaw); ok && len(raw) > 0 && string(raw) != "null" {
		t.PaymentMetadata = json.RawMessage(raw)
	}
	return t
}
