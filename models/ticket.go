package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationCodePrefix marks a ticket code that has not been issued yet.
// Issued codes never contain a dash, so the two formats cannot collide.
const ReservationCodePrefix = "RSV-"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// CanTransitionTo reports whether a payment may move from s to next. Only a
// pending payment moves; completed and failed are terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentPending && (next == PaymentCompleted || next == PaymentFailed)
}

type TicketStatus string

const (
	TicketReserved  TicketStatus = "reserved"
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
)

type TicketType struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	EventID        string          `json:"event_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	Capacity       *int            `json:"capacity"` // nil = unlimited
	Sold           int             `json:"sold"`
	Active         bool            `json:"active"`
}

func (t *TicketType) IsFree() bool {
	return !t.Price.IsPositive()
}

func (t *TicketType) SoldOut() bool {
	remaining, limited := t.Remaining()
	return limited && remaining == 0
}

// Remaining returns the units left for sale; ok is false for unlimited types.
func (t *TicketType) Remaining() (remaining int, ok bool) {
	if t.Capacity == nil {
		return 0, false
	}
	if t.Sold >= *t.Capacity {
		return 0, true
	}
	return *t.Capacity - t.Sold, true
}

type Ticket struct {
	ID                string          `json:"id"`
	TicketTypeID      string          `json:"ticket_type_id"`
	EventID           string          `json:"event_id"`
	OrganizationID    string          `json:"organization_id"`
	ContactID         string          `json:"contact_id"`
	HolderName        string          `json:"holder_name,omitempty"`
	HolderEmail       string          `json:"holder_email,omitempty"`
	HolderPhone       string          `json:"holder_phone,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Code              string          `json:"code"`
	QRCodeURL         string          `json:"qr_code_url,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	Status            TicketStatus    `json:"status"`
	PayableType       PayableKind     `json:"payable_type"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	PaymentMetadata   json.RawMessage `json:"payment_metadata,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	ReservedAt        time.Time       `json:"reserved_at"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	FulfilledAt       *time.Time      `json:"fulfilled_at,omitempty"`
}

func NewPlaceholderCode() string {
	return ReservationCodePrefix + uuid.NewString()
}

func IsPlaceholderCode(code string) bool {
	return strings.HasPrefix(code, ReservationCodePrefix)
}

// IssuedCode returns the redeemable code, or "" while the ticket only holds a reservation.
func (t *Ticket) IssuedCode() string {
	if IsPlaceholderCode(t.Code) {
		return ""
	}
	return t.Code
}

func (t *Ticket) AwaitingFulfillment() bool {
	return t.PaymentStatus == PaymentCompleted && t.Status == TicketReserved
}

type Contact struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Phone          string `json:"phone"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
}
