package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PayableKind tags what a payment pays for. Each kind has exactly one fulfillment handler.
type PayableKind string

const PayableTicket PayableKind = "ticket"

const ResultCodeSuccess = 0

// ReceiptFieldNames are the metadata item names that carry the provider receipt, in priority order.
var ReceiptFieldNames = []string{"MpesaReceiptNumber", "ReceiptNumber"}

type MetadataItem struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
}

// PaymentCallback is the provider confirmation for one checkout request.
type PaymentCallback struct {
	CorrelationID     string          `json:"correlationId"`
	ResultCode        int             `json:"resultCode"`
	ResultDescription string          `json:"resultDescription"`
	MetadataItems     []MetadataItem  `json:"metadataItems,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

func (c *PaymentCallback) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}

func (c *PaymentCallback) ReceiptNumber() string {
	for _, name := range ReceiptFieldNames {
		for _, item := range c.MetadataItems {
			if item.Name == name && item.Value != nil {
				return fmt.Sprint(item.Value)
			}
		}
	}
	return ""
}

// AuditMetadata is what gets stored on the ticket: the raw provider body when
// available, the parsed items otherwise.
func (c *PaymentCallback) AuditMetadata() (json.RawMessage, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(c.MetadataItems)
}

// Payment is the view of a settled payment handed to fulfillment handlers.
type Payment struct {
	Kind           PayableKind     `json:"kind"`
	PayableID      string          `json:"payable_id"`
	OrganizationID string          `json:"organization_id"`
	ContactID      string          `json:"contact_id"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	ReceiptNumber  string          `json:"receipt_number,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
}

func PaymentFromTicket(t *Ticket) Payment {
	p := Payment{
		Kind:           t.PayableType,
		PayableID:      t.ID,
		OrganizationID: t.OrganizationID,
		ContactID:      t.ContactID,
		CorrelationID:  t.CheckoutRequestID,
		ReceiptNumber:  t.ReceiptNumber,
		Amount:         t.Amount,
	}
	if p.Kind == "" {
		p.Kind = PayableTicket
	}
	if t.PaidAt != nil {
		p.PaidAt = *t.PaidAt
	}
	return p
}
