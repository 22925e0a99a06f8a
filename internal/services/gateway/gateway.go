// Package gateway wraps mobile-money push providers behind one interface.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"ticket-engine/models"
)

// Provider names a push payment provider.
type Provider string

const (
	ProviderMpesa   Provider = "mpesa"
	ProviderSandbox Provider = "sandbox"
)

// PushRequest asks the provider to prompt the buyer's phone for payment.
type PushRequest struct {
	Phone       string          `json:"phone"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description,omitempty"`
}

// PushResponse carries the provider's correlation id for the later callback.
type PushResponse struct {
	CorrelationID     string `json:"correlation_id"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// Gateway is implemented by every push provider.
type Gateway interface {
	// Provider returns the provider type
	Provider() Provider

	// Push starts a payment prompt on the buyer's phone
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)

	// ParseCallback decodes the provider's confirmation webhook body
	ParseCallback(body []byte) (*models.PaymentCallback, error)

	// Acknowledgement is the body the provider expects in reply to a webhook
	Acknowledgement() any
}

type acknowledgement struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func acceptedAck() any {
	return acknowledgement{ResultCode: 0, ResultDesc: "Accepted"}
}
