package status

import "errors"

var (
	ErrInvalidTicketType  = errors.New("ticket type: not found, inactive or not owned by organization")
	ErrSoldOut            = errors.New("ticket type: sold out")
	ErrTicketNotFound     = errors.New("ticket: ticket not found")
	ErrInvalidPhone       = errors.New("payment: invalid phone number")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	ErrCircuitOpen        = errors.New("payment: circuit breaker is open")
	ErrUnknownCallback    = errors.New("callback: unknown correlation id")
	ErrDuplicateCallback  = errors.New("callback: already processed")
	ErrFulfillmentHandler = errors.New("fulfillment: handler failed")
	ErrPayableKindUnknown = errors.New("fulfillment: no handler for payable kind")
)
