package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"

	"ticket-engine/internal/status"
)

// toAPIError maps engine errors to HTTP responses. Unknown errors become 500
// without leaking their text.
func toAPIError(err error) *router.ApiError {
	var apiErr *router.ApiError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &validationErrs):
		return apis.NewBadRequestError("Invalid request", validationDetails(validationErrs))
	case errors.Is(err, status.ErrInvalidTicketType), errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrInvalidPhone):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrSoldOut), errors.Is(err, status.ErrDuplicateCallback):
		return router.NewApiError(http.StatusConflict, err.Error(), nil)
	case errors.Is(err, status.ErrUnknownCallback):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrGatewayUnavailable), errors.Is(err, status.ErrCircuitOpen):
		return router.NewApiError(http.StatusServiceUnavailable, "Payment provider unavailable, please retry", nil)
	default:
		return apis.NewInternalServerError("Something went wrong while processing your request.", nil)
	}
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
