package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientFrozen  = errors.New("insufficient frozen balance")
	ErrOutOfRange          = errors.New("out of range")
	ErrTrustModeIneligible = errors.New("trust mode ineligible")
	ErrAlreadyRated        = errors.New("already rated")
	ErrDuplicateReport     = errors.New("duplicate report")
	ErrValidation          = errors.New("validation error")
)

// Validation wraps ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Status maps an error from the taxonomy to the HTTP status the API answers with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTrustModeIneligible):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInsufficientFrozen),
		errors.Is(err, ErrAlreadyRated), errors.Is(err, ErrDuplicateReport):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes err as {"error": ...}. Internal errors are not echoed back to the client.
func JSON(c echo.Context, err error) error {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return c.JSON(status, echo.Map{"error": msg})
}
