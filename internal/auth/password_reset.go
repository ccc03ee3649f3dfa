package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/logger"
)

const resetRequested = "If the email exists, a reset link has been sent."

type RequestPasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /auth/password/request
// Always responds with the same message to avoid user enumeration.
func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req RequestPasswordResetRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusOK, echo.Map{"message": resetRequested})
	}
	if err := h.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		logger.Component("auth").WithError(err).Error("password reset request failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": resetRequested})
}

// POST /auth/password/reset
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	err := h.svc.ResetPassword(c.Request().Context(), req)
	if errors.Is(err, ErrInvalidResetToken) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated successfully"})
}
