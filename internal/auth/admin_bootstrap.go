package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
)

type BootstrapAdminRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Secret string `json:"secret" validate:"required"`
}

func (h *Handler) BootstrapAdmin(c echo.Context) error {
	var req BootstrapAdminRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	err := h.svc.BootstrapAdmin(c.Request().Context(), req.Email, req.Secret)
	switch {
	case errors.Is(err, ErrBootstrapDisabled), errors.Is(err, ErrBadSecret):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case err != nil:
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user promoted to admin", "email": req.Email})
}
