package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ===== Signup =====
func (h *Handler) Signup(c echo.Context) error {
	var req SignupInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	sess, err := h.svc.Signup(c.Request().Context(), req)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// ===== Login =====
func (h *Handler) Login(c echo.Context) error {
	var req LoginInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	sess, err := h.svc.Login(c.Request().Context(), req)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	case errors.Is(err, ErrAccountSuspended):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case err != nil:
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}
