package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
)

type RechargeRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Gateway       string          `json:"payment_gateway" validate:"required,max=50"`
	ExternalTxnID string          `json:"external_transaction_id" validate:"required,max=255"`
}

// Recharge credits the wallet once the gateway has confirmed the payment
func (h *Handler) Recharge(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	req := new(RechargeRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(req); err != nil {
		return apperr.JSON(c, err)
	}
	if !req.Amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be greater than zero"})
	}

	rec, err := h.svc.Recharge(c.Request().Context(), uid, req.Amount, req.Gateway, req.ExternalTxnID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}
