package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
)

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"withdrawal_method" validate:"required,max=50"`
}

// Withdraw debits the wallet and queues the payout for admin review
func (h *Handler) Withdraw(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}

	var req WithdrawRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}
	if !req.Amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be greater than zero"})
	}

	out, err := h.svc.Withdraw(c.Request().Context(), uid, req.Amount, req.Method)
	if err != nil {
		return apperr.JSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"withdrawal": out.Withdrawal,
		"commission": out.Commission,
		"message":    "withdrawal requested, pending review",
	})
}

type TipRequest struct {
	RecipientID string          `json:"recipient_id" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	RequestID   string          `json:"request_id" validate:"omitempty,uuid"`
	Message     string          `json:"message" validate:"max=200"`
}

func (h *Handler) SendTip(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req TipRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	res, err := h.svc.SendTip(c.Request().Context(), Tip{
		SenderID:    uid,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		RequestID:   req.RequestID,
		Message:     req.Message,
	})
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
