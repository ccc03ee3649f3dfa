package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance returns the authenticated user's wallet balances
func (h *Handler) Balance(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	w, err := h.svc.Balance(c.Request().Context(), uid)
	if err != nil {
		return apperr.JSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user_id":              uid,
		"total_balance":        w.TotalBalance,
		"withdrawable_balance": w.WithdrawableBalance,
		"frozen_balance":       w.FrozenBalance,
		"total_nears":          w.TotalBalance.IntPart(),
		"withdrawable_nears":   w.WithdrawableBalance.IntPart(),
	})
}
