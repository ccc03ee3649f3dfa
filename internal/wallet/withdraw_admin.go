package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

// ListPendingWithdrawals returns WITHDRAWAL rows still awaiting review
func (h *Handler) ListPendingWithdrawals(c echo.Context) error {
	rows, err := h.svc.PendingWithdrawals(c.Request().Context(), utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"pending_withdrawals": rows})
}

// ApproveWithdrawal marks a pending withdrawal as paid out
func (h *Handler) ApproveWithdrawal(c echo.Context) error {
	rec, err := h.svc.ApproveWithdrawal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":    "withdrawal approved",
		"withdrawal": rec,
	})
}

// RejectWithdrawal fails a pending withdrawal and returns the money to the wallet
func (h *Handler) RejectWithdrawal(c echo.Context) error {
	rec, err := h.svc.RejectWithdrawal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":    "withdrawal rejected",
		"withdrawal": rec,
	})
}
