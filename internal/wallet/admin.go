package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

// AdminUserTransactions returns the ledger of a specific user (admin view)
func (h *Handler) AdminUserTransactions(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user ID is required"})
	}

	ctx := c.Request().Context()
	w, err := h.svc.Balance(ctx, userID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	txs, err := h.svc.History(ctx, userID, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"wallet": w, "transactions": txs})
}
