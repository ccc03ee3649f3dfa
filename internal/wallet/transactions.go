package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

// Transactions returns the caller's ledger rows, newest first
func (h *Handler) Transactions(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}

	page := utils.Page(c)
	txs, err := h.svc.History(c.Request().Context(), uid, page)
	if err != nil {
		return apperr.JSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"transactions": txs,
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}
