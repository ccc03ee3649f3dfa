package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
)

// Me returns the currently authenticated user's profile
func (h *Handler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.svc.Me(c.Request().Context(), uid)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
