package admin

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

type Handler struct {
	repo *Repository
	now  func() time.Time
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo, now: time.Now}
}

// ===== Stats =====

// Stats returns platform wide counters for the dashboard.
func (h *Handler) Stats(c echo.Context) error {
	s, err := h.repo.Stats(c.Request().Context())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// ===== Users =====

func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.repo.ListUsers(c.Request().Context(), utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

func (h *Handler) SuspendUser(c echo.Context) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if c.Param("id") == adminID {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot suspend your own account"})
	}
	return h.setActive(c, false, "user suspended")
}

func (h *Handler) ActivateUser(c echo.Context) error {
	return h.setActive(c, true, "user activated")
}

func (h *Handler) setActive(c echo.Context, active bool, msg string) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user ID is required"})
	}
	if err := h.repo.SetUserActive(c.Request().Context(), id, active); err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "user_id": id})
}

// ===== Wallets =====

func (h *Handler) ListWallets(c echo.Context) error {
	wallets, err := h.repo.ListWallets(c.Request().Context(), utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"wallets": wallets})
}
