package alerts

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

type Handler struct {
	notes NotificationStore
	now   func() time.Time
}

func NewHandler(notes NotificationStore) *Handler {
	return &Handler{notes: notes, now: time.Now}
}

// List returns the caller's notifications, newest first. ?unread=true filters to unread.
func (h *Handler) List(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()

	items, err := h.notes.ListNotifications(ctx, uid, c.QueryParam("unread") == "true", utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	unread, err := h.notes.CountUnreadNotifications(ctx, uid)
	if err != nil {
		return apperr.JSON(c, err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items, "unread": unread})
}

// MarkRead marks one notification as read.
func (h *Handler) MarkRead(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	nid := c.Param("id")
	if nid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing notification id"})
	}

	updated, err := h.notes.MarkNotificationRead(c.Request().Context(), uid, nid, h.now())
	if err != nil {
		return apperr.JSON(c, err)
	}
	if !updated {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found or already read"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	n, err := h.notes.MarkAllNotificationsRead(c.Request().Context(), uid, h.now())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": n})
}
