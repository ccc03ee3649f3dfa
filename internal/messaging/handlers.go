package messaging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	svc *Service
	hub *Hub
}

func NewHandler(svc *Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// thread returns the caller and a valid :id conversation param.
func thread(c echo.Context) (string, string, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return "", "", c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", "", c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid conversation id format"})
	}
	return uid, id, nil
}

func (h *Handler) Conversations(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.svc.Conversations(c.Request().Context(), uid, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	if list == nil {
		list = []models.Conversation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"conversations": list})
}

// Send posts a message, optionally with paid media.
func (h *Handler) Send(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	var in SendInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	if err := c.Validate(&in); err != nil {
		return apperr.JSON(c, err)
	}
	m, err := h.svc.Send(c.Request().Context(), uid, id, in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// List returns the thread. ?since= takes an RFC3339 timestamp for incremental fetches.
func (h *Handler) List(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid since timestamp, use RFC3339"})
		}
	}
	msgs, err := h.svc.List(c.Request().Context(), uid, id, since)
	if err != nil {
		return apperr.JSON(c, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	n, err := h.svc.Unread(c.Request().Context(), uid, id)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	at, err := h.svc.MarkRead(c.Request().Context(), uid, id, c.Param("message_id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message_id": c.Param("message_id"), "read_at": at.UTC().Format(time.RFC3339)})
}

// Purchase pays for a locked media message and returns it unlocked.
func (h *Handler) Purchase(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	m, res, err := h.svc.Purchase(c.Request().Context(), uid, id, c.Param("message_id"))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": m, "transactions": res})
}

// ConversationWS joins the conversation room and the caller's user channel.
func (h *Handler) ConversationWS(c echo.Context) error {
	uid, id, err := thread(c)
	if uid == "" {
		return err
	}
	if _, err := h.svc.participant(c.Request().Context(), uid, id); err != nil {
		return apperr.JSON(c, err)
	}
	return h.serve(c, uid, id)
}

// UserWS streams only the caller's notifications.
func (h *Handler) UserWS(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.serve(c, uid, "")
}

func (h *Handler) serve(c echo.Context, userID, room string) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.hub.Serve(ws, userID, room)
	return nil
}
