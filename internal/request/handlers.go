package request

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// caller returns the authenticated user and a valid :id path param.
func caller(c echo.Context) (string, string, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return "", "", c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", "", c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request id format"})
	}
	return uid, id, nil
}

// =========================
// Create - requester posts a request and escrows the reward
// =========================
func (h *Handler) Create(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	in.RequesterID = uid

	r, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

type locationBody struct {
	Latitude  float64 `json:"latitude" query:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" query:"lng" validate:"gte=-180,lte=180"`
}

func (l locationBody) point() geo.Point { return geo.Point{Lat: l.Latitude, Lng: l.Longitude} }

// =========================
// Nearby - open requests around the caller
// =========================
func (h *Handler) Nearby(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var loc locationBody
	if err := c.Bind(&loc); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid location"})
	}
	if err := c.Validate(&loc); err != nil {
		return apperr.JSON(c, err)
	}

	items, err := h.svc.Nearby(c.Request().Context(), uid, loc.point())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

func (h *Handler) RegisterView(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	var loc locationBody
	if err := c.Bind(&loc); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid location"})
	}
	if err := c.Validate(&loc); err != nil {
		return apperr.JSON(c, err)
	}
	if err := h.svc.RegisterView(c.Request().Context(), uid, id, loc.point()); err != nil {
		return apperr.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// =========================
// Accept - responder claims a pending request
// =========================
func (h *Handler) Accept(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}

	var loc locationBody
	if err := c.Bind(&loc); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid location"})
	}
	if err := c.Validate(&loc); err != nil {
		return apperr.JSON(c, err)
	}

	r, err := h.svc.Accept(c.Request().Context(), uid, id, loc.point())
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) StartCapture(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	r, err := h.svc.StartCapture(c.Request().Context(), uid, id)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// =========================
// Deliver - responder uploads the captured media
// =========================
func (h *Handler) Deliver(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}

	var req struct {
		Media []MediaInput `json:"media"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	r, err := h.svc.Deliver(c.Request().Context(), uid, id, req.Media)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// =========================
// Confirm - requester accepts the delivery and releases payment
// =========================
func (h *Handler) Confirm(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	r, err := h.svc.Confirm(c.Request().Context(), uid, id)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"request": r,
		"message": "Delivery confirmed. Payment released to the responder.",
	})
}

type reasonBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Reject(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	var req reasonBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	r, err := h.svc.Reject(c.Request().Context(), uid, id, req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Cancel(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}
	var req reasonBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	r, err := h.svc.Cancel(c.Request().Context(), uid, id, req.Reason)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// =========================
// Rate - each party rates the other once after completion
// =========================
func (h *Handler) Rate(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}

	var req struct {
		Rating decimal.Decimal `json:"rating"`
		Review string          `json:"review"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	r, err := h.svc.Rate(c.Request().Context(), uid, id, req.Rating, req.Review)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Report(c echo.Context) error {
	uid, id, err := caller(c)
	if uid == "" {
		return err
	}

	var in ReportInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	in.ReporterID = uid
	in.RequestID = id

	rep, err := h.svc.Report(c.Request().Context(), in)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, rep)
}

// =========================
// History
// =========================
func (h *Handler) Mine(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.ListAsRequester(c.Request().Context(), uid, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

func (h *Handler) Responded(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.ListAsResponder(c.Request().Context(), uid, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

func (h *Handler) Active(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.ListActive(c.Request().Context(), uid, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}
