// Package user serves profiles and accepts location updates used for nearby fanout.
package user

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/models"
)

type Profiles interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID, name, bio, avatarURL string) (*models.User, error)
}

// Locations records where a user was last seen.
type Locations interface {
	Update(ctx context.Context, userID string, p geo.Point) error
}

type Handler struct {
	profiles  Profiles
	locations Locations
}

func NewHandler(profiles Profiles, locations Locations) *Handler {
	return &Handler{profiles: profiles, locations: locations}
}

// GET /user/profile
func (h *Handler) Profile(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.profiles.GetUser(c.Request().Context(), uid)
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

type UpdateProfileRequest struct {
	Name      string `json:"name" validate:"max=100"`
	Bio       string `json:"bio" validate:"max=500"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

// PUT /user/profile. Empty fields keep their current value.
func (h *Handler) UpdateProfile(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	u, err := h.profiles.UpdateProfile(c.Request().Context(), uid,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Bio), strings.TrimSpace(req.AvatarURL))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// PUT /user/location publishes the caller's position for nearby request fanout.
func (h *Handler) UpdateLocation(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req LocationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}

	p := geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	if err := h.locations.Update(c.Request().Context(), uid, p); err != nil {
		logger.Component("user").WithError(err).WithField("user_id", uid).Error("location update failed")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "location service unavailable"})
	}
	return c.NoContent(http.StatusNoContent)
}
