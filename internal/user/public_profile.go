package user

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
)

// GET /users/:id/profile
func (h *Handler) PublicProfile(c echo.Context) error {
	userID := c.Param("id")
	if _, err := uuid.Parse(userID); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id format"})
	}

	u, err := h.profiles.GetUser(c.Request().Context(), userID)
	if err != nil {
		return apperr.JSON(c, err)
	}
	if !u.IsActive {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"id":                     u.ID,
		"name":                   u.Name,
		"bio":                    u.Bio,
		"avatar_url":             u.AvatarURL,
		"reputation_stars":       u.ReputationStars,
		"total_ratings_received": u.TotalRatingsReceived,
		"created_at":             u.CreatedAt.Format(time.RFC3339),
	})
}
