package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

// ListReports returns the moderation queue. ?status= narrows it to one status.
func (h *Handler) ListReports(c echo.Context) error {
	status := models.ReportStatus(c.QueryParam("status"))
	switch status {
	case "", models.ReportPending, models.ReportReviewing, models.ReportResolved, models.ReportDismissed:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown report status"})
	}
	reports, err := h.repo.ListReports(c.Request().Context(), status, utils.Page(c))
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reports": reports})
}

// ReviewReport claims a pending report for review.
func (h *Handler) ReviewReport(c echo.Context) error {
	if err := h.repo.MarkReviewing(c.Request().Context(), c.Param("id")); err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "report under review"})
}

type resolveRequest struct {
	Status models.ReportStatus `json:"status" validate:"required,oneof=RESOLVED DISMISSED"`
	Action models.ReportAction `json:"action" validate:"omitempty,oneof=NONE WARNING REFUND USER_SUSPENDED USER_BANNED"`
	Note   string              `json:"note" validate:"max=2000"`
}

// ResolveReport closes a report. Suspending or banning deactivates the reported user.
func (h *Handler) ResolveReport(c echo.Context) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return apperr.JSON(c, err)
	}
	if req.Action == "" {
		req.Action = models.ActionNone
	}
	if req.Status == models.ReportDismissed && req.Action != models.ActionNone {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a dismissed report takes no action"})
	}

	rep, err := h.repo.ResolveReport(c.Request().Context(), Resolution{
		ReportID: c.Param("id"),
		AdminID:  adminID,
		Status:   req.Status,
		Action:   req.Action,
		Note:     req.Note,
		At:       h.now().UTC(),
	})
	if err != nil {
		return apperr.JSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "report closed", "report": rep})
}
