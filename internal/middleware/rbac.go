package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
)

// Role returns the caller's role set by JWT.
func Role(c echo.Context) string {
	role, _ := c.Get("role").(string)
	return role
}

// RequireRoles lets the request through only when the token's role is one of
// roles. It must run after JWT. Suspended accounts are stopped at login, so a
// role check is all that is done here.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	log := logger.Component("rbac")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := Role(c)
			if role == "" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role missing"})
			}
			if !slices.Contains(roles, role) {
				uid, _ := UserID(c)
				log.WithField("user_id", uid).WithField("role", role).WithField("path", c.Path()).Warn("access denied")
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
			}
			return next(c)
		}
	}
}

// AdminGuard guards the moderation and payout routes.
var AdminGuard = RequireRoles(models.RoleAdmin)
