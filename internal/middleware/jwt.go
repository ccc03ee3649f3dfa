package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/utils"
)

// JWT validates the bearer token and stores user_id and role on the context.
func JWT(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := utils.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil && c.IsWebSocket() && c.QueryParam("token") != "" {
				// browsers cannot set headers on a websocket handshake
				tokenStr, err = c.QueryParam("token"), nil
			}
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			claims, err := utils.ParseToken(secret, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			c.Set("user_id", claims.UserID)
			c.Set("role", claims.Role)
			return next(c)
		}
	}
}

// UserID returns the authenticated user's id set by JWT.
func UserID(c echo.Context) (string, bool) {
	uid, ok := c.Get("user_id").(string)
	return uid, ok && uid != ""
}
