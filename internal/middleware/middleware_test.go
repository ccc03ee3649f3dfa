package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

var secret = []byte("middleware-secret")

func newServer() *echo.Echo {
	e := echo.New()
	g := e.Group("", JWT(secret))
	g.GET("/me", func(c echo.Context) error {
		uid, _ := UserID(c)
		return c.String(http.StatusOK, uid)
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, AdminGuard)
	return e
}

func call(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTSetsUser(t *testing.T) {
	tok, err := utils.IssueToken(secret, "u1", "user", time.Hour)
	require.NoError(t, err)

	rec := call(newServer(), "/me", tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestJWTRejectsMissingAndForeignTokens(t *testing.T) {
	e := newServer()
	assert.Equal(t, http.StatusUnauthorized, call(e, "/me", "").Code)

	foreign, err := utils.IssueToken([]byte("other"), "u1", "user", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(e, "/me", foreign).Code)
}

func TestAdminGuard(t *testing.T) {
	e := newServer()
	user, _ := utils.IssueToken(secret, "u1", "user", time.Hour)
	admin, _ := utils.IssueToken(secret, "u2", "admin", time.Hour)

	assert.Equal(t, http.StatusForbidden, call(e, "/admin", user).Code)
	assert.Equal(t, http.StatusOK, call(e, "/admin", admin).Code)
}

func TestJWTQueryTokenOnlyForWebsocket(t *testing.T) {
	e := newServer()
	tok, err := utils.IssueToken(secret, "u1", "user", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil)
	req.Header.Set(echo.HeaderConnection, "Upgrade")
	req.Header.Set(echo.HeaderUpgrade, "websocket")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestRequireRolesAcceptsAnyListedRole(t *testing.T) {
	e := echo.New()
	g := e.Group("", JWT(secret))
	g.GET("/moderate", func(c echo.Context) error { return c.String(http.StatusOK, Role(c)) },
		RequireRoles(models.RoleUser, models.RoleAdmin))

	user, err := utils.IssueToken(secret, "u1", models.RoleUser, time.Hour)
	require.NoError(t, err)
	rec := call(e, "/moderate", user)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleUser, rec.Body.String())

	other, err := utils.IssueToken(secret, "u2", "creator", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call(e, "/moderate", other).Code)
}
