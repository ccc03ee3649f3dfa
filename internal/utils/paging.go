package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/nearhub/internal/store"
)

// Page reads ?limit= and ?offset= into a normalized page.
func Page(c echo.Context) store.Page {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return store.Page{Limit: limit, Offset: offset}.Normalize()
}
