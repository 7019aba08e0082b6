package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	corsAllowMethods = []string{
		http.MethodGet, http.MethodOptions, http.MethodPatch,
		http.MethodDelete, http.MethodPost, http.MethodPut,
	}
	corsAllowHeaders = []string{
		"X-CSRF-Token", "X-Requested-With", "Accept", "Accept-Version",
		"Content-Length", "Content-MD5", "Content-Type", "Date", "X-Api-Version",
	}
)

// setCORSHeaders writes the chat endpoint's CORS headers whether or not the
// caller sent an Origin.
func setCORSHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderAccessControlAllowCredentials, "true")
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, strings.Join(corsAllowMethods, ","))
	h.Set(echo.HeaderAccessControlAllowHeaders, strings.Join(corsAllowHeaders, ", "))
}
