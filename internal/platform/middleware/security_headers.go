package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders marks every ops response as an uncacheable JSON document
// that browsers must not sniff, frame or load resources from.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			// Connection stats name client addresses.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
