package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass the session middleware.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// Skipper reports whether the route is public.
func Skipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
