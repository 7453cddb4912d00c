// Package middleware holds echo middleware shared by the API routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// BearerAuth rejects requests that do not carry a valid JWT bearer token.
// Signatures are verified against the JWKS behind k.
func BearerAuth(k keyfunc.Keyfunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			parsed, err := jwt.Parse(token, k.Keyfunc)
			if err != nil || !parsed.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			return next(c)
		}
	}
}
