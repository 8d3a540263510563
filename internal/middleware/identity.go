package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// userID returns the authenticated user's id for rate-limit keys, or "anon"
// when the request carries no verified claims.
func userID(c echo.Context) string {
	if claims, ok := ClaimsFrom(c); ok && claims.UserID != 0 {
		return strconv.FormatUint(claims.UserID, 10)
	}
	return "anon"
}
