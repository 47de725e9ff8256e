package rpcserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// bearerAuth builds an echo middleware that requires a valid HMAC-signed
// bearer token on every request, the same check the teacher's aggregator
// applies to its gRPC calls (verifyAuth) adapted to an HTTP middleware: the
// debug_bundler_* namespace can reconfigure bundling and wipe the mempool
// and reputation table, so it is gated behind this whenever DebugAuthSecret
// is configured. An unset secret leaves the route open, matching debugRpc's
// own trusted-operator assumption.
func bearerAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed claims")
			}
			if sub, _ := claims["subject"].(string); sub == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing subject claim")
			}

			return next(c)
		}
	}
}
