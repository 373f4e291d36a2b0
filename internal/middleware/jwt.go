package middleware // middleware holds the request processing shared by the booking API

import (
    "fmt"      // fmt renders numeric subjects
    "net/http" // HTTP status codes for responses
    "strings"  // prefix checking and trimming

    "github.com/golang-jwt/jwt/v5" // parsing and validating tokens
    "github.com/labstack/echo/v4"  // middleware and handler types
)

// Context keys set by JWTAuth.
const (
    ctxPatronID = "user_id"
    ctxRole     = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// issued by the auth service and injects the patron id (the "sub" claim)
// and role into the request context.  Tokens are HS256 only; expired tokens
// are rejected by the parser.
func JWTAuth(secret string) echo.MiddlewareFunc {
    parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims := jwt.MapClaims{}
            tok, err := parser.ParseWithClaims(raw, claims, keyFunc)
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
            }

            sub := subject(claims["sub"])
            if sub == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "token has no subject"})
            }
            role, _ := claims["role"].(string)

            c.Set(ctxPatronID, sub)
            c.Set(ctxRole, role)
            return next(c)
        }
    }
}

// subject accepts string subjects and the numeric ones older auth
// deployments still issue.
func subject(v interface{}) string {
    switch s := v.(type) {
    case string:
        return s
    case float64:
        if s > 0 && s == float64(uint64(s)) {
            return fmt.Sprintf("%d", uint64(s))
        }
    }
    return ""
}
