package middleware

import "github.com/labstack/echo/v4"

// PatronID returns the authenticated patron id stored by JWTAuth, or ""
// when the request is anonymous.
func PatronID(c echo.Context) string {
    if v, ok := c.Get(ctxPatronID).(string); ok {
        return v
    }
    return ""
}

// identityKey is the rate limit and log identity of a request: the patron
// id when authenticated, "guest" otherwise.
func identityKey(c echo.Context) string {
    if id := PatronID(c); id != "" {
        return id
    }
    return "guest"
}
