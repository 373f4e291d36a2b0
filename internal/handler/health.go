package handler // handlers of the booking API

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Health is the liveness endpoint used by load balancers.  It reports the
// number of live booking sessions alongside the status.
func Health(sessions func() int) echo.HandlerFunc {
    return func(c echo.Context) error {
        return c.JSON(http.StatusOK, echo.Map{"status": "ok", "sessions": sessions()})
    }
}
