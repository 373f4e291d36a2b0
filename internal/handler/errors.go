package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/wizard"
)

// respondError writes {"error": code, "message": text} with the status of
// err's kind. The session view is attached when there is one, so clients
// can re-render after a failed action without a second request.
func respondError(c echo.Context, log *slog.Logger, err error, view *wizard.View) error {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError && log != nil {
		log.ErrorContext(c.Request().Context(), "request failed",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
	}
	body := echo.Map{"error": apperr.Code(err), "message": wizard.Message(err)}
	if view != nil {
		body["session"] = view
	}
	return c.JSON(status, body)
}
