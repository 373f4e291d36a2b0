package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/middleware"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
	"github.com/iliyamo/cinema-booking-coordinator/internal/session"
	"github.com/iliyamo/cinema-booking-coordinator/internal/wizard"
)

// DefaultActionTimeout bounds one wizard action, backend retries included.
const DefaultActionTimeout = 30 * time.Second

// SessionHandler exposes booking sessions to the front-end.  Every route
// assumes JWTAuth and RequireRole already ran; the patron id comes from the
// token and sessions of other patrons answer 403.
type SessionHandler struct {
	Sessions      *session.Registry
	ActionTimeout time.Duration
	Log           *slog.Logger
}

// NewSessionHandler constructs a SessionHandler and panics on a nil registry.
func NewSessionHandler(sessions *session.Registry, log *slog.Logger) *SessionHandler {
	if sessions == nil {
		panic("nil registry passed to NewSessionHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionHandler{Sessions: sessions, ActionTimeout: DefaultActionTimeout, Log: log}
}

type createSessionRequest struct {
	MovieID string `json:"movie_id" validate:"required,max=64"`
}

type dateRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type screeningRequest struct {
	ScreeningID uint64 `json:"screening_id" validate:"required"`
}

type ticketsRequest struct {
	TicketTypeID uint64 `json:"ticket_type_id" validate:"required"`
	Delta        int    `json:"delta" validate:"required,min=-64,max=64"`
}

type seatsRequest struct {
	SeatIDs []string `json:"seat_ids" validate:"required,min=1,max=64,dive,required,max=64"`
}

type pointsRequest struct {
	Points *int `json:"points" validate:"required,min=0"`
}

// actionContext detaches the action from the HTTP connection and carries
// the patron id to the backend.
func (h *SessionHandler) actionContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(c.Request().Context())
	ctx = gateway.WithPatron(ctx, middleware.PatronID(c))
	return context.WithTimeout(ctx, h.ActionTimeout)
}

// act runs fn against the session named in the path and answers with the
// resulting view.
func (h *SessionHandler) act(c echo.Context, fn func(ctx context.Context, w *wizard.Wizard) error) error {
	w, err := h.Sessions.Get(c.Param("id"), middleware.PatronID(c))
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()
	if err := fn(ctx, w); err != nil {
		v := w.View()
		return respondError(c, h.Log, err, &v)
	}
	return c.JSON(http.StatusOK, w.View())
}

// Create handles POST /v1/sessions.
func (h *SessionHandler) Create(c echo.Context) error {
	var req createSessionRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	id, w, err := h.Sessions.Create(middleware.PatronID(c), req.MovieID)
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/v1/sessions/"+id)
	return c.JSON(http.StatusCreated, w.View())
}

// Get handles GET /v1/sessions/:id.
func (h *SessionHandler) Get(c echo.Context) error {
	w, err := h.Sessions.Get(c.Param("id"), middleware.PatronID(c))
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return c.JSON(http.StatusOK, w.View())
}

// Abandon handles DELETE /v1/sessions/:id.  The hold is released and the
// session forgotten.
func (h *SessionHandler) Abandon(c echo.Context) error {
	ctx, cancel := h.actionContext(c)
	defer cancel()
	if err := h.Sessions.Remove(ctx, c.Param("id"), middleware.PatronID(c)); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}

// SelectDate handles POST /v1/sessions/:id/date.
func (h *SessionHandler) SelectDate(c echo.Context) error {
	var req dateRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	day, err := time.ParseInLocation(time.DateOnly, req.Date, time.UTC)
	if err != nil {
		return respondError(c, h.Log, apperr.New(apperr.ErrInvalidInput, "select date", "date must be YYYY-MM-DD"), nil)
	}
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error { return w.SelectDate(ctx, day) })
}

// SelectScreening handles POST /v1/sessions/:id/screening.
func (h *SessionHandler) SelectScreening(c echo.Context) error {
	var req screeningRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error {
		return w.SelectScreening(ctx, req.ScreeningID)
	})
}

// ChangeTickets handles POST /v1/sessions/:id/tickets.
func (h *SessionHandler) ChangeTickets(c echo.Context) error {
	var req ticketsRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error {
		return w.ChangeTicketCount(ctx, req.TicketTypeID, req.Delta)
	})
}

// ToggleSeats handles POST /v1/sessions/:id/seats.  All listed seats are
// toggled in one hold swap.
func (h *SessionHandler) ToggleSeats(c echo.Context) error {
	var req seatsRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error {
		return w.ToggleSeats(ctx, req.SeatIDs...)
	})
}

// RetryHold handles POST /v1/sessions/:id/hold/retry.
func (h *SessionHandler) RetryHold(c echo.Context) error {
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error { return w.RetryHold(ctx) })
}

// RefreshSeatMap handles POST /v1/sessions/:id/seatmap/refresh.
func (h *SessionHandler) RefreshSeatMap(c echo.Context) error {
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error { return w.RefreshSeatMap(ctx) })
}

// SetPoints handles POST /v1/sessions/:id/points.
func (h *SessionHandler) SetPoints(c echo.Context) error {
	var req pointsRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error {
		return w.SetUsedPoints(ctx, *req.Points)
	})
}

// Next handles POST /v1/sessions/:id/next.
func (h *SessionHandler) Next(c echo.Context) error {
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error { return w.GoNext(ctx) })
}

// Back handles POST /v1/sessions/:id/back.
func (h *SessionHandler) Back(c echo.Context) error {
	return h.act(c, func(ctx context.Context, w *wizard.Wizard) error { return w.GoBack(ctx) })
}

// Confirm handles POST /v1/sessions/:id/confirm.  On success the body holds
// the session view and the receipt.
func (h *SessionHandler) Confirm(c echo.Context) error {
	w, err := h.Sessions.Get(c.Param("id"), middleware.PatronID(c))
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	ctx, cancel := h.actionContext(c)
	defer cancel()

	var receipt model.Receipt
	if receipt, err = w.ConfirmAndPay(ctx); err != nil {
		v := w.View()
		return respondError(c, h.Log, err, &v)
	}
	return c.JSON(http.StatusOK, echo.Map{"session": w.View(), "receipt": receipt})
}

// DismissErrors handles DELETE /v1/sessions/:id/errors.
func (h *SessionHandler) DismissErrors(c echo.Context) error {
	w, err := h.Sessions.Get(c.Param("id"), middleware.PatronID(c))
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	w.DismissErrors()
	return c.JSON(http.StatusOK, w.View())
}
