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
)

// ScreeningLister is the read path the catalog endpoints pass through.
type ScreeningLister interface {
	ListScreenings(ctx context.Context, movieID string, date time.Time) ([]model.Screening, error)
}

// CatalogHandler serves the read-only catalog: ticket types and the
// screenings of a movie on a day.  Both routes sit behind the response cache.
type CatalogHandler struct {
	Screenings ScreeningLister
	Catalog    model.TicketCatalog
	Log        *slog.Logger
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(screenings ScreeningLister, catalog model.TicketCatalog, log *slog.Logger) *CatalogHandler {
	if screenings == nil {
		panic("nil screening lister passed to NewCatalogHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CatalogHandler{Screenings: screenings, Catalog: catalog, Log: log}
}

type screeningsQuery struct {
	MovieID string `query:"movie_id" validate:"required,max=64"`
	Date    string `query:"date" validate:"required,datetime=2006-01-02"`
}

// TicketTypes handles GET /v1/ticket-types.
func (h *CatalogHandler) TicketTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Catalog)
}

// ListScreenings handles GET /v1/screenings?movie_id=..&date=YYYY-MM-DD.
func (h *CatalogHandler) ListScreenings(c echo.Context) error {
	var q screeningsQuery
	if err := bind(c, &q); err != nil {
		return respondError(c, h.Log, err, nil)
	}
	day, err := time.ParseInLocation(time.DateOnly, q.Date, time.UTC)
	if err != nil {
		return respondError(c, h.Log, apperr.New(apperr.ErrInvalidInput, "list screenings", "date must be YYYY-MM-DD"), nil)
	}
	ctx := gateway.WithPatron(c.Request().Context(), middleware.PatronID(c))
	screenings, err := h.Screenings.ListScreenings(ctx, q.MovieID, day)
	if err != nil {
		return respondError(c, h.Log, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"movie_id": q.MovieID, "date": q.Date, "screenings": screenings})
}
