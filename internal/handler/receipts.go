package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"

	"github.com/iliyamo/cinema-booking-coordinator/internal/middleware"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
	"github.com/iliyamo/cinema-booking-coordinator/internal/repository"
)

// DefaultQRSize is the edge length of receipt QR codes in pixels.
const DefaultQRSize = 300

// ReceiptReader reads stored receipts.
type ReceiptReader interface {
	ListByPatron(ctx context.Context, patronID string) ([]model.BookingRecord, error)
	GetForPatron(ctx context.Context, reservationID, patronID string) (model.BookingRecord, error)
}

// ReceiptHandler lists a patron's confirmed bookings and renders the QR
// code shown at the door.  Store is nil when no receipt database is
// configured; the routes then answer 503.
type ReceiptHandler struct {
	Store  ReceiptReader
	QRSize int
	Log    *slog.Logger
}

// NewReceiptHandler constructs a ReceiptHandler.
func NewReceiptHandler(store ReceiptReader, log *slog.Logger) *ReceiptHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ReceiptHandler{Store: store, QRSize: DefaultQRSize, Log: log}
}

func (h *ReceiptHandler) disabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "receipts_disabled", "message": "booking history is not available"})
}

// List handles GET /v1/my-bookings.
func (h *ReceiptHandler) List(c echo.Context) error {
	if h.Store == nil {
		return h.disabled(c)
	}
	recs, err := h.Store.ListByPatron(c.Request().Context(), middleware.PatronID(c))
	if err != nil {
		h.Log.Error("list receipts failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": recs})
}

// QR handles GET /v1/my-bookings/:id/qr.  The code encodes the reservation
// id only; the door scanner looks everything else up.
func (h *ReceiptHandler) QR(c echo.Context) error {
	if h.Store == nil {
		return h.disabled(c)
	}
	rec, err := h.Store.GetForPatron(c.Request().Context(), c.Param("id"), middleware.PatronID(c))
	if errors.Is(err, repository.ErrReceiptNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "booking not found"})
	}
	if err != nil {
		h.Log.Error("load receipt failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "database error"})
	}
	png, err := qrcode.Encode("booking:"+rec.ReservationID, qrcode.Medium, h.QRSize)
	if err != nil {
		h.Log.Error("render qr failed", slog.String("reservation_id", rec.ReservationID), slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "could not render code"})
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return c.Blob(http.StatusOK, "image/png", png)
}
