package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
	"github.com/iliyamo/cinema-booking-coordinator/internal/repository"
)

type fakeReceipts struct {
	recs []model.BookingRecord
}

func (f *fakeReceipts) ListByPatron(_ context.Context, patronID string) ([]model.BookingRecord, error) {
	var out []model.BookingRecord
	for _, r := range f.recs {
		if r.PatronID == patronID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReceipts) GetForPatron(_ context.Context, id, patronID string) (model.BookingRecord, error) {
	for _, r := range f.recs {
		if r.ReservationID == id && r.PatronID == patronID {
			return r, nil
		}
	}
	return model.BookingRecord{}, repository.ErrReceiptNotFound
}

func newContext(e *echo.Echo, method, target, body, patron string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if patron != "" {
		c.Set("user_id", patron)
	}
	return c, rec
}

func TestValidatorNamesJSONField(t *testing.T) {
	e := echo.New()
	e.Validator = NewRequestValidator()

	c, _ := newContext(e, http.MethodPost, "/", `{"date":"15/10/2026"}`, "p-1")
	var req dateRequest
	err := bind(c, &req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "date failed on datetime")

	c, _ = newContext(e, http.MethodPost, "/", `{"points":0}`, "p-1")
	var pts pointsRequest
	require.NoError(t, bind(c, &pts))
	assert.Equal(t, 0, *pts.Points)

	c, _ = newContext(e, http.MethodPost, "/", `{}`, "p-1")
	pts = pointsRequest{}
	assert.ErrorIs(t, bind(c, &pts), apperr.ErrInvalidInput)

	c, _ = newContext(e, http.MethodPost, "/", `{"seat_ids":`, "p-1")
	var seats seatsRequest
	assert.ErrorIs(t, bind(c, &seats), apperr.ErrInvalidInput)
}

func TestRespondErrorShape(t *testing.T) {
	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/", "", "")
	require.NoError(t, respondError(c, nil, apperr.New(apperr.ErrNotFound, "get session", ""), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "session")
}

func TestReceiptsDisabledWithoutStore(t *testing.T) {
	e := echo.New()
	h := NewReceiptHandler(nil, nil)

	c, rec := newContext(e, http.MethodGet, "/v1/my-bookings", "", "p-1")
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "receipts_disabled")

	c, rec = newContext(e, http.MethodGet, "/v1/my-bookings/r-1/qr", "", "p-1")
	require.NoError(t, h.QR(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReceiptListAndQR(t *testing.T) {
	store := &fakeReceipts{recs: []model.BookingRecord{
		{ReservationID: "r-1", PatronID: "p-1", ScreeningID: 7, ConfirmedAt: time.Now().UTC()},
		{ReservationID: "r-2", PatronID: "p-2", ScreeningID: 7, ConfirmedAt: time.Now().UTC()},
	}}
	e := echo.New()
	h := NewReceiptHandler(store, nil)
	h.QRSize = 64

	c, rec := newContext(e, http.MethodGet, "/v1/my-bookings", "", "p-1")
	require.NoError(t, h.List(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bookings []model.BookingRecord `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Bookings, 1)
	assert.Equal(t, "r-1", body.Bookings[0].ReservationID)

	c, rec = newContext(e, http.MethodGet, "/", "", "p-1")
	c.SetParamNames("id")
	c.SetParamValues("r-1")
	require.NoError(t, h.QR(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	// Another patron's booking is indistinguishable from a missing one.
	c, rec = newContext(e, http.MethodGet, "/", "", "p-1")
	c.SetParamNames("id")
	c.SetParamValues("r-2")
	require.NoError(t, h.QR(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsSessionCount(t *testing.T) {
	e := echo.New()
	c, rec := newContext(e, http.MethodGet, "/healthz", "", "")
	require.NoError(t, Health(func() int { return 3 })(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":3}`, rec.Body.String())
}
