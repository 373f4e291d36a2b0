package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/handler"
	"github.com/iliyamo/cinema-booking-coordinator/internal/hold"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
	"github.com/iliyamo/cinema-booking-coordinator/internal/repository"
	"github.com/iliyamo/cinema-booking-coordinator/internal/reservation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/session"
)

const secret = "router-test-secret"

// backend is an in-memory reservation backend.
type backend struct {
	mu       sync.Mutex
	seq      int
	holds    map[string][]string
	patrons  []string
	commits  int
	taken    map[string]bool
	failNext error
}

func newBackend() *backend {
	return &backend{holds: map[string][]string{}, taken: map[string]bool{}}
}

func (b *backend) ListScreenings(ctx context.Context, movieID string, _ time.Time) ([]model.Screening, error) {
	if movieID != "dune-3" {
		return nil, apperr.New(apperr.ErrNotFound, "list screenings", "unknown movie")
	}
	return []model.Screening{{ID: 12, MovieID: movieID, RoomName: "Hall 1", TotalSeats: 4}}, nil
}

func (b *backend) GetSeatMap(context.Context, uint64) ([]model.SeatMapEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.SeatMapEntry, 0, 4)
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("A%d", i)
		st := model.SeatAvailable
		if b.taken[id] {
			st = model.SeatBooked
		}
		out = append(out, model.SeatMapEntry{ID: id, Row: "A", Number: i, Status: st})
	}
	return out, nil
}

func (b *backend) CreateHold(ctx context.Context, _ uint64, seatIDs []string) (model.HoldGrant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patrons = append(b.patrons, gateway.PatronFrom(ctx))
	b.seq++
	id := fmt.Sprintf("h%d", b.seq)
	b.holds[id] = append([]string(nil), seatIDs...)
	return model.HoldGrant{HoldID: id}, nil
}

func (b *backend) DeleteHold(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.holds, id)
	return nil
}

func (b *backend) CommitReservation(_ context.Context, req model.ReservationRequest, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		return "", err
	}
	b.commits++
	for _, t := range req.Tickets {
		b.taken[t.SeatID] = true
	}
	delete(b.holds, req.HoldID)
	return fmt.Sprintf("r-%d", b.commits), nil
}

func (b *backend) liveHolds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holds)
}

type receipts struct {
	recs []model.BookingRecord
}

func (r *receipts) ListByPatron(_ context.Context, patronID string) ([]model.BookingRecord, error) {
	var out []model.BookingRecord
	for _, rec := range r.recs {
		if rec.PatronID == patronID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *receipts) GetForPatron(ctx context.Context, id, patronID string) (model.BookingRecord, error) {
	recs, _ := r.ListByPatron(ctx, patronID)
	for _, rec := range recs {
		if rec.ReservationID == id {
			return rec, nil
		}
	}
	return model.BookingRecord{}, repository.ErrReceiptNotFound
}

type api struct {
	e        *echo.Echo
	backend  *backend
	registry *session.Registry
	receipts *receipts
}

func newAPI(t *testing.T) *api {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := newBackend()
	catalog := model.NewTicketCatalog([]model.TicketType{
		{ID: 1, Name: "Adult", PriceCents: 1200},
		{ID: 2, Name: "Child", PriceCents: 800},
	}, 10)
	sub := reservation.New(b, catalog, reservation.Options{Logger: quiet})
	build := session.NewBuilder(b, sub, catalog, allocation.New(4), hold.Options{Logger: quiet})
	reg := session.NewRegistry(build, session.Options{Logger: quiet})
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	recs := &receipts{}
	e := echo.New()
	e.Validator = handler.NewRequestValidator()
	RegisterRoutes(e, reg.Len)
	RegisterCustomer(e, CustomerDeps{
		JWTSecret: secret,
		Sessions:  handler.NewSessionHandler(reg, quiet),
		Catalog:   handler.NewCatalogHandler(b, catalog, quiet),
		Receipts:  handler.NewReceiptHandler(recs, quiet),
	})
	return &api{e: e, backend: b, registry: reg, receipts: recs}
}

func token(t *testing.T, patron, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  patron,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (a *api) do(t *testing.T, tok, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec, body := a.do(t, "", http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestBookingOverHTTP(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "p-1", "CUSTOMER")

	rec, view := a.do(t, tok, http.MethodPost, "/v1/sessions", `{"movie_id":"dune-3"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := view["session_id"].(string)
	base := "/v1/sessions/" + id
	assert.Equal(t, base, rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, "date_time", view["step"])

	rec, view = a.do(t, tok, http.MethodPost, base+"/date", `{"date":"2026-10-16"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, view["screenings"], 1)

	rec, _ = a.do(t, tok, http.MethodPost, base+"/screening", `{"screening_id":12}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, view = a.do(t, tok, http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tickets_seats", view["step"])

	a.do(t, tok, http.MethodPost, base+"/tickets", `{"ticket_type_id":1,"delta":1}`)
	rec, _ = a.do(t, tok, http.MethodPost, base+"/tickets", `{"ticket_type_id":2,"delta":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, view = a.do(t, tok, http.MethodPost, base+"/seats", `{"seat_ids":["A1","A2"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.ElementsMatch(t, []any{"A1", "A2"}, view["selected_seat_ids"])
	assert.Equal(t, true, view["can_go_next"])
	assert.Equal(t, 1, a.backend.liveHolds())
	assert.Equal(t, []string{"p-1"}, a.backend.patrons)

	rec, view = a.do(t, tok, http.MethodPost, base+"/points", `{"points":50}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1500), view["total_price_cents"])

	rec, view = a.do(t, tok, http.MethodPost, base+"/next", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirm", view["step"])

	rec, body := a.do(t, tok, http.MethodPost, base+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := body["receipt"].(map[string]any)
	assert.Equal(t, "r-1", receipt["reservation_id"])
	assert.Equal(t, float64(1500), receipt["total_amount_cents"])
	assert.Equal(t, "completed", body["session"].(map[string]any)["step"])
	assert.Equal(t, 0, a.backend.liveHolds())
}

func TestErrorsCarryCodeAndView(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "p-1", "CUSTOMER")
	_, view := a.do(t, tok, http.MethodPost, "/v1/sessions", `{"movie_id":"dune-3"}`)
	base := "/v1/sessions/" + view["session_id"].(string)

	rec, body := a.do(t, tok, http.MethodPost, base+"/next", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "date_time", body["session"].(map[string]any)["step"])

	rec, body = a.do(t, tok, http.MethodPost, base+"/date", `{"date":"16/10/2026"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error"])

	rec, body = a.do(t, tok, http.MethodPost, base+"/seats", `{"seat_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error"])

	rec, body = a.do(t, tok, http.MethodPost, base+"/points", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestSessionsArePrivate(t *testing.T) {
	a := newAPI(t)
	owner := token(t, "p-1", "CUSTOMER")
	other := token(t, "p-2", "CUSTOMER")
	_, view := a.do(t, owner, http.MethodPost, "/v1/sessions", `{"movie_id":"dune-3"}`)
	base := "/v1/sessions/" + view["session_id"].(string)

	rec, body := a.do(t, other, http.MethodGet, base, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", body["error"])

	rec, _ = a.do(t, "", http.MethodGet, base, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, token(t, "p-1", "OWNER"), http.MethodGet, base, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = a.do(t, owner, http.MethodGet, "/v1/sessions/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestAbandonReleasesHold(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "p-1", "CUSTOMER")
	_, view := a.do(t, tok, http.MethodPost, "/v1/sessions", `{"movie_id":"dune-3"}`)
	base := "/v1/sessions/" + view["session_id"].(string)
	a.do(t, tok, http.MethodPost, base+"/date", `{"date":"2026-10-16"}`)
	a.do(t, tok, http.MethodPost, base+"/screening", `{"screening_id":12}`)
	a.do(t, tok, http.MethodPost, base+"/next", "")
	a.do(t, tok, http.MethodPost, base+"/tickets", `{"ticket_type_id":1,"delta":1}`)
	a.do(t, tok, http.MethodPost, base+"/seats", `{"seat_ids":["A3"]}`)
	require.Equal(t, 1, a.backend.liveHolds())

	rec, _ := a.do(t, tok, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, a.backend.liveHolds())
	assert.Equal(t, 0, a.registry.Len())
}

func TestCommitConflictReturnsToSeats(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "p-1", "CUSTOMER")
	_, view := a.do(t, tok, http.MethodPost, "/v1/sessions", `{"movie_id":"dune-3"}`)
	base := "/v1/sessions/" + view["session_id"].(string)
	a.do(t, tok, http.MethodPost, base+"/date", `{"date":"2026-10-16"}`)
	a.do(t, tok, http.MethodPost, base+"/screening", `{"screening_id":12}`)
	a.do(t, tok, http.MethodPost, base+"/next", "")
	a.do(t, tok, http.MethodPost, base+"/tickets", `{"ticket_type_id":1,"delta":1}`)
	a.do(t, tok, http.MethodPost, base+"/seats", `{"seat_ids":["A4"]}`)
	a.do(t, tok, http.MethodPost, base+"/next", "")

	a.backend.mu.Lock()
	a.backend.failNext = apperr.Seats(apperr.ErrSeatNoLongerAvailable, "commit reservation", []string{"A4"})
	a.backend.mu.Unlock()

	rec, body := a.do(t, tok, http.MethodPost, base+"/confirm", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_no_longer_available", body["error"])
	s := body["session"].(map[string]any)
	assert.Equal(t, "tickets_seats", s["step"])
	assert.Empty(t, s["selected_seat_ids"])
	assert.NotEmpty(t, s["errors"])

	rec, s = a.do(t, tok, http.MethodDelete, base+"/errors", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s["errors"])
}

func TestCatalogAndReceipts(t *testing.T) {
	a := newAPI(t)
	tok := token(t, "p-1", "CUSTOMER")
	a.receipts.recs = []model.BookingRecord{
		{ReservationID: "r-7", PatronID: "p-1", MovieID: "dune-3"},
		{ReservationID: "r-8", PatronID: "p-2", MovieID: "dune-3"},
	}

	rec, body := a.do(t, tok, http.MethodGet, "/v1/ticket-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["types"], 2)

	rec, body = a.do(t, tok, http.MethodGet, "/v1/screenings?movie_id=dune-3&date=2026-10-16", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body["screenings"], 1)

	rec, _ = a.do(t, tok, http.MethodGet, "/v1/screenings?movie_id=dune-3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, tok, http.MethodGet, "/v1/screenings?movie_id=nope&date=2026-10-16", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = a.do(t, tok, http.MethodGet, "/v1/my-bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["bookings"], 1)

	rec, _ = a.do(t, tok, http.MethodGet, "/v1/my-bookings/r-7/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec, _ = a.do(t, tok, http.MethodGet, "/v1/my-bookings/r-8/qr", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
