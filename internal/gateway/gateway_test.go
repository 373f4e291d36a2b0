package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// newBackend starts an echo server standing in for the reservation backend.
func newBackend(t *testing.T, register func(e *echo.Echo)) *Client {
	t.Helper()
	e := echo.New()
	register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Token: "svc-token", Timeout: 500 * time.Millisecond})
}

func TestListScreenings(t *testing.T) {
	starts := time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC)
	c := newBackend(t, func(e *echo.Echo) {
		e.GET("/screenings", func(c echo.Context) error {
			if c.QueryParam("movieId") == "unknown" {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "movie not found"})
			}
			if c.QueryParam("date") != "2026-10-15" {
				return c.JSON(http.StatusOK, echo.Map{"items": []model.Screening{}})
			}
			return c.JSON(http.StatusOK, echo.Map{"items": []model.Screening{
				{ID: 11, MovieID: c.QueryParam("movieId"), RoomName: "Hall 1", StartsAt: starts, TotalSeats: 120, AvailableSeats: 80},
			}})
		})
	})
	ctx := context.Background()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	got, err := c.ListScreenings(ctx, "dune-3", day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(11), got[0].ID)
	assert.Equal(t, "dune-3", got[0].MovieID)
	assert.True(t, starts.Equal(got[0].StartsAt))

	empty, err := c.ListScreenings(ctx, "dune-3", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = c.ListScreenings(ctx, "unknown", day)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetSeatMap(t *testing.T) {
	c := newBackend(t, func(e *echo.Echo) {
		e.GET("/screenings/:id/seats", func(c echo.Context) error {
			if c.Param("id") == "13" {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "down"})
			}
			return c.JSON(http.StatusOK, echo.Map{"items": []model.SeatMapEntry{
				{ID: "A1", Row: "A", Number: 1, Status: model.SeatAvailable},
				{ID: "A2", Row: "A", Number: 2, Status: model.SeatBooked},
			}})
		})
	})

	seats, err := c.GetSeatMap(context.Background(), 12)
	require.NoError(t, err)
	assert.Len(t, seats, 2)
	assert.Equal(t, model.SeatBooked, seats[1].Status)

	_, err = c.GetSeatMap(context.Background(), 13)
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
	assert.True(t, apperr.Retryable(err))
}

func TestCoalescedReadOutlivesImpatientCaller(t *testing.T) {
	var calls int32
	entered := make(chan struct{}, 1)
	c := newBackend(t, func(e *echo.Echo) {
		e.GET("/screenings/:id/seats", func(c echo.Context) error {
			atomic.AddInt32(&calls, 1)
			entered <- struct{}{}
			time.Sleep(150 * time.Millisecond)
			return c.JSON(http.StatusOK, echo.Map{"items": []model.SeatMapEntry{
				{ID: "A1", Row: "A", Number: 1, Status: model.SeatAvailable},
			}})
		})
	})

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := c.GetSeatMap(short, 12)
		first <- err
	}()
	<-entered

	// joins the request already in flight
	seats, err := c.GetSeatMap(context.Background(), 12)
	require.NoError(t, err)
	assert.Len(t, seats, 1)

	err = <-first
	assert.True(t, errors.Is(err, apperr.ErrTimeout), "got %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateHold(t *testing.T) {
	expires := time.Date(2026, 10, 15, 19, 10, 0, 0, time.UTC)
	c := newBackend(t, func(e *echo.Echo) {
		e.POST("/holds", func(c echo.Context) error {
			var body holdRequest
			if err := c.Bind(&body); err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad body"})
			}
			if c.Request().Header.Get("Authorization") != "Bearer svc-token" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			for _, id := range body.SeatIDs {
				if id == "B1" {
					return c.JSON(http.StatusConflict, echo.Map{"error": "seat_unavailable", "unavailable": []string{"B1"}})
				}
			}
			return c.JSON(http.StatusCreated, echo.Map{"hold_id": "h-1", "expires_at": expires})
		})
	})

	grant, err := c.CreateHold(context.Background(), 12, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, "h-1", grant.HoldID)
	assert.True(t, expires.Equal(grant.ExpiresAt))

	_, err = c.CreateHold(context.Background(), 12, []string{"A1", "B1"})
	assert.True(t, errors.Is(err, apperr.ErrSeatUnavailable))
	assert.Equal(t, []string{"B1"}, apperr.SeatIDsOf(err))

	_, err = c.CreateHold(context.Background(), 12, nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestDeleteHoldIsIdempotent(t *testing.T) {
	var calls int32
	c := newBackend(t, func(e *echo.Echo) {
		e.DELETE("/holds/:id", func(c echo.Context) error {
			if atomic.AddInt32(&calls, 1) > 1 {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
			}
			return c.NoContent(http.StatusNoContent)
		})
	})

	assert.NoError(t, c.DeleteHold(context.Background(), "h-1"))
	assert.NoError(t, c.DeleteHold(context.Background(), "h-1"))
	assert.NoError(t, c.DeleteHold(context.Background(), ""))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCommitReservation(t *testing.T) {
	var gotKey, gotPatron string
	c := newBackend(t, func(e *echo.Echo) {
		e.POST("/reservations", func(c echo.Context) error {
			gotKey = c.Request().Header.Get("Idempotency-Key")
			gotPatron = c.Request().Header.Get("X-Patron-Id")
			var req model.ReservationRequest
			if err := c.Bind(&req); err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad body"})
			}
			switch req.HoldID {
			case "taken":
				return c.JSON(http.StatusConflict, echo.Map{"error": "seat_unavailable", "unavailable": []string{"A1"}})
			case "lapsed":
				return c.JSON(http.StatusGone, echo.Map{"error": "hold_expired"})
			case "slow":
				time.Sleep(time.Second)
			}
			return c.JSON(http.StatusCreated, echo.Map{"reservation_id": "r-77"})
		})
	})
	ctx := WithPatron(context.Background(), "patron-9")
	req := model.ReservationRequest{
		ScreeningID: 12,
		HoldID:      "h-1",
		Tickets:     []model.TicketAssignment{{SeatID: "A1", TicketTypeID: 1}},
	}

	id, err := c.CommitReservation(ctx, req, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "r-77", id)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "patron-9", gotPatron)

	req.HoldID = "taken"
	_, err = c.CommitReservation(ctx, req, "key-2")
	assert.True(t, errors.Is(err, apperr.ErrSeatNoLongerAvailable))

	req.HoldID = "lapsed"
	_, err = c.CommitReservation(ctx, req, "key-3")
	assert.True(t, errors.Is(err, apperr.ErrHoldExpiredServerSide))

	req.HoldID = "slow"
	_, err = c.CommitReservation(ctx, req, "key-4")
	assert.True(t, errors.Is(err, apperr.ErrTimeout))
	assert.True(t, apperr.Retryable(err))
}

func TestListTicketTypesSorted(t *testing.T) {
	c := newBackend(t, func(e *echo.Echo) {
		e.GET("/ticket-types", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{
				"items": []model.TicketType{
					{ID: 2, Name: "Child", PriceCents: 800},
					{ID: 1, Name: "Adult", PriceCents: 1200},
				},
				"point_value_cents": 10,
			})
		})
	})

	cat, err := c.ListTicketTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Types, 2)
	assert.Equal(t, "Adult", cat.Types[0].Name)
	assert.Equal(t, uint32(10), cat.PointValueCents)
}

func TestUnreachableBackendIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(Options{BaseURL: url, Timeout: 200 * time.Millisecond})

	_, err := c.GetSeatMap(context.Background(), 1)
	assert.True(t, apperr.Retryable(err))
}
