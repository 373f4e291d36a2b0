package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/clock"
	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/hold"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

var (
	epoch = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	day   = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
)

// fakeBackend records which patron every hold call was made for.
type fakeBackend struct {
	mu         sync.Mutex
	seq        int
	alive      map[string]bool
	createdFor map[string]string
	releasedBy map[string]string
	seatMapFor []string
}

func (b *fakeBackend) ListScreenings(context.Context, string, time.Time) ([]model.Screening, error) {
	return []model.Screening{{ID: 12, RoomName: "Hall 1"}}, nil
}

func (b *fakeBackend) GetSeatMap(ctx context.Context, _ uint64) ([]model.SeatMapEntry, error) {
	b.mu.Lock()
	b.seatMapFor = append(b.seatMapFor, gateway.PatronFrom(ctx))
	b.mu.Unlock()
	return []model.SeatMapEntry{{ID: "A1", Row: "A", Number: 1, Status: model.SeatAvailable}}, nil
}

func (b *fakeBackend) CreateHold(ctx context.Context, _ uint64, _ []string) (model.HoldGrant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("h%d", b.seq)
	b.alive[id] = true
	b.createdFor[id] = gateway.PatronFrom(ctx)
	return model.HoldGrant{HoldID: id}, nil
}

func (b *fakeBackend) DeleteHold(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.alive, id)
	b.releasedBy[id] = gateway.PatronFrom(ctx)
	return nil
}

func (b *fakeBackend) released() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.releasedBy)
}

func (b *fakeBackend) seatMapPatrons() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seatMapFor...)
}

func (b *fakeBackend) holds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alive)
}

func newRegistry(t *testing.T) (*Registry, *fakeBackend, *clock.Fake) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(epoch)
	return newRegistryWith(t, clk, hold.Options{Clock: clk, Logger: quiet}, quiet)
}

func newRegistryWith(t *testing.T, clk *clock.Fake, holdOpts hold.Options, log *slog.Logger) (*Registry, *fakeBackend, *clock.Fake) {
	t.Helper()
	backend := &fakeBackend{alive: map[string]bool{}, createdFor: map[string]string{}, releasedBy: map[string]string{}}
	catalog := model.NewTicketCatalog([]model.TicketType{{ID: 1, Name: "Adult", PriceCents: 1200}}, 0)
	build := NewBuilder(backend, nil, catalog, allocation.New(8), holdOpts)
	r := NewRegistry(build, Options{IdleTTL: 30 * time.Minute, Clock: clk, Logger: log})
	return r, backend, clk
}

// holdSeat drives a session up to a held seat.
func holdSeat(t *testing.T, r *Registry, id, patron string) {
	t.Helper()
	ctx := context.Background()
	w, err := r.Get(id, patron)
	require.NoError(t, err)
	require.NoError(t, w.SelectDate(ctx, day))
	require.NoError(t, w.SelectScreening(ctx, 12))
	require.NoError(t, w.GoNext(ctx))
	require.NoError(t, w.ChangeTicketCount(ctx, 1, 1))
	require.NoError(t, w.ToggleSeat(ctx, "A1"))
}

func TestCreateAndGet(t *testing.T) {
	r, _, _ := newRegistry(t)

	id, w, err := r.Create("p-1", "dune-3")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, model.StepDateTime, w.Session().Step)
	assert.Equal(t, "dune-3", w.Session().MovieID)

	got, err := r.Get(id, "p-1")
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = r.Get(id, "p-2")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = r.Get("nope", "p-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, _, err = r.Create("p-1", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	assert.Equal(t, 1, r.Len())
}

func TestRemoveReleasesHold(t *testing.T) {
	r, backend, _ := newRegistry(t)
	id, _, err := r.Create("p-1", "dune-3")
	require.NoError(t, err)
	holdSeat(t, r, id, "p-1")
	require.Equal(t, 1, backend.holds())

	assert.True(t, errors.Is(r.Remove(context.Background(), id, "p-2"), apperr.ErrForbidden))
	require.NoError(t, r.Remove(context.Background(), id, "p-1"))

	assert.Equal(t, 0, backend.holds())
	assert.Equal(t, 0, r.Len())
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	r, backend, clk := newRegistry(t)
	idle, _, err := r.Create("p-1", "dune-3")
	require.NoError(t, err)
	holdSeat(t, r, idle, "p-1")

	clk.Advance(20 * time.Minute)
	active, w, err := r.Create("p-2", "dune-3")
	require.NoError(t, err)
	require.NoError(t, w.SelectDate(context.Background(), day))

	clk.Advance(11 * time.Minute)
	assert.Equal(t, 1, r.Sweep(context.Background()))

	_, err = r.Get(idle, "p-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = r.Get(active, "p-2")
	assert.NoError(t, err)
	assert.Equal(t, 0, backend.holds())
}

func TestShutdownAbandonsEverything(t *testing.T) {
	r, backend, _ := newRegistry(t)
	for i := 0; i < 3; i++ {
		patron := fmt.Sprintf("p-%d", i)
		id, _, err := r.Create(patron, "dune-3")
		require.NoError(t, err)
		holdSeat(t, r, id, patron)
	}
	require.Equal(t, 3, backend.holds())

	r.Shutdown(context.Background())

	assert.Equal(t, 0, backend.holds())
	assert.Equal(t, 0, r.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	r, _, _ := newRegistry(t)
	r.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExpiryCallsCarryThePatron(t *testing.T) {
	r, backend, clk := newRegistry(t)
	id, _, err := r.Create("p-1", "dune-3")
	require.NoError(t, err)
	holdSeat(t, r, id, "p-1")

	clk.Advance(11 * time.Minute)

	assert.Equal(t, map[string]string{"h1": "p-1"}, backend.released())
	patrons := backend.seatMapPatrons()
	require.Len(t, patrons, 2, "seat selection entry and the refresh after expiry")
	assert.Equal(t, []string{"p-1", "p-1"}, patrons)
}

func TestSweepAndShutdownReleasesCarryThePatron(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(epoch)
	r, backend, _ := newRegistryWith(t, clk, hold.Options{TTL: 2 * time.Hour, Clock: clk, Logger: quiet}, quiet)

	idle, _, err := r.Create("p-1", "dune-3")
	require.NoError(t, err)
	holdSeat(t, r, idle, "p-1")
	clk.Advance(31 * time.Minute)
	require.Equal(t, 1, r.Sweep(context.Background()))
	assert.Equal(t, map[string]string{"h1": "p-1"}, backend.released())

	for _, patron := range []string{"p-2", "p-3"} {
		id, _, err := r.Create(patron, "dune-3")
		require.NoError(t, err)
		holdSeat(t, r, id, patron)
	}
	r.Shutdown(context.Background())

	assert.Equal(t, backend.createdFor, backend.released())
	assert.Equal(t, map[string]string{"h1": "p-1", "h2": "p-2", "h3": "p-3"}, backend.released())
}
