package session

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// patronBackend scopes every backend call of one session to its patron,
// including the calls made by the expiry timer, the idle sweep and
// shutdown, which have no request context of their own.
type patronBackend struct {
	Backend
	patronID string
}

func (b patronBackend) ctx(ctx context.Context) context.Context {
	return gateway.WithPatron(ctx, b.patronID)
}

func (b patronBackend) ListScreenings(ctx context.Context, movieID string, date time.Time) ([]model.Screening, error) {
	return b.Backend.ListScreenings(b.ctx(ctx), movieID, date)
}

func (b patronBackend) GetSeatMap(ctx context.Context, screeningID uint64) ([]model.SeatMapEntry, error) {
	return b.Backend.GetSeatMap(b.ctx(ctx), screeningID)
}

func (b patronBackend) CreateHold(ctx context.Context, screeningID uint64, seatIDs []string) (model.HoldGrant, error) {
	return b.Backend.CreateHold(b.ctx(ctx), screeningID, seatIDs)
}

func (b patronBackend) DeleteHold(ctx context.Context, holdID string) error {
	return b.Backend.DeleteHold(b.ctx(ctx), holdID)
}
