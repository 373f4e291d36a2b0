package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

type ticketTypesResponse struct {
	Items           []model.TicketType `json:"items"`
	PointValueCents uint32             `json:"point_value_cents"`
}

type screeningsResponse struct {
	Items []model.Screening `json:"items"`
}

type seatMapResponse struct {
	Items []model.SeatMapEntry `json:"items"`
}

// ListTicketTypes fetches the ticket-type catalog. It is called once at
// start-up; the result is shared read-only by every session.
func (c *Client) ListTicketTypes(ctx context.Context) (model.TicketCatalog, error) {
	const op = "list ticket types"
	r, err := c.read(ctx, op, "/ticket-types", nil)
	if err != nil {
		return model.TicketCatalog{}, err
	}
	if !ok(r.status) {
		return model.TicketCatalog{}, statusError(op, r, nil)
	}
	var body ticketTypesResponse
	if err := decode(op, r, &body); err != nil {
		return model.TicketCatalog{}, err
	}
	return model.NewTicketCatalog(body.Items, body.PointValueCents), nil
}

// ListScreenings returns the screenings of movieID on date. A valid date
// without screenings yields an empty slice, not an error; an unknown movie
// yields ErrNotFound.
func (c *Client) ListScreenings(ctx context.Context, movieID string, date time.Time) ([]model.Screening, error) {
	const op = "list screenings"
	if movieID == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, op, "movie id is required")
	}
	q := url.Values{}
	q.Set("movieId", movieID)
	q.Set("date", date.Format(DateLayout))
	r, err := c.read(ctx, op, "/screenings", q)
	if err != nil {
		return nil, err
	}
	if !ok(r.status) {
		return nil, statusError(op, r, nil)
	}
	var body screeningsResponse
	if err := decode(op, r, &body); err != nil {
		return nil, err
	}
	if body.Items == nil {
		return []model.Screening{}, nil
	}
	return body.Items, nil
}

// GetSeatMap returns a snapshot of the seats of a screening. The statuses
// may already be stale when they arrive.
func (c *Client) GetSeatMap(ctx context.Context, screeningID uint64) ([]model.SeatMapEntry, error) {
	const op = "get seat map"
	r, err := c.read(ctx, op, "/screenings/"+strconv.FormatUint(screeningID, 10)+"/seats", nil)
	if err != nil {
		return nil, err
	}
	if !ok(r.status) {
		// only transport-level failures are expected here; anything else is
		// reported as a network failure so the caller simply retries
		if r.status == http.StatusNotFound {
			return nil, statusError(op, r, nil)
		}
		return nil, apperr.Wrap(apperr.ErrNetwork, op, statusError(op, r, nil))
	}
	var body seatMapResponse
	if err := decode(op, r, &body); err != nil {
		return nil, err
	}
	if body.Items == nil {
		return []model.SeatMapEntry{}, nil
	}
	return body.Items, nil
}
