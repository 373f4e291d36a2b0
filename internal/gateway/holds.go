package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

type holdRequest struct {
	ScreeningID uint64   `json:"screening_id"`
	SeatIDs     []string `json:"seat_ids"`
}

type commitResponse struct {
	ReservationID string `json:"reservation_id"`
}

// CreateHold asks the backend to lock exactly seatIDs. The lock is keyed by
// the whole set; a 409 means at least one seat is held by someone else or
// already booked and is reported as ErrSeatUnavailable with the offending
// seats attached.
func (c *Client) CreateHold(ctx context.Context, screeningID uint64, seatIDs []string) (model.HoldGrant, error) {
	const op = "create hold"
	if len(seatIDs) == 0 {
		return model.HoldGrant{}, apperr.New(apperr.ErrInvalidInput, op, "seat_ids is required")
	}
	r, err := c.do(ctx, op, http.MethodPost, "/holds", nil, holdRequest{ScreeningID: screeningID, SeatIDs: seatIDs}, nil)
	if err != nil {
		return model.HoldGrant{}, err
	}
	if !ok(r.status) {
		return model.HoldGrant{}, statusError(op, r, apperr.ErrSeatUnavailable)
	}
	var grant model.HoldGrant
	if err := decode(op, r, &grant); err != nil {
		return model.HoldGrant{}, err
	}
	if grant.HoldID == "" {
		return model.HoldGrant{}, apperr.New(apperr.ErrNetwork, op, "backend returned an empty hold id")
	}
	return grant, nil
}

// DeleteHold releases a hold. The backend answers 2xx even when the hold is
// already gone; a 404 is treated the same way so the call stays idempotent.
func (c *Client) DeleteHold(ctx context.Context, holdID string) error {
	const op = "delete hold"
	if holdID == "" {
		return nil
	}
	r, err := c.do(ctx, op, http.MethodDelete, "/holds/"+url.PathEscape(holdID), nil, nil, nil)
	if err != nil {
		return err
	}
	if ok(r.status) || r.status == http.StatusNotFound || r.status == http.StatusGone {
		return nil
	}
	return statusError(op, r, nil)
}

// CommitReservation sends the single commit request. The idempotency key
// lets the backend recognise a retry of a commit it already applied.
func (c *Client) CommitReservation(ctx context.Context, req model.ReservationRequest, idempotencyKey string) (string, error) {
	const op = "commit reservation"
	h := http.Header{}
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	r, err := c.do(ctx, op, http.MethodPost, "/reservations", nil, req, h)
	if err != nil {
		return "", err
	}
	if !ok(r.status) {
		return "", statusError(op, r, apperr.ErrSeatNoLongerAvailable)
	}
	var body commitResponse
	if err := decode(op, r, &body); err != nil {
		return "", err
	}
	if body.ReservationID == "" {
		return "", apperr.New(apperr.ErrNetwork, op, "backend returned an empty reservation id")
	}
	return body.ReservationID, nil
}
