package model

import "time"

// SeatHold represents an in-flight lock on a set of seats held by the
// remote reservation backend on behalf of one wizard session. Exactly one
// hold is active per session; changing the selection replaces the hold.
//
// Fields:
//
//	ID          – hold id issued by the backend.
//	ScreeningID – screening the seats belong to.
//	SeatIDs     – held seats, in the order they were selected.
//	AcquiredAt  – when the backend granted the hold.
//	ExpiresAt   – local expiry deadline.
type SeatHold struct {
	ID          string    `json:"id"`
	ScreeningID uint64    `json:"screening_id"`
	SeatIDs     []string  `json:"seat_ids"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Covers reports whether the hold covers exactly the given seats,
// regardless of order.
func (h SeatHold) Covers(seatIDs []string) bool {
	if len(h.SeatIDs) != len(seatIDs) {
		return false
	}
	held := make(map[string]int, len(h.SeatIDs))
	for _, id := range h.SeatIDs {
		held[id]++
	}
	for _, id := range seatIDs {
		if held[id] == 0 {
			return false
		}
		held[id]--
	}
	return true
}

// Expired reports whether the hold's deadline has passed at now.
func (h SeatHold) Expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// HoldGrant is the backend's answer to a successful hold request.
type HoldGrant struct {
	HoldID    string    `json:"hold_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
