package model

import "time"

// ReservationRequest is the single commit request sent to the backend. It
// is derived from the wizard state at confirmation time and must be
// identical across retries of the same commit.
type ReservationRequest struct {
	ScreeningID uint64             `json:"screening_id"`
	HoldID      string             `json:"hold_id"`
	Tickets     []TicketAssignment `json:"tickets"`
	UsedPoints  int                `json:"used_points"`
}

// Receipt is what the patron gets back from a successful commit.
//
// Fields:
//
//	ReservationID    – id of the booking created by the backend.
//	ScreeningID      – screening booked.
//	Tickets          – seat to ticket-type pairs that were committed.
//	UsedPoints       – loyalty points spent.
//	TotalAmountCents – price paid after points.
//	IdempotencyKey   – key the commit was sent with.
//	ConfirmedAt      – local confirmation time.
type Receipt struct {
	ReservationID    string             `json:"reservation_id"`
	ScreeningID      uint64             `json:"screening_id"`
	Tickets          []TicketAssignment `json:"tickets"`
	UsedPoints       int                `json:"used_points"`
	TotalAmountCents uint32             `json:"total_amount_cents"`
	IdempotencyKey   string             `json:"idempotency_key"`
	ConfirmedAt      time.Time          `json:"confirmed_at"`
}
