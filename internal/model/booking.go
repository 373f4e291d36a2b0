package model

import "time"

// BookingRecord is the stored form of a confirmed booking: the receipt
// plus what the patron needs to find their screening again. Records are
// written by the booking.confirmed consumer and read by "my bookings".
type BookingRecord struct {
	ReservationID    string             `json:"reservation_id"`
	PatronID         string             `json:"patron_id"`
	MovieID          string             `json:"movie_id"`
	ScreeningID      uint64             `json:"screening_id"`
	RoomName         string             `json:"room_name"`
	StartsAt         time.Time          `json:"starts_at"`
	Tickets          []TicketAssignment `json:"tickets"`
	UsedPoints       int                `json:"used_points"`
	TotalAmountCents uint32             `json:"total_amount_cents"`
	ConfirmedAt      time.Time          `json:"confirmed_at"`
}
