// Package queue carries booking.confirmed events over RabbitMQ: the
// publisher announces committed bookings and the consumer turns them into
// stored receipts.
package queue

import (
    "time"

    "github.com/iliyamo/cinema-booking-coordinator/internal/model"
    "github.com/iliyamo/cinema-booking-coordinator/internal/reservation"
)

// BookingQueueName is the durable queue both sides declare.
const BookingQueueName = "booking.confirmed"

// BookingConfirmedEvent is published when a reservation is committed.  It
// contains enough information for downstream consumers to store a receipt
// or notify the patron without calling the reservation backend.
type BookingConfirmedEvent struct {
    ReservationID    string                   `json:"reservation_id"`
    PatronID         string                   `json:"patron_id"`
    MovieID          string                   `json:"movie_id"`
    ScreeningID      uint64                   `json:"screening_id"`
    RoomName         string                   `json:"room_name"`
    StartsAt         string                   `json:"starts_at,omitempty"`
    Tickets          []model.TicketAssignment `json:"tickets"`
    UsedPoints       int                      `json:"used_points"`
    TotalAmountCents uint32                   `json:"total_amount_cents"`
    IdempotencyKey   string                   `json:"idempotency_key"`
    ConfirmedAt      string                   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event of a confirmation.  Times are
// RFC 3339 in UTC.
func NewBookingConfirmedEvent(c reservation.Confirmation) BookingConfirmedEvent {
    ev := BookingConfirmedEvent{
        ReservationID:    c.Receipt.ReservationID,
        PatronID:         c.PatronID,
        MovieID:          c.MovieID,
        ScreeningID:      c.Receipt.ScreeningID,
        RoomName:         c.Screening.RoomName,
        Tickets:          append([]model.TicketAssignment{}, c.Receipt.Tickets...),
        UsedPoints:       c.Receipt.UsedPoints,
        TotalAmountCents: c.Receipt.TotalAmountCents,
        IdempotencyKey:   c.Receipt.IdempotencyKey,
        ConfirmedAt:      c.Receipt.ConfirmedAt.UTC().Format(time.RFC3339),
    }
    if !c.Screening.StartsAt.IsZero() {
        ev.StartsAt = c.Screening.StartsAt.UTC().Format(time.RFC3339)
    }
    return ev
}

// Record converts the event into the stored receipt form.
func (ev BookingConfirmedEvent) Record() (model.BookingRecord, error) {
    confirmedAt, err := time.Parse(time.RFC3339, ev.ConfirmedAt)
    if err != nil {
        return model.BookingRecord{}, err
    }
    rec := model.BookingRecord{
        ReservationID:    ev.ReservationID,
        PatronID:         ev.PatronID,
        MovieID:          ev.MovieID,
        ScreeningID:      ev.ScreeningID,
        RoomName:         ev.RoomName,
        Tickets:          ev.Tickets,
        UsedPoints:       ev.UsedPoints,
        TotalAmountCents: ev.TotalAmountCents,
        ConfirmedAt:      confirmedAt.UTC(),
    }
    if ev.StartsAt != "" {
        startsAt, err := time.Parse(time.RFC3339, ev.StartsAt)
        if err != nil {
            return model.BookingRecord{}, err
        }
        rec.StartsAt = startsAt.UTC()
    }
    return rec, nil
}
