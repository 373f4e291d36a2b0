// Package allocation tracks how many tickets of each type a patron wants and
// pairs selected seats with ticket types at commit time.
package allocation

import (
	"fmt"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// DefaultMaxTickets is used when a Model is built with a non-positive limit.
const DefaultMaxTickets = 8

// Model enforces the per-session ticket limit.
type Model struct {
	max int
}

// New returns a Model that refuses totals above max.
func New(max int) *Model {
	if max <= 0 {
		max = DefaultMaxTickets
	}
	return &Model{max: max}
}

// Max returns the configured ticket limit.
func (m *Model) Max() int { return m.max }

// SetCount applies delta to the count of ticketTypeID and returns the new
// counts. The input map is never modified. Counts clamp at zero; an
// increment that would push the total above the limit is refused and the
// unchanged counts are returned together with ErrLimitExceeded.
func (m *Model) SetCount(counts model.TicketTypeCount, ticketTypeID uint64, delta int) (model.TicketTypeCount, error) {
	out := counts.Clone()
	if delta == 0 {
		return out, nil
	}
	cur := out[ticketTypeID]
	next := cur + delta
	if next < 0 {
		next = 0
	}
	if next > cur && TotalRequested(out)-cur+next > m.max {
		return out, apperr.New(apperr.ErrLimitExceeded, "set count",
			fmt.Sprintf("at most %d tickets per booking", m.max))
	}
	if next == 0 {
		delete(out, ticketTypeID)
	} else {
		out[ticketTypeID] = next
	}
	return out, nil
}

// TotalRequested returns the sum of all counts.
func TotalRequested(counts model.TicketTypeCount) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// AssignSeatsToTickets walks ticket types in ascending id order and gives
// each type the next count seats, in the order the seats were selected.
// Identical inputs always produce an identical assignment, which is what
// makes a commit retry idempotent.
func AssignSeatsToTickets(selectedSeatIDs []string, counts model.TicketTypeCount) ([]model.TicketAssignment, error) {
	for id, n := range counts {
		if n < 0 {
			return nil, apperr.New(apperr.ErrCountMismatch, "assign seats",
				fmt.Sprintf("negative count %d for ticket type %d", n, id))
		}
	}
	total := TotalRequested(counts)
	if len(selectedSeatIDs) != total {
		return nil, apperr.New(apperr.ErrCountMismatch, "assign seats",
			fmt.Sprintf("%d seats selected for %d tickets", len(selectedSeatIDs), total))
	}
	out := make([]model.TicketAssignment, 0, total)
	cursor := 0
	for _, typeID := range counts.SortedTypeIDs() {
		for i := 0; i < counts[typeID]; i++ {
			out = append(out, model.TicketAssignment{SeatID: selectedSeatIDs[cursor], TicketTypeID: typeID})
			cursor++
		}
	}
	return out, nil
}

// Price returns the amount in cents for counts after spending usedPoints.
// Every point is worth catalog.PointValueCents; the discount is capped so
// the total never drops below zero. Unknown ticket types are refused.
func Price(catalog model.TicketCatalog, counts model.TicketTypeCount, usedPoints int) (uint32, error) {
	var gross uint64
	for _, typeID := range counts.SortedTypeIDs() {
		tt, ok := catalog.Lookup(typeID)
		if !ok {
			return 0, apperr.New(apperr.ErrInvalidInput, "price",
				fmt.Sprintf("unknown ticket type %d", typeID))
		}
		gross += uint64(tt.PriceCents) * uint64(counts[typeID])
	}
	if usedPoints < 0 {
		usedPoints = 0
	}
	discount := uint64(usedPoints) * uint64(catalog.PointValueCents)
	if discount >= gross {
		return 0, nil
	}
	return uint32(gross - discount), nil
}
