package model

import "sort"

// TicketType is one entry of the ticket-type catalog (adult, child, senior...).
type TicketType struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	PriceCents uint32 `json:"price_cents"`
}

// TicketCatalog is the read-only snapshot of ticket types fetched once at
// start-up and handed to every wizard. Types are kept in ascending id order.
type TicketCatalog struct {
	Types           []TicketType `json:"types"`
	PointValueCents uint32       `json:"point_value_cents"`
}

// NewTicketCatalog copies types and sorts them by id.
func NewTicketCatalog(types []TicketType, pointValueCents uint32) TicketCatalog {
	out := append([]TicketType(nil), types...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return TicketCatalog{Types: out, PointValueCents: pointValueCents}
}

// Lookup returns the ticket type with the given id.
func (c TicketCatalog) Lookup(id uint64) (TicketType, bool) {
	for _, t := range c.Types {
		if t.ID == id {
			return t, true
		}
	}
	return TicketType{}, false
}

// TicketTypeCount maps a ticket-type id to the number of tickets of that
// type the patron asked for. Counts are never negative.
type TicketTypeCount map[uint64]int

// Clone returns an independent copy.
func (c TicketTypeCount) Clone() TicketTypeCount {
	out := make(TicketTypeCount, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// SortedTypeIDs returns the ticket-type ids present in c in ascending order.
func (c TicketTypeCount) SortedTypeIDs() []uint64 {
	ids := make([]uint64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TicketAssignment pairs one selected seat with the ticket type it is sold
// as. Assignments only exist at commit time.
type TicketAssignment struct {
	SeatID       string `json:"seat_id"`
	TicketTypeID uint64 `json:"ticket_type_id"`
}
