package model

import "strconv"

// SeatStatus is the availability of a seat in a seat map snapshot.
type SeatStatus string

const (
	SeatAvailable    SeatStatus = "available"
	SeatBooked       SeatStatus = "booked"
	SeatHeldByOther  SeatStatus = "held"
	SeatSelectedHere SeatStatus = "selected"
)

// Selectable reports whether a patron may pick a seat with this status.
// Booked and held seats are reported by the server and never selectable.
func (s SeatStatus) Selectable() bool { return s == SeatAvailable }

// SeatMapEntry is one physical seat of a screening. Status is a snapshot
// and may be stale; SeatSelectedHere is only ever produced locally as an
// overlay on top of SeatAvailable.
type SeatMapEntry struct {
	ID     string     `json:"id"`
	Row    string     `json:"row"`
	Number int        `json:"number"`
	Status SeatStatus `json:"status"`
}

// Label returns the row/number label shown to patrons, e.g. "C7".
func (e SeatMapEntry) Label() string {
	if e.Row == "" {
		return e.ID
	}
	return e.Row + strconv.Itoa(e.Number)
}
