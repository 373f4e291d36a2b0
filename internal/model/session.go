package model

import "time"

// Step is a state of the booking wizard.
type Step string

const (
	StepDateTime     Step = "date_time"
	StepTicketsSeats Step = "tickets_seats"
	StepConfirm      Step = "confirm"
	StepCompleted    Step = "completed"
	StepAbandoned    Step = "abandoned"
)

// Terminal reports whether no further transition leaves this step.
func (s Step) Terminal() bool { return s == StepCompleted || s == StepAbandoned }

// WizardSession is the aggregate owned by a single booking wizard. Only the
// wizard mutates it; everyone else gets copies.
type WizardSession struct {
	ID              string          `json:"id"`
	PatronID        string          `json:"patron_id"`
	MovieID         string          `json:"movie_id"`
	Step            Step            `json:"step"`
	Date            time.Time       `json:"date"`
	Screening       *Screening      `json:"screening,omitempty"`
	Counts          TicketTypeCount `json:"counts"`
	SelectedSeatIDs []string        `json:"selected_seat_ids"`
	Hold            *SeatHold       `json:"hold,omitempty"`
	UsedPoints      int             `json:"used_points"`
}

// Clone returns a deep copy of the session.
func (s WizardSession) Clone() WizardSession {
	out := s
	if s.Screening != nil {
		sc := *s.Screening
		out.Screening = &sc
	}
	out.Counts = s.Counts.Clone()
	out.SelectedSeatIDs = append([]string(nil), s.SelectedSeatIDs...)
	if s.Hold != nil {
		h := *s.Hold
		h.SeatIDs = append([]string(nil), s.Hold.SeatIDs...)
		out.Hold = &h
	}
	return out
}
