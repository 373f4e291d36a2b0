package wizard

import (
	"errors"
	"slices"
	"time"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// maxNotices caps the notice list; the oldest entries are dropped first.
const maxNotices = 5

// Notice is a user-visible message about a failed or interrupted action.
type Notice struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	SeatIDs   []string  `json:"seat_ids,omitempty"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// View is everything a front-end needs to render the session.
type View struct {
	SessionID            string                `json:"session_id"`
	MovieID              string                `json:"movie_id"`
	Step                 model.Step            `json:"step"`
	Date                 string                `json:"date,omitempty"`
	Screenings           []model.Screening     `json:"screenings"`
	Screening            *model.Screening      `json:"screening,omitempty"`
	TicketTypes          []model.TicketType    `json:"ticket_types"`
	Counts               model.TicketTypeCount `json:"counts"`
	TotalRequested       int                   `json:"total_requested"`
	MaxTickets           int                   `json:"max_tickets"`
	SeatMap              []model.SeatMapEntry  `json:"seat_map"`
	SelectedSeatIDs      []string              `json:"selected_seat_ids"`
	HoldPending          bool                  `json:"hold_pending"`
	RemainingHoldSeconds int                   `json:"remaining_hold_seconds"`
	UsedPoints           int                   `json:"used_points"`
	TotalPriceCents      uint32                `json:"total_price_cents"`
	Errors               []Notice              `json:"errors"`
	ReservationID        string                `json:"reservation_id,omitempty"`
	CanGoNext            bool                  `json:"can_go_next"`
}

// View renders the current state. Seats selected in this session are shown
// as selected on top of the snapshot.
func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.s.Clone()
	v := View{
		SessionID:       s.ID,
		MovieID:         s.MovieID,
		Step:            s.Step,
		Screenings:      append([]model.Screening{}, w.screenings...),
		Screening:       s.Screening,
		TicketTypes:     append([]model.TicketType{}, w.catalog.Types...),
		Counts:          s.Counts,
		TotalRequested:  allocation.TotalRequested(s.Counts),
		MaxTickets:      w.alloc.Max(),
		SelectedSeatIDs: append([]string{}, s.SelectedSeatIDs...),
		HoldPending:     w.holdPending,
		UsedPoints:      s.UsedPoints,
		Errors:          append([]Notice{}, w.notices...),
	}
	if !s.Date.IsZero() {
		v.Date = s.Date.Format(time.DateOnly)
	}
	v.SeatMap = make([]model.SeatMapEntry, len(w.seatMap))
	for i, e := range w.seatMap {
		if e.Status != model.SeatBooked && slices.Contains(s.SelectedSeatIDs, e.ID) {
			e.Status = model.SeatSelectedHere
		}
		v.SeatMap[i] = e
	}
	if s.Hold != nil {
		v.RemainingHoldSeconds = int((w.holds.Remaining() + time.Second - 1) / time.Second)
	}
	if price, err := allocation.Price(w.catalog, s.Counts, s.UsedPoints); err == nil {
		v.TotalPriceCents = price
	}
	if w.receipt != nil {
		v.ReservationID = w.receipt.ReservationID
		v.TotalPriceCents = w.receipt.TotalAmountCents
	}
	switch s.Step {
	case model.StepDateTime:
		v.CanGoNext = hasScreening(w, s) == nil
	case model.StepTicketsSeats:
		v.CanGoNext = readyToConfirm(w, s) == nil
	}
	return v
}

// Receipt returns the receipt of a completed session.
func (w *Wizard) Receipt() (model.Receipt, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.receipt == nil {
		return model.Receipt{}, false
	}
	return *w.receipt, true
}

// DismissErrors clears the notice list.
func (w *Wizard) DismissErrors() {
	w.mu.Lock()
	w.notices = nil
	w.mu.Unlock()
}

func (w *Wizard) notify(err error) {
	w.mu.Lock()
	w.notifyLocked(err)
	w.mu.Unlock()
}

// notifyLocked records err as a notice. Busy, input and guard errors are
// answered to the caller directly and not recorded.
func (w *Wizard) notifyLocked(err error) {
	if err == nil || errors.Is(err, apperr.ErrBusy) || errors.Is(err, apperr.ErrInvalidInput) ||
		errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrLimitExceeded) {
		return
	}
	n := Notice{
		Code:      apperr.Code(err),
		Message:   Message(err),
		SeatIDs:   apperr.SeatIDsOf(err),
		Retryable: apperr.Retryable(err) && !errors.Is(err, apperr.ErrExpired),
		At:        w.clk.Now(),
	}
	w.notices = append(w.notices, n)
	if len(w.notices) > maxNotices {
		w.notices = slices.Clone(w.notices[len(w.notices)-maxNotices:])
	}
}

// Message is the patron-facing text for err.
func Message(err error) string {
	var ae *apperr.Error
	switch {
	case errors.Is(err, apperr.ErrBusy):
		return "Another change to this booking is still in progress."
	case errors.Is(err, apperr.ErrLimitExceeded):
		return "You cannot add more tickets to this booking."
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrInvalidTransition):
		if errors.As(err, &ae) && ae.Message != "" {
			return ae.Message
		}
		return "This action is not possible right now."
	case errors.Is(err, apperr.ErrForbidden):
		return "This booking belongs to someone else."
	case errors.Is(err, apperr.ErrExpired), errors.Is(err, apperr.ErrHoldExpiredServerSide):
		return "Your seat hold expired. Please select your seats again."
	case errors.Is(err, apperr.ErrSeatNoLongerAvailable):
		return "Some of your seats are no longer available. Please pick other seats."
	case errors.Is(err, apperr.ErrSeatUnavailable):
		return "Some of the selected seats were just taken. Please pick other seats."
	case errors.Is(err, apperr.ErrHoldReleaseFailed):
		return "Your previous seats could not be released yet. Please try again."
	case errors.Is(err, apperr.ErrCountMismatch):
		return "Your seat selection was reset. Please select your seats again."
	case errors.Is(err, apperr.ErrNotFound):
		return "Nothing was found for this request."
	case apperr.Retryable(err):
		return "The reservation service is not responding. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
