// Package wizard implements the booking wizard: the step state machine
// date/time -> tickets/seats -> confirm that drives the availability
// gateway, the ticket allocation model, the seat hold coordinator and the
// reservation submitter for one patron session.
//
// Every action is synchronous and context aware. Only one action runs at a
// time per wizard; an overlapping call is refused with apperr.ErrBusy. The
// hold coordinator's expiry hook is the only code that changes the state
// outside an action.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/clock"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// seatMapRefreshTimeout bounds the refresh triggered by the expiry timer.
const seatMapRefreshTimeout = 5 * time.Second

// Availability is the read path of the reservation backend.
type Availability interface {
	ListScreenings(ctx context.Context, movieID string, date time.Time) ([]model.Screening, error)
	GetSeatMap(ctx context.Context, screeningID uint64) ([]model.SeatMapEntry, error)
}

// Holds is the seat hold lifecycle the wizard drives.
type Holds interface {
	Acquire(ctx context.Context, screeningID uint64, seatIDs []string) (model.SeatHold, error)
	ReleaseActive(ctx context.Context) error
	ExpireActive(ctx context.Context) (model.SeatHold, bool)
	MarkCommitted(holdID string)
	Active() (model.SeatHold, bool)
	Remaining() time.Duration
	OnExpire(fn func(model.SeatHold))
	Close()
}

// Submitter commits the final session state.
type Submitter interface {
	Submit(ctx context.Context, s model.WizardSession) (model.Receipt, error)
}

// Deps are the collaborators of a Wizard.
type Deps struct {
	Availability Availability
	Holds        Holds
	Submitter    Submitter
	Catalog      model.TicketCatalog
	Allocation   *allocation.Model
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Wizard owns one WizardSession. Nothing else mutates it.
type Wizard struct {
	avail   Availability
	holds   Holds
	submit  Submitter
	catalog model.TicketCatalog
	alloc   *allocation.Model
	clk     clock.Clock
	log     *slog.Logger

	// opMu is held for the whole duration of an action.
	opMu sync.Mutex

	mu                  sync.Mutex
	s                   model.WizardSession
	screenings          []model.Screening
	seatMap             []model.SeatMapEntry
	notices             []Notice
	holdPending         bool
	submitting          bool
	expiredDuringSubmit bool
	expiries            int // bumped on every expiry reset
	receipt             *model.Receipt
	lastActive          time.Time
}

// New starts a session for patronID booking movieID at step date/time.
func New(id, patronID, movieID string, d Deps) *Wizard {
	if d.Allocation == nil {
		d.Allocation = allocation.New(0)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	w := &Wizard{
		avail:   d.Availability,
		holds:   d.Holds,
		submit:  d.Submitter,
		catalog: d.Catalog,
		alloc:   d.Allocation,
		clk:     d.Clock,
		log:     d.Logger.With(slog.String("session_id", id), slog.String("patron_id", patronID)),
		s: model.WizardSession{
			ID:       id,
			PatronID: patronID,
			MovieID:  movieID,
			Step:     model.StepDateTime,
			Counts:   model.TicketTypeCount{},
		},
		lastActive: d.Clock.Now(),
	}
	d.Holds.OnExpire(w.onHoldExpired)
	return w
}

// begin claims the action slot. The returned func releases it.
func (w *Wizard) begin(op string, allowed ...model.Step) (func(), error) {
	if !w.opMu.TryLock() {
		return nil, apperr.New(apperr.ErrBusy, op, "another action on this session is in progress")
	}
	w.mu.Lock()
	step := w.s.Step
	w.lastActive = w.clk.Now()
	w.mu.Unlock()
	if len(allowed) > 0 && !slices.Contains(allowed, step) {
		w.opMu.Unlock()
		return nil, apperr.New(apperr.ErrInvalidTransition, op, fmt.Sprintf("not available in step %s", step))
	}
	return w.opMu.Unlock, nil
}

func (w *Wizard) snapshot() model.WizardSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Clone()
}

// Session returns a copy of the session aggregate.
func (w *Wizard) Session() model.WizardSession { return w.snapshot() }

// LastActive returns when the patron last triggered an action.
func (w *Wizard) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// Done reports whether the session reached a terminal step.
func (w *Wizard) Done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Step.Terminal()
}

// SelectDate loads the screenings of the session's movie on date. Any
// previously chosen screening is dropped.
func (w *Wizard) SelectDate(ctx context.Context, date time.Time) error {
	done, err := w.begin("select date", model.StepDateTime)
	if err != nil {
		return err
	}
	defer done()

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	w.mu.Lock()
	movieID := w.s.MovieID
	w.mu.Unlock()

	list, err := w.avail.ListScreenings(ctx, movieID, day)
	if err != nil {
		w.notify(err)
		return err
	}
	w.mu.Lock()
	w.s.Date = day
	w.s.Screening = nil
	w.screenings = list
	w.mu.Unlock()
	return nil
}

// SelectScreening picks one of the screenings loaded by SelectDate.
func (w *Wizard) SelectScreening(_ context.Context, screeningID uint64) error {
	const op = "select screening"
	done, err := w.begin(op, model.StepDateTime)
	if err != nil {
		return err
	}
	defer done()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sc := range w.screenings {
		if sc.ID == screeningID {
			picked := sc
			w.s.Screening = &picked
			return nil
		}
	}
	return apperr.New(apperr.ErrInvalidInput, op, fmt.Sprintf("screening %d is not listed for the selected date", screeningID))
}

// ChangeTicketCount applies delta to the count of one ticket type. When
// the new total drops below the number of selected seats, the most
// recently selected seats are dropped and a smaller hold is issued.
// LimitExceeded is returned without a notice.
func (w *Wizard) ChangeTicketCount(ctx context.Context, ticketTypeID uint64, delta int) error {
	const op = "change ticket count"
	done, err := w.begin(op, model.StepTicketsSeats)
	if err != nil {
		return err
	}
	defer done()

	if _, ok := w.catalog.Lookup(ticketTypeID); !ok {
		return apperr.New(apperr.ErrInvalidInput, op, fmt.Sprintf("unknown ticket type %d", ticketTypeID))
	}
	w.mu.Lock()
	next, err := w.alloc.SetCount(w.s.Counts, ticketTypeID, delta)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.s.Counts = next
	selected := append([]string(nil), w.s.SelectedSeatIDs...)
	screeningID := w.s.Screening.ID
	w.mu.Unlock()

	total := allocation.TotalRequested(next)
	if len(selected) <= total {
		return nil
	}
	w.log.Debug("trimming seat selection",
		slog.Int("selected", len(selected)),
		slog.Int("requested", total))
	return w.reissueHold(ctx, screeningID, selected[:total])
}

// ToggleSeat selects or deselects one seat.
func (w *Wizard) ToggleSeat(ctx context.Context, seatID string) error {
	return w.ToggleSeats(ctx, seatID)
}

// ToggleSeats applies several (de)selections at once and re-issues the hold
// for the resulting set with a single release followed by a single
// acquire.
func (w *Wizard) ToggleSeats(ctx context.Context, seatIDs ...string) error {
	const op = "toggle seats"
	done, err := w.begin(op, model.StepTicketsSeats)
	if err != nil {
		return err
	}
	defer done()
	if len(seatIDs) == 0 {
		return apperr.New(apperr.ErrInvalidInput, op, "no seats given")
	}

	w.mu.Lock()
	current := append([]string(nil), w.s.SelectedSeatIDs...)
	total := allocation.TotalRequested(w.s.Counts)
	screeningID := w.s.Screening.ID
	pending := w.holdPending
	byID := make(map[string]model.SeatMapEntry, len(w.seatMap))
	for _, e := range w.seatMap {
		byID[e.ID] = e
	}
	w.mu.Unlock()

	next := append([]string(nil), current...)
	for _, id := range seatIDs {
		if i := slices.Index(next, id); i >= 0 {
			next = slices.Delete(next, i, i+1)
			continue
		}
		e, ok := byID[id]
		if !ok {
			return apperr.New(apperr.ErrInvalidInput, op, fmt.Sprintf("unknown seat %s", id))
		}
		if !e.Status.Selectable() {
			return apperr.Seats(apperr.ErrSeatUnavailable, op, []string{id})
		}
		if len(next) >= total {
			return apperr.New(apperr.ErrLimitExceeded, op,
				fmt.Sprintf("%d of %d requested seats already selected", len(next), total))
		}
		next = append(next, id)
	}
	if slices.Equal(next, current) && !pending {
		return nil
	}
	return w.reissueHold(ctx, screeningID, next)
}

// RetryHold re-issues the hold for the current selection after a
// transient failure left it unheld.
func (w *Wizard) RetryHold(ctx context.Context) error {
	done, err := w.begin("retry hold", model.StepTicketsSeats)
	if err != nil {
		return err
	}
	defer done()

	w.mu.Lock()
	pending := w.holdPending
	selected := append([]string(nil), w.s.SelectedSeatIDs...)
	screeningID := w.s.Screening.ID
	w.mu.Unlock()
	if !pending {
		return nil
	}
	return w.reissueHold(ctx, screeningID, selected)
}

// reissueHold replaces the hold with one on exactly seats, or releases it
// when seats is empty. Must be called with opMu held.
func (w *Wizard) reissueHold(ctx context.Context, screeningID uint64, seats []string) error {
	var err error
	if len(seats) == 0 {
		err = w.holds.ReleaseActive(ctx)
	} else {
		_, err = w.holds.Acquire(ctx, screeningID, seats)
	}

	unavailable := errors.Is(err, apperr.ErrSeatUnavailable)
	w.mu.Lock()
	w.syncHoldLocked()
	switch {
	case err == nil:
		w.s.SelectedSeatIDs = seats
		w.holdPending = false
	case unavailable:
		// the server is authoritative over the cached map
		w.s.SelectedSeatIDs = nil
		w.holdPending = false
		w.markHeldLocked(apperr.SeatIDsOf(err))
		w.notifyLocked(err)
	default:
		w.s.SelectedSeatIDs = seats
		w.holdPending = true
		w.notifyLocked(err)
	}
	w.mu.Unlock()

	if unavailable {
		_ = w.loadSeatMap(ctx)
	}
	return err
}

func (w *Wizard) syncHoldLocked() {
	if h, ok := w.holds.Active(); ok {
		w.s.Hold = &h
		return
	}
	w.s.Hold = nil
}

func (w *Wizard) markHeldLocked(seatIDs []string) {
	for i := range w.seatMap {
		if slices.Contains(seatIDs, w.seatMap[i].ID) {
			w.seatMap[i].Status = model.SeatHeldByOther
		}
	}
}

// RefreshSeatMap fetches a fresh seat map snapshot.
func (w *Wizard) RefreshSeatMap(ctx context.Context) error {
	done, err := w.begin("refresh seat map", model.StepTicketsSeats, model.StepConfirm)
	if err != nil {
		return err
	}
	defer done()
	return w.loadSeatMap(ctx)
}

func (w *Wizard) loadSeatMap(ctx context.Context) error {
	w.mu.Lock()
	if w.s.Screening == nil {
		w.mu.Unlock()
		return apperr.New(apperr.ErrInvalidTransition, "load seat map", "no screening selected")
	}
	id := w.s.Screening.ID
	w.mu.Unlock()

	seats, err := w.avail.GetSeatMap(ctx, id)
	if err != nil {
		w.notify(err)
		return err
	}
	w.mu.Lock()
	w.seatMap = seats
	w.mu.Unlock()
	return nil
}

// SetUsedPoints sets the loyalty points spent on this booking.
func (w *Wizard) SetUsedPoints(_ context.Context, points int) error {
	const op = "set used points"
	done, err := w.begin(op, model.StepTicketsSeats, model.StepConfirm)
	if err != nil {
		return err
	}
	defer done()
	if points < 0 {
		return apperr.New(apperr.ErrInvalidInput, op, "points must not be negative")
	}
	w.mu.Lock()
	w.s.UsedPoints = points
	w.mu.Unlock()
	return nil
}

// GoNext advances one step. Confirming is ConfirmAndPay, not GoNext.
func (w *Wizard) GoNext(ctx context.Context) error {
	done, err := w.begin("go next")
	if err != nil {
		return err
	}
	defer done()
	from := w.Session().Step
	to, ok := forward[from]
	if !ok {
		return apperr.New(apperr.ErrInvalidTransition, "go next", fmt.Sprintf("no next step after %s", from))
	}
	return w.moveTo(ctx, to)
}

// GoBack returns to the immediately preceding step. Leaving seat selection
// releases the hold first; when that release fails the wizard stays put
// and the call can be retried.
func (w *Wizard) GoBack(ctx context.Context) error {
	done, err := w.begin("go back")
	if err != nil {
		return err
	}
	defer done()
	from := w.Session().Step
	to, ok := backward[from]
	if !ok {
		return apperr.New(apperr.ErrInvalidTransition, "go back", fmt.Sprintf("no step before %s", from))
	}
	return w.moveTo(ctx, to)
}

// ConfirmAndPay commits the reservation. On success the hold is consumed
// and the session completes. Failures are turned into the matching
// recovery: seat selection with a fresh seat map for lost seats and
// expired holds, unchanged state for retryable failures.
func (w *Wizard) ConfirmAndPay(ctx context.Context) (model.Receipt, error) {
	done, err := w.begin("confirm and pay", model.StepConfirm)
	if err != nil {
		return model.Receipt{}, err
	}
	defer done()

	if err := w.moveTo(ctx, model.StepCompleted); err != nil {
		return model.Receipt{}, w.recoverCommit(ctx, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.receipt, nil
}

func (w *Wizard) recoverCommit(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, apperr.ErrExpired), errors.Is(err, apperr.ErrHoldExpiredServerSide):
		_, held := w.holds.ExpireActive(ctx)
		w.mu.Lock()
		// the expiry hook may already have reset the session
		if held || w.s.Step == model.StepConfirm {
			w.resetAfterExpiryLocked(err)
		}
		w.mu.Unlock()
		_ = w.loadSeatMap(ctx)

	case errors.Is(err, apperr.ErrSeatNoLongerAvailable):
		w.returnToSeats(ctx, err)
		_ = w.loadSeatMap(ctx)

	case errors.Is(err, apperr.ErrCountMismatch):
		w.log.Error("seat and ticket counts diverged at confirmation; resetting selection",
			slog.String("error", err.Error()))
		w.returnToSeats(ctx, err)

	case errors.Is(err, apperr.ErrInvalidTransition):
		// guard refusal; nothing was sent

	default:
		w.notify(err)
	}
	return err
}

// returnToSeats drops the hold and the selection and goes back to seat
// selection.
func (w *Wizard) returnToSeats(ctx context.Context, cause error) {
	if err := w.holds.ReleaseActive(ctx); err != nil {
		w.log.Warn("hold release after failed commit failed", slog.String("error", err.Error()))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.s.Step = model.StepTicketsSeats
	w.s.SelectedSeatIDs = nil
	w.holdPending = false
	w.syncHoldLocked()
	w.markHeldLocked(apperr.SeatIDsOf(cause))
	w.notifyLocked(cause)
}

func submitReservation(ctx context.Context, w *Wizard) error {
	w.mu.Lock()
	if w.s.Hold == nil {
		// expired between the guard and here
		w.mu.Unlock()
		return apperr.New(apperr.ErrExpired, "confirm and pay", "the seat hold expired")
	}
	snap := w.s.Clone()
	w.submitting = true
	w.expiredDuringSubmit = false
	w.mu.Unlock()

	receipt, err := w.submit.Submit(ctx, snap)
	if err == nil {
		w.holds.MarkCommitted(snap.Hold.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	expired := w.expiredDuringSubmit
	w.expiredDuringSubmit = false
	if err != nil {
		if expired && !errors.Is(err, apperr.ErrHoldExpiredServerSide) {
			return apperr.Wrap(apperr.ErrExpired, "confirm and pay", err)
		}
		return err
	}
	w.receipt = &receipt
	return nil
}

func readyToConfirm(w *Wizard, s model.WizardSession) error {
	const op = "go to confirm"
	total := allocation.TotalRequested(s.Counts)
	if total == 0 {
		return apperr.New(apperr.ErrInvalidTransition, op, "no tickets requested")
	}
	if len(s.SelectedSeatIDs) != total {
		return apperr.New(apperr.ErrCountMismatch, op,
			fmt.Sprintf("%d seats selected for %d tickets", len(s.SelectedSeatIDs), total))
	}
	h, ok := w.holds.Active()
	if !ok || !h.Covers(s.SelectedSeatIDs) || h.Expired(w.clk.Now()) {
		return apperr.New(apperr.ErrInvalidTransition, op, "the selected seats are not held")
	}
	return nil
}

func loadSeatMap(ctx context.Context, w *Wizard) error { return w.loadSeatMap(ctx) }

func refreshSeatMap(ctx context.Context, w *Wizard) { _ = w.loadSeatMap(ctx) }

// onHoldExpired runs on the timer goroutine after the coordinator released
// an expired hold. It is a no-op unless h is still the session's hold: an
// action may have replaced it between the release and this call.
func (w *Wizard) onHoldExpired(h model.SeatHold) {
	w.mu.Lock()
	if w.s.Step.Terminal() || w.receipt != nil || w.s.Hold == nil || w.s.Hold.ID != h.ID {
		w.mu.Unlock()
		return
	}
	if w.submitting {
		// the commit outcome decides
		w.expiredDuringSubmit = true
		w.mu.Unlock()
		return
	}
	w.resetAfterExpiryLocked(apperr.New(apperr.ErrExpired, "seat hold", "hold "+h.ID+" expired"))
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), seatMapRefreshTimeout)
	defer cancel()
	_ = w.loadSeatMap(ctx)
}

func (w *Wizard) resetAfterExpiryLocked(cause error) {
	w.expiries++
	w.s.SelectedSeatIDs = nil
	w.s.Hold = nil
	w.holdPending = false
	if w.s.Step == model.StepConfirm {
		w.s.Step = model.StepTicketsSeats
	}
	w.notifyLocked(cause)
	w.log.Info("seat hold expired; back to seat selection")
}

// Abandon tears the session down and releases any hold on a best-effort
// basis. It waits for an in-flight action instead of failing with Busy and
// is a no-op on a finished session.
func (w *Wizard) Abandon(ctx context.Context) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if w.Done() {
		w.holds.Close()
		return nil
	}
	return w.moveTo(ctx, model.StepAbandoned)
}
