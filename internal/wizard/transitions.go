package wizard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

type (
	// guardFunc inspects a snapshot and refuses the move with an error.
	guardFunc func(w *Wizard, s model.WizardSession) error
	// actionFunc runs before the step changes; an error aborts the move.
	actionFunc func(ctx context.Context, w *Wizard) error
	// enterFunc mutates state while the step changes. Runs with w.mu held.
	enterFunc func(w *Wizard)
	// afterFunc runs once the step changed. Failures are reported as
	// notices only.
	afterFunc func(ctx context.Context, w *Wizard)
)

type releaseMode int

const (
	keepHold releaseMode = iota
	// releaseOrStay refuses the move when the release fails so the lock is
	// never lost track of.
	releaseOrStay
	// releaseBestEffort proceeds regardless; the server-side timeout is the
	// backstop.
	releaseBestEffort
)

type transition struct {
	from, to model.Step
	guards   []guardFunc
	before   []actionFunc
	release  releaseMode
	enter    []enterFunc
	after    []afterFunc
}

type edgeKey struct{ from, to model.Step }

type transitionTable map[edgeKey]*transition

type tableBuilder struct {
	edges []*transition
}

type edgeBuilder struct {
	owner *tableBuilder
	t     *transition
}

func newTable() *tableBuilder { return &tableBuilder{} }

func (b *tableBuilder) edge(from, to model.Step) *edgeBuilder {
	t := &transition{from: from, to: to}
	b.edges = append(b.edges, t)
	return &edgeBuilder{owner: b, t: t}
}

// edge starts the next edge of the same table.
func (e *edgeBuilder) edge(from, to model.Step) *edgeBuilder { return e.owner.edge(from, to) }

func (e *edgeBuilder) build() transitionTable { return e.owner.build() }

func (e *edgeBuilder) guard(g ...guardFunc) *edgeBuilder {
	e.t.guards = append(e.t.guards, g...)
	return e
}

func (e *edgeBuilder) before(a ...actionFunc) *edgeBuilder {
	e.t.before = append(e.t.before, a...)
	return e
}

func (e *edgeBuilder) enter(f ...enterFunc) *edgeBuilder {
	e.t.enter = append(e.t.enter, f...)
	return e
}

func (e *edgeBuilder) after(f ...afterFunc) *edgeBuilder {
	e.t.after = append(e.t.after, f...)
	return e
}

func (e *edgeBuilder) bestEffortRelease() *edgeBuilder {
	e.t.release = releaseBestEffort
	return e
}

// build attaches the hold release to every edge whose target step does not
// keep the hold alive. An edge cannot opt out.
func (b *tableBuilder) build() transitionTable {
	out := make(transitionTable, len(b.edges))
	for _, t := range b.edges {
		if !holdSurvives(t.to) && t.release == keepHold {
			t.release = releaseOrStay
		}
		out[edgeKey{t.from, t.to}] = t
	}
	return out
}

// holdSurvives reports whether the seat hold stays alive in step s.
func holdSurvives(s model.Step) bool {
	switch s {
	case model.StepTicketsSeats, model.StepConfirm, model.StepCompleted:
		return true
	}
	return false
}

// steps is the wizard's transition table. It is filled in init because the
// edge callbacks reach back into the wizard.
var steps transitionTable

func init() {
	steps = newTable().
		edge(model.StepDateTime, model.StepTicketsSeats).
		guard(hasScreening).
		before(loadSeatMap).
		enter(clearSelection).
		edge(model.StepTicketsSeats, model.StepConfirm).
		guard(readyToConfirm).
		edge(model.StepTicketsSeats, model.StepDateTime).
		enter(clearSelection, clearCounts).
		edge(model.StepConfirm, model.StepTicketsSeats).
		after(refreshSeatMap).
		edge(model.StepConfirm, model.StepCompleted).
		guard(readyToConfirm).
		before(submitReservation).
		after(closeHolds).
		edge(model.StepDateTime, model.StepAbandoned).bestEffortRelease().after(closeHolds).
		edge(model.StepTicketsSeats, model.StepAbandoned).bestEffortRelease().after(closeHolds).
		edge(model.StepConfirm, model.StepAbandoned).bestEffortRelease().after(closeHolds).
		build()
}

var (
	forward = map[model.Step]model.Step{
		model.StepDateTime:     model.StepTicketsSeats,
		model.StepTicketsSeats: model.StepConfirm,
	}
	backward = map[model.Step]model.Step{
		model.StepTicketsSeats: model.StepDateTime,
		model.StepConfirm:      model.StepTicketsSeats,
	}
)

// moveTo runs the edge from the current step to `to`: guards, before
// actions, the hold release when the target does not keep it, then the step
// change and its after actions. An edge into a step that keeps the hold is
// refused with ErrExpired when the expiry hook reset the session after the
// guards ran. Must be called with opMu held.
func (w *Wizard) moveTo(ctx context.Context, to model.Step) error {
	w.mu.Lock()
	snap := w.s.Clone()
	expiries := w.expiries
	w.mu.Unlock()
	t, ok := steps[edgeKey{snap.Step, to}]
	if !ok {
		return apperr.New(apperr.ErrInvalidTransition, "change step",
			fmt.Sprintf("cannot go from %s to %s", snap.Step, to))
	}
	for _, g := range t.guards {
		if err := g(w, snap); err != nil {
			return err
		}
	}
	for _, a := range t.before {
		if err := a(ctx, w); err != nil {
			return err
		}
	}
	switch t.release {
	case releaseOrStay:
		if err := w.holds.ReleaseActive(ctx); err != nil {
			w.notify(err)
			return err
		}
	case releaseBestEffort:
		if err := w.holds.ReleaseActive(ctx); err != nil {
			w.log.Warn("hold release on exit failed; relying on server expiry",
				slog.String("error", err.Error()))
		}
	}

	w.mu.Lock()
	if holdSurvives(to) && to != model.StepCompleted && w.expiries != expiries {
		// the hold the guards approved expired while the edge ran
		w.mu.Unlock()
		return apperr.New(apperr.ErrExpired, "change step", "the seat hold expired")
	}
	w.s.Step = to
	if t.release != keepHold {
		w.s.Hold = nil
		w.holdPending = false
	}
	for _, f := range t.enter {
		f(w)
	}
	w.mu.Unlock()

	w.log.Info("step changed", slog.String("from", string(snap.Step)), slog.String("to", string(to)))
	for _, f := range t.after {
		f(ctx, w)
	}
	return nil
}

func hasScreening(_ *Wizard, s model.WizardSession) error {
	if s.Screening == nil {
		return apperr.New(apperr.ErrInvalidTransition, "go next", "select a screening first")
	}
	return nil
}

func clearSelection(w *Wizard) {
	w.s.SelectedSeatIDs = nil
	w.s.Hold = nil
	w.holdPending = false
}

func clearCounts(w *Wizard) {
	w.s.Counts = model.TicketTypeCount{}
	w.s.UsedPoints = 0
	w.seatMap = nil
}

func closeHolds(_ context.Context, w *Wizard) { w.holds.Close() }
