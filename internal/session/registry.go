// Package session keeps the live booking wizards of the process: one per
// patron session, created on demand, swept when idle and torn down on
// shutdown.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/clock"
	"github.com/iliyamo/cinema-booking-coordinator/internal/hold"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
	"github.com/iliyamo/cinema-booking-coordinator/internal/wizard"
)

const (
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Builder creates the wizard of a new session.
type Builder func(id, patronID, movieID string) *wizard.Wizard

// Backend is what every session needs from the reservation backend.
type Backend interface {
	wizard.Availability
	hold.LockService
}

// NewBuilder returns a Builder that gives every session its own hold
// coordinator on top of the shared backend, submitter and catalog. Every
// backend call of the session carries its patron id.
func NewBuilder(backend Backend, submitter wizard.Submitter, catalog model.TicketCatalog, alloc *allocation.Model, holdOpts hold.Options) Builder {
	return func(id, patronID, movieID string) *wizard.Wizard {
		scoped := patronBackend{Backend: backend, patronID: patronID}
		coord := hold.New(scoped, holdOpts)
		return wizard.New(id, patronID, movieID, wizard.Deps{
			Availability: scoped,
			Holds:        coord,
			Submitter:    submitter,
			Catalog:      catalog,
			Allocation:   alloc,
			Clock:        holdOpts.Clock,
			Logger:       holdOpts.Logger,
		})
	}
}

// Options configures a Registry.
type Options struct {
	IdleTTL       time.Duration // sessions untouched this long are abandoned
	SweepInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

type entry struct {
	patronID string
	w        *wizard.Wizard
}

// Registry maps session ids to wizards.
type Registry struct {
	build    Builder
	idleTTL  time.Duration
	interval time.Duration
	clk      clock.Clock
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry(build Builder, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		build:    build,
		idleTTL:  opts.IdleTTL,
		interval: opts.SweepInterval,
		clk:      opts.Clock,
		log:      opts.Logger,
		sessions: make(map[string]entry),
	}
}

// Create starts a new session for patronID.
func (r *Registry) Create(patronID, movieID string) (string, *wizard.Wizard, error) {
	const op = "create session"
	if patronID == "" {
		return "", nil, apperr.New(apperr.ErrForbidden, op, "missing patron")
	}
	if movieID == "" {
		return "", nil, apperr.New(apperr.ErrInvalidInput, op, "movie_id is required")
	}
	id := uuid.NewString()
	w := r.build(id, patronID, movieID)
	r.mu.Lock()
	r.sessions[id] = entry{patronID: patronID, w: w}
	r.mu.Unlock()
	r.log.Info("session created", slog.String("session_id", id), slog.String("patron_id", patronID), slog.String("movie_id", movieID))
	return id, w, nil
}

// Get returns the wizard of session id. Sessions of other patrons are
// refused with ErrForbidden.
func (r *Registry) Get(id, patronID string) (*wizard.Wizard, error) {
	const op = "get session"
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, op, "session not found")
	}
	if e.patronID != patronID {
		return nil, apperr.New(apperr.ErrForbidden, op, "session belongs to another patron")
	}
	return e.w, nil
}

// Remove abandons session id, releasing its hold, and forgets it.
func (r *Registry) Remove(ctx context.Context, id, patronID string) error {
	w, err := r.Get(id, patronID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return w.Abandon(ctx)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep abandons and forgets every session idle for longer than the idle
// TTL. Finished sessions are kept until then so their receipt stays
// readable. It returns the number of sessions removed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.clk.Now().Add(-r.idleTTL)
	var stale []entry
	var ids []string
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.w.LastActive().Before(cutoff) {
			stale = append(stale, e)
			ids = append(ids, id)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for i, e := range stale {
		if err := e.w.Abandon(ctx); err != nil {
			r.log.Warn("abandoning idle session failed", slog.String("session_id", ids[i]), slog.String("error", err.Error()))
		}
	}
	if len(stale) > 0 {
		r.log.Info("idle sessions swept", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	r.log.Info("session sweeper started", slog.Duration("interval", r.interval), slog.Duration("idle_ttl", r.idleTTL))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.log.Info("session sweeper stopped")
			return
		}
	}
}

// Shutdown abandons every session. Releases are best effort; the server
// side hold timeout covers anything left behind.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, e := range all {
		wg.Add(1)
		go func(id string, w *wizard.Wizard) {
			defer wg.Done()
			if err := w.Abandon(ctx); err != nil {
				r.log.Warn("abandoning session on shutdown failed", slog.String("session_id", id), slog.String("error", err.Error()))
			}
		}(id, e.w)
	}
	wg.Wait()
	r.log.Info("sessions closed", slog.Int("count", len(all)))
}
