// Package hold owns the lifecycle of the seat hold of one booking session:
// acquire, replace, release, commit and timer-driven expiry against the
// remote lock service.
//
// The remote lock is keyed by the whole seat set, so every selection change
// releases the previous hold before acquiring a new one. All calls that
// mutate the remote lock are serialized: a call is not issued before the
// previous one resolved.
package hold

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/clock"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// DefaultTTL is the hold lifetime used when none is configured.
const DefaultTTL = 10 * time.Minute

// expiryReleaseTimeout bounds the release issued by the expiry timer, which
// has no caller context.
const expiryReleaseTimeout = 10 * time.Second

// LockService is the remote hold contract.
type LockService interface {
	CreateHold(ctx context.Context, screeningID uint64, seatIDs []string) (model.HoldGrant, error)
	DeleteHold(ctx context.Context, holdID string) error
}

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateHolding   State = "holding"
	StateReleased  State = "released"
	StateExpired   State = "expired"
	StateCommitted State = "committed"
)

// Options tunes a Coordinator. Zero values pick defaults.
type Options struct {
	TTL             time.Duration // hold lifetime from acquisition
	ReleaseAttempts int           // attempts per release before giving up
	ReleaseBackoff  time.Duration // pause between release attempts
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Coordinator manages at most one active hold.
type Coordinator struct {
	svc      LockService
	clk      clock.Clock
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	log      *slog.Logger

	// sem serializes remote mutations; a one-slot channel so acquiring it
	// can honour a context.
	sem chan struct{}

	mu       sync.Mutex
	state    State
	current  *model.SeatHold
	timer    clock.Timer
	onExpire func(model.SeatHold)
	closed   bool
}

// New returns an idle Coordinator backed by svc.
func New(svc LockService, opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ReleaseAttempts <= 0 {
		opts.ReleaseAttempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		svc:      svc,
		clk:      opts.Clock,
		ttl:      opts.TTL,
		attempts: opts.ReleaseAttempts,
		backoff:  opts.ReleaseBackoff,
		log:      opts.Logger,
		sem:      make(chan struct{}, 1),
		state:    StateIdle,
	}
}

// OnExpire registers the hook called after the expiry timer released a
// hold. The hook runs on the timer's goroutine without any coordinator lock
// held, so it may call back into the coordinator.
func (c *Coordinator) OnExpire(fn func(model.SeatHold)) {
	c.mu.Lock()
	c.onExpire = fn
	c.mu.Unlock()
}

func (c *Coordinator) lock(ctx context.Context, op string) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.ErrTimeout, op, ctx.Err())
	}
}

func (c *Coordinator) unlock() { <-c.sem }

// Acquire replaces the current hold (if any) with a hold on exactly
// seatIDs. The previous hold is released first and the new request is only
// issued once that release resolved. When the release fails the previous
// hold stays tracked and ErrHoldReleaseFailed is returned, so the caller
// can retry without losing track of the lock.
func (c *Coordinator) Acquire(ctx context.Context, screeningID uint64, seatIDs []string) (model.SeatHold, error) {
	const op = "acquire hold"
	if len(seatIDs) == 0 {
		return model.SeatHold{}, apperr.New(apperr.ErrInvalidInput, op, "no seats to hold")
	}
	if err := c.lock(ctx, op); err != nil {
		return model.SeatHold{}, err
	}
	defer c.unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.SeatHold{}, apperr.New(apperr.ErrInvalidTransition, op, "coordinator closed")
	}
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		if err := c.releaseLocked(ctx, prev.ID, StateReleased); err != nil {
			return model.SeatHold{}, err
		}
	}

	seats := append([]string(nil), seatIDs...)
	grant, err := c.svc.CreateHold(ctx, screeningID, seats)
	if err != nil {
		c.log.Info("seat hold refused",
			slog.Uint64("screening_id", screeningID),
			slog.Any("seat_ids", seats),
			slog.String("error", err.Error()))
		return model.SeatHold{}, err
	}

	now := c.clk.Now()
	deadline := now.Add(c.ttl)
	if !grant.ExpiresAt.IsZero() && grant.ExpiresAt.Before(deadline) {
		deadline = grant.ExpiresAt
	}
	h := model.SeatHold{
		ID:          grant.HoldID,
		ScreeningID: screeningID,
		SeatIDs:     seats,
		AcquiredAt:  now,
		ExpiresAt:   deadline,
	}

	c.mu.Lock()
	c.current = &h
	c.state = StateHolding
	id := h.ID
	c.timer = c.clk.AfterFunc(deadline.Sub(now), func() { c.expire(id) })
	c.mu.Unlock()

	c.log.Debug("seat hold acquired",
		slog.String("hold_id", h.ID),
		slog.Uint64("screening_id", screeningID),
		slog.Any("seat_ids", seats),
		slog.Time("expires_at", deadline))
	return cloneHold(h), nil
}

// Release releases hold. It is idempotent: releasing a hold that is no
// longer current (already released, expired, committed or superseded) is a
// no-op.
func (c *Coordinator) Release(ctx context.Context, hold model.SeatHold) error {
	const op = "release hold"
	if err := c.lock(ctx, op); err != nil {
		return err
	}
	defer c.unlock()
	return c.releaseLocked(ctx, hold.ID, StateReleased)
}

// ReleaseActive releases whatever hold is current. It is a no-op when
// nothing is held.
func (c *Coordinator) ReleaseActive(ctx context.Context) error {
	const op = "release hold"
	if err := c.lock(ctx, op); err != nil {
		return err
	}
	defer c.unlock()
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil
	}
	return c.releaseLocked(ctx, cur.ID, StateReleased)
}

// releaseLocked must be called with sem held.
func (c *Coordinator) releaseLocked(ctx context.Context, holdID string, final State) error {
	c.mu.Lock()
	if c.current == nil || c.current.ID != holdID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.deleteWithRetry(ctx, holdID); err != nil {
		c.log.Warn("seat hold release failed",
			slog.String("hold_id", holdID),
			slog.Int("attempts", c.attempts),
			slog.String("error", err.Error()))
		return apperr.Wrap(apperr.ErrHoldReleaseFailed, "release hold", err)
	}

	c.mu.Lock()
	if c.current != nil && c.current.ID == holdID {
		c.clearLocked(final)
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) deleteWithRetry(ctx context.Context, holdID string) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = c.svc.DeleteHold(ctx, holdID); err == nil {
			return nil
		}
		if !apperr.Retryable(err) || attempt == c.attempts {
			break
		}
		if c.backoff > 0 {
			if werr := c.wait(ctx, c.backoff); werr != nil {
				return errors.Join(err, werr)
			}
		}
	}
	return err
}

// wait pauses for d on the coordinator's clock, or until ctx is done.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) error {
	wake := make(chan struct{})
	t := c.clk.AfterFunc(d, func() { close(wake) })
	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// clearLocked must be called with mu held.
func (c *Coordinator) clearLocked(final State) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current = nil
	c.state = final
}

// expire is the timer callback for hold holdID.
func (c *Coordinator) expire(holdID string) {
	_ = c.lock(context.Background(), "expire hold")
	c.mu.Lock()
	if c.closed || c.current == nil || c.current.ID != holdID {
		c.mu.Unlock()
		c.unlock()
		return
	}
	h := cloneHold(*c.current)
	c.mu.Unlock()

	c.expireLocked(h)
	c.mu.Lock()
	fn := c.onExpire
	c.mu.Unlock()
	c.unlock()

	c.log.Info("seat hold expired", slog.String("hold_id", h.ID), slog.Any("seat_ids", h.SeatIDs))
	if fn != nil {
		fn(h)
	}
}

// expireLocked issues a best-effort release for h and forgets it. The
// server-side timeout covers a failed release. Must be called with sem held.
func (c *Coordinator) expireLocked(h model.SeatHold) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryReleaseTimeout)
	defer cancel()
	if err := c.deleteWithRetry(ctx, h.ID); err != nil {
		c.log.Warn("release of expired seat hold failed",
			slog.String("hold_id", h.ID),
			slog.String("error", err.Error()))
	}
	c.mu.Lock()
	if c.current != nil && c.current.ID == h.ID {
		c.clearLocked(StateExpired)
	}
	c.mu.Unlock()
}

// ExpireActive runs the expiry path for the current hold on request of the
// caller, e.g. after the backend reported the hold expired. Unlike the
// timer path it does not call the OnExpire hook; the expired hold is
// returned instead. ok is false when nothing was held.
func (c *Coordinator) ExpireActive(ctx context.Context) (model.SeatHold, bool) {
	if err := c.lock(ctx, "expire hold"); err != nil {
		return model.SeatHold{}, false
	}
	defer c.unlock()
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return model.SeatHold{}, false
	}
	h := cloneHold(*c.current)
	c.mu.Unlock()
	c.expireLocked(h)
	return h, true
}

// MarkCommitted records that the backend converted hold holdID into a
// booking. No release is sent; the timer is cancelled.
func (c *Coordinator) MarkCommitted(holdID string) {
	_ = c.lock(context.Background(), "commit hold")
	defer c.unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.ID == holdID {
		c.clearLocked(StateCommitted)
	}
}

// Active returns a copy of the current hold.
func (c *Coordinator) Active() (model.SeatHold, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return model.SeatHold{}, false
	}
	return cloneHold(*c.current), true
}

// Remaining returns how long the current hold has left, or zero.
func (c *Coordinator) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	d := c.current.ExpiresAt.Sub(c.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels the expiry timer. It does not release the hold; callers
// release first and close afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func cloneHold(h model.SeatHold) model.SeatHold {
	h.SeatIDs = append([]string(nil), h.SeatIDs...)
	return h
}
