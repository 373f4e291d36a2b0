// Package reservation turns the final state of a booking session into the
// single commit request sent to the backend.
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/apperr"
	"github.com/iliyamo/cinema-booking-coordinator/internal/clock"
	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// keyNamespace scopes the name-based UUIDs used as idempotency keys.
var keyNamespace = uuid.MustParse("0b8f3c52-6a1e-4d27-9f4b-3c9d1e7a2f60")

const defaultPublishTimeout = 3 * time.Second

// Committer sends the commit request to the backend.
type Committer interface {
	CommitReservation(ctx context.Context, req model.ReservationRequest, idempotencyKey string) (string, error)
}

// Confirmation describes a committed booking for downstream consumers.
type Confirmation struct {
	Receipt   model.Receipt
	PatronID  string
	MovieID   string
	Screening model.Screening
}

// Publisher announces committed bookings. Failures never undo a commit.
type Publisher interface {
	PublishBookingConfirmed(ctx context.Context, c Confirmation) error
}

// Options configures a Submitter.
type Options struct {
	Publisher      Publisher // optional
	PublishTimeout time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Submitter commits sessions. It is stateless apart from its collaborators
// and safe for concurrent use.
type Submitter struct {
	committer      Committer
	catalog        model.TicketCatalog
	publisher      Publisher
	publishTimeout time.Duration
	clk            clock.Clock
	log            *slog.Logger
}

// New returns a Submitter pricing tickets with catalog.
func New(committer Committer, catalog model.TicketCatalog, opts Options) *Submitter {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Submitter{
		committer:      committer,
		catalog:        catalog,
		publisher:      opts.Publisher,
		publishTimeout: opts.PublishTimeout,
		clk:            opts.Clock,
		log:            opts.Logger,
	}
}

// BuildRequest derives the commit request and its idempotency key from s.
// Identical sessions always yield an identical request and key.
func BuildRequest(s model.WizardSession) (model.ReservationRequest, string, error) {
	const op = "build reservation"
	if s.Screening == nil || s.Hold == nil {
		return model.ReservationRequest{}, "", apperr.New(apperr.ErrInvalidTransition, op, "no screening or no active hold")
	}
	if !s.Hold.Covers(s.SelectedSeatIDs) {
		return model.ReservationRequest{}, "", apperr.New(apperr.ErrCountMismatch, op, "hold does not cover the selected seats")
	}
	tickets, err := allocation.AssignSeatsToTickets(s.SelectedSeatIDs, s.Counts)
	if err != nil {
		return model.ReservationRequest{}, "", err
	}
	req := model.ReservationRequest{
		ScreeningID: s.Screening.ID,
		HoldID:      s.Hold.ID,
		Tickets:     tickets,
		UsedPoints:  s.UsedPoints,
	}
	return req, IdempotencyKey(s.ID, req), nil
}

// IdempotencyKey is a UUIDv5 over the canonical form of req within session.
func IdempotencyKey(sessionID string, req model.ReservationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d", sessionID, req.HoldID, req.ScreeningID, req.UsedPoints)
	for _, t := range req.Tickets {
		fmt.Fprintf(&b, "|%s:%d", t.SeatID, t.TicketTypeID)
	}
	return uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}

// Submit sends the commit for s. Errors from the backend are returned
// unchanged so the caller can decide the recovery; a retry with the same
// session state sends a byte-identical request.
func (s *Submitter) Submit(ctx context.Context, session model.WizardSession) (model.Receipt, error) {
	req, key, err := BuildRequest(session)
	if err != nil {
		s.log.Error("reservation request invalid",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
		return model.Receipt{}, err
	}
	total, err := allocation.Price(s.catalog, session.Counts, session.UsedPoints)
	if err != nil {
		return model.Receipt{}, err
	}

	id, err := s.committer.CommitReservation(gateway.WithPatron(ctx, session.PatronID), req, key)
	if err != nil {
		s.log.Warn("reservation commit failed",
			slog.String("session_id", session.ID),
			slog.String("hold_id", req.HoldID),
			slog.String("idempotency_key", key),
			slog.String("error", err.Error()))
		return model.Receipt{}, err
	}

	receipt := model.Receipt{
		ReservationID:    id,
		ScreeningID:      req.ScreeningID,
		Tickets:          req.Tickets,
		UsedPoints:       req.UsedPoints,
		TotalAmountCents: total,
		IdempotencyKey:   key,
		ConfirmedAt:      s.clk.Now(),
	}
	s.log.Info("reservation committed",
		slog.String("session_id", session.ID),
		slog.String("reservation_id", id),
		slog.Int("seats", len(req.Tickets)),
		slog.Any("total_amount_cents", total))

	s.publish(ctx, Confirmation{
		Receipt:   receipt,
		PatronID:  session.PatronID,
		MovieID:   session.MovieID,
		Screening: *session.Screening,
	})
	return receipt, nil
}

func (s *Submitter) publish(ctx context.Context, c Confirmation) {
	if s.publisher == nil {
		return
	}
	// the booking exists already; a cancelled request must not drop the event
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.PublishBookingConfirmed(pctx, c); err != nil {
		s.log.Warn("booking.confirmed publish failed",
			slog.String("reservation_id", c.Receipt.ReservationID),
			slog.String("error", err.Error()))
	}
}
