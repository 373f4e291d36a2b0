// Package apperr defines the error taxonomy shared by the gateway, the hold
// coordinator, the wizard and the HTTP layer. Lower layers return (or wrap)
// the sentinel values below; only the wizard decides what a failure means
// for the patron and only the handlers translate it into a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Compare with errors.Is.
var (
	// ErrNetwork is a transient transport or 5xx failure. Retryable.
	ErrNetwork = errors.New("network error")
	// ErrTimeout means the call did not finish before its deadline. Retryable.
	ErrTimeout = errors.New("timeout")
	// ErrNotFound is returned for unknown movies, screenings or sessions.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a patron touches another patron's session.
	ErrForbidden = errors.New("forbidden")
	// ErrSeatUnavailable means another party holds or booked a requested seat.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrSeatNoLongerAvailable is the commit-time variant of ErrSeatUnavailable.
	ErrSeatNoLongerAvailable = errors.New("seat no longer available")
	// ErrHoldExpiredServerSide means the backend refused a commit because the
	// hold had already lapsed there.
	ErrHoldExpiredServerSide = errors.New("hold expired server side")
	// ErrExpired means the local hold timer fired.
	ErrExpired = errors.New("hold expired")
	// ErrLimitExceeded is a local validation failure; never sent to the server.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrCountMismatch means the selected seats and the requested tickets
	// disagree. Unreachable when the wizard guards hold.
	ErrCountMismatch = errors.New("count mismatch")
	// ErrHoldReleaseFailed is logged but does not block the patron.
	ErrHoldReleaseFailed = errors.New("hold release failed")
	// ErrInvalidTransition is a failed step guard or an impossible step move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned while another action on the same session is in flight.
	ErrBusy = errors.New("session busy")
	// ErrInvalidInput covers malformed requests and unknown ids.
	ErrInvalidInput = errors.New("invalid input")
)

// Error carries context around one of the sentinels. Kind is the sentinel,
// Op names the failing operation and SeatIDs lists the seats involved, when
// the backend reported them.
type Error struct {
	Kind    error
	Op      string
	Message string
	SeatIDs []string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if len(e.SeatIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.SeatIDs, ","))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return e.Kind != nil && target == e.Kind }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Seats builds an *Error of the given kind listing the offending seats.
func Seats(kind error, op string, seatIDs []string) *Error {
	return &Error{Kind: kind, Op: op, SeatIDs: append([]string(nil), seatIDs...)}
}

// SeatIDsOf returns the seat ids attached to err, if any.
func SeatIDsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.SeatIDs
	}
	return nil
}

// Retryable reports whether repeating the identical call may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}

var codes = []struct {
	kind   error
	code   string
	status int
}{
	{ErrBusy, "busy", http.StatusConflict},
	{ErrSeatNoLongerAvailable, "seat_no_longer_available", http.StatusConflict},
	{ErrSeatUnavailable, "seat_unavailable", http.StatusConflict},
	{ErrHoldExpiredServerSide, "hold_expired", http.StatusGone},
	{ErrExpired, "expired", http.StatusGone},
	{ErrLimitExceeded, "limit_exceeded", http.StatusUnprocessableEntity},
	{ErrCountMismatch, "count_mismatch", http.StatusUnprocessableEntity},
	{ErrInvalidTransition, "invalid_transition", http.StatusUnprocessableEntity},
	{ErrHoldReleaseFailed, "hold_release_failed", http.StatusBadGateway},
	{ErrTimeout, "timeout", http.StatusGatewayTimeout},
	{ErrNetwork, "network_error", http.StatusBadGateway},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrInvalidInput, "invalid_input", http.StatusBadRequest},
}

// Code returns a stable machine readable code for err.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err to the status the API answers with.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}
