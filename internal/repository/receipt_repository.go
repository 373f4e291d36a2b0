package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/cinema-booking-coordinator/internal/model"
)

// Schema is the DDL of the receipt store. It is applied by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS booking_receipts (
		reservation_id     VARCHAR(64)  NOT NULL PRIMARY KEY,
		patron_id          VARCHAR(64)  NOT NULL,
		movie_id           VARCHAR(64)  NOT NULL,
		screening_id       BIGINT UNSIGNED NOT NULL,
		room_name          VARCHAR(128) NOT NULL DEFAULT '',
		starts_at          DATETIME     NULL,
		used_points        INT          NOT NULL DEFAULT 0,
		total_amount_cents INT UNSIGNED NOT NULL,
		confirmed_at       DATETIME     NOT NULL,
		KEY idx_receipts_patron (patron_id, confirmed_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS booking_receipt_tickets (
		reservation_id VARCHAR(64)     NOT NULL,
		seat_id        VARCHAR(64)     NOT NULL,
		ticket_type_id BIGINT UNSIGNED NOT NULL,
		PRIMARY KEY (reservation_id, seat_id),
		CONSTRAINT fk_receipt_tickets FOREIGN KEY (reservation_id)
			REFERENCES booking_receipts (reservation_id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// ReceiptRepo persists confirmed bookings. All timestamps are stored in UTC.
type ReceiptRepo struct {
	db *sql.DB
}

// NewReceiptRepo returns a ReceiptRepo bound to db.
func NewReceiptRepo(db *sql.DB) *ReceiptRepo { return &ReceiptRepo{db: db} }

// Migrate creates the receipt tables when they are missing.
func (r *ReceiptRepo) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate receipts: %w", err)
		}
	}
	return nil
}

// Save stores rec and its tickets in one transaction. Saving the same
// reservation twice is a no-op, which makes redelivered events harmless.
// A reservation id already stored for another patron yields ErrConflict.
func (r *ReceiptRepo) Save(ctx context.Context, rec model.BookingRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT patron_id FROM booking_receipts WHERE reservation_id = ? FOR UPDATE`, rec.ReservationID).Scan(&owner)
	switch {
	case err == nil:
		if owner != rec.PatronID {
			return ErrConflict
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	var startsAt sql.NullTime
	if !rec.StartsAt.IsZero() {
		startsAt = sql.NullTime{Time: rec.StartsAt.UTC(), Valid: true}
	}
	const q = `INSERT INTO booking_receipts
		(reservation_id, patron_id, movie_id, screening_id, room_name, starts_at, used_points, total_amount_cents, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		rec.ReservationID, rec.PatronID, rec.MovieID, rec.ScreeningID, rec.RoomName,
		startsAt, rec.UsedPoints, rec.TotalAmountCents, rec.ConfirmedAt.UTC(),
	); err != nil {
		return err
	}

	if len(rec.Tickets) > 0 {
		// Build a single multi-row insert for the tickets.
		placeholders := make([]string, len(rec.Tickets))
		args := make([]interface{}, 0, len(rec.Tickets)*3)
		for i, t := range rec.Tickets {
			placeholders[i] = "(?, ?, ?)"
			args = append(args, rec.ReservationID, t.SeatID, t.TicketTypeID)
		}
		q := `INSERT INTO booking_receipt_tickets (reservation_id, seat_id, ticket_type_id) VALUES ` + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

const selectReceipt = `SELECT reservation_id, patron_id, movie_id, screening_id, room_name,
	starts_at, used_points, total_amount_cents, confirmed_at
	FROM booking_receipts`

// ListByPatron returns the patron's receipts, newest first.
func (r *ReceiptRepo) ListByPatron(ctx context.Context, patronID string) ([]model.BookingRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectReceipt+` WHERE patron_id = ? ORDER BY confirmed_at DESC, reservation_id`, patronID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.BookingRecord{}
	index := map[string]int{}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		index[rec.ReservationID] = len(out)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	trows, err := r.db.QueryContext(ctx, `SELECT t.reservation_id, t.seat_id, t.ticket_type_id
		FROM booking_receipt_tickets t
		JOIN booking_receipts b ON b.reservation_id = t.reservation_id
		WHERE b.patron_id = ?
		ORDER BY t.reservation_id, t.seat_id`, patronID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var resID string
		var t model.TicketAssignment
		if err := trows.Scan(&resID, &t.SeatID, &t.TicketTypeID); err != nil {
			return nil, err
		}
		if i, ok := index[resID]; ok {
			out[i].Tickets = append(out[i].Tickets, t)
		}
	}
	return out, trows.Err()
}

// GetForPatron returns one receipt owned by patronID, or ErrReceiptNotFound.
func (r *ReceiptRepo) GetForPatron(ctx context.Context, reservationID, patronID string) (model.BookingRecord, error) {
	row := r.db.QueryRowContext(ctx, selectReceipt+` WHERE reservation_id = ? AND patron_id = ?`, reservationID, patronID)
	rec, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BookingRecord{}, ErrReceiptNotFound
	}
	if err != nil {
		return model.BookingRecord{}, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT seat_id, ticket_type_id FROM booking_receipt_tickets
		WHERE reservation_id = ? ORDER BY seat_id`, reservationID)
	if err != nil {
		return model.BookingRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.TicketAssignment
		if err := rows.Scan(&t.SeatID, &t.TicketTypeID); err != nil {
			return model.BookingRecord{}, err
		}
		rec.Tickets = append(rec.Tickets, t)
	}
	return rec, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(s scanner) (model.BookingRecord, error) {
	var rec model.BookingRecord
	var startsAt sql.NullTime
	err := s.Scan(&rec.ReservationID, &rec.PatronID, &rec.MovieID, &rec.ScreeningID, &rec.RoomName,
		&startsAt, &rec.UsedPoints, &rec.TotalAmountCents, &rec.ConfirmedAt)
	if err != nil {
		return model.BookingRecord{}, err
	}
	if startsAt.Valid {
		rec.StartsAt = startsAt.Time.UTC()
	}
	rec.ConfirmedAt = rec.ConfirmedAt.UTC()
	rec.Tickets = []model.TicketAssignment{}
	return rec, nil
}
