// Package repository stores confirmed bookings in MySQL so patrons can list
// them after their wizard session is gone.
package repository

import "errors"

// ErrReceiptNotFound is returned when no receipt with the requested id
// exists for the calling patron. Receipts of other patrons are reported
// the same way so ids cannot be probed. Handlers translate it into 404.
var ErrReceiptNotFound = errors.New("receipt not found")

// ErrConflict is returned when a receipt id is already stored for a
// different patron. The consumer treats it as a poison message.
var ErrConflict = errors.New("conflict")
