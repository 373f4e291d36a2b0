package model

import "time"

// Screening is one showing of a movie in a room at a start time. It is
// immutable once fetched and is fetched again whenever the patron picks a
// different date.
//
// Fields:
//
//	ID             – backend identifier of the screening.
//	MovieID        – movie being shown.
//	RoomID         – room where the screening takes place.
//	RoomName       – display name of the room.
//	StartsAt       – start time (UTC).
//	TotalSeats     – number of physical seats in the room.
//	AvailableSeats – server-derived count; advisory only, a hold is the
//	                 only proof that a seat can be had.
type Screening struct {
	ID             uint64    `json:"id"`
	MovieID        string    `json:"movie_id"`
	RoomID         uint64    `json:"room_id"`
	RoomName       string    `json:"room_name"`
	StartsAt       time.Time `json:"starts_at"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
}
