package domain

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Rating is the user's score for a handled ticket, one per (ticket, user).
type Rating struct {
	ID        int64
	TicketID  int64
	UserID    string
	Rating    int
	Comment   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
