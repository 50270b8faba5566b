package dto

import (
	"time"

	"github.com/spec-kit/support-relay/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// MessageRequest carries a user or agent message. Media is optional and
// referenced by URL.
type MessageRequest struct {
	Message      string `json:"message"`
	UserID       string `json:"user_id"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	MediaCaption string `json:"media_caption"`
}

// CancelRequest optionally names the user cancelling.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// RatingRequest payload.
type RatingRequest struct {
	Rating  int     `json:"rating"`
	UserID  string  `json:"user_id"`
	Comment *string `json:"comment"`
}

// RenameRequest payload.
type RenameRequest struct {
	Title string `json:"title"`
}

// TicketResponse is the client view of a ticket.
type TicketResponse struct {
	ID              int64                 `json:"id"`
	DisplayID       int64                 `json:"display_id"`
	UserID          string                `json:"user_id"`
	Username        string                `json:"username,omitempty"`
	Category        string                `json:"category"`
	Status          domain.TicketStatus   `json:"status"`
	Activity        domain.ActivityMarker `json:"activity,omitempty"`
	AssignedAgentID *string               `json:"assigned_agent_id"`
	InitialMessage  string                `json:"initial_message"`
	CreatedAt       time.Time             `json:"created_at"`
	TakenAt         *time.Time            `json:"taken_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
}

// RouteResponse reports what happened to a posted message.
type RouteResponse struct {
	TicketID    int64  `json:"ticket_id"`
	Disposition string `json:"disposition"`
	Delivered   bool   `json:"delivered"`
}

// TicketMessageResponse is one entry of the message log.
type TicketMessageResponse struct {
	ID        int64                   `json:"id"`
	Direction domain.MessageDirection `json:"direction"`
	AuthorID  string                  `json:"author_id"`
	Body      string                  `json:"body"`
	Media     *domain.Media           `json:"media,omitempty"`
	Delivered bool                    `json:"delivered"`
	CreatedAt time.Time               `json:"created_at"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID        int64               `json:"id"`
	ActorType domain.ActorType    `json:"actor_type"`
	ActorID   string              `json:"actor_id"`
	OldStatus domain.TicketStatus `json:"old_status,omitempty"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// RatingResponse payload.
type RatingResponse struct {
	TicketID  int64     `json:"ticket_id"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdatesResponse is the long-poll reply.
type UpdatesResponse struct {
	Updates []domain.TicketUpdate `json:"updates"`
}
