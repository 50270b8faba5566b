package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-relay/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketResponded     EventType = "ticket_responded"
)

// Event represents a domain event emitted by the ticket state machine.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  int64        `json:"ticket_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, ticketID int64, actor domain.Actor, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Update    domain.TicketUpdate `json:"update"`
	DisplayID int64               `json:"display_id"`
	UserID    string              `json:"user_id"`
	Category  string              `json:"category"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	Update    domain.TicketUpdate `json:"update"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketRespondedPayload payload.
type TicketRespondedPayload struct {
	Update    domain.TicketUpdate     `json:"update"`
	Direction domain.MessageDirection `json:"direction"`
	Delivered bool                    `json:"delivered"`
}
