package domain

import "time"

// TicketUpdate is the ephemeral notification pushed to subscribers.
type TicketUpdate struct {
	TicketID  int64        `json:"ticket_id"`
	Status    TicketStatus `json:"status"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewTicketUpdate stamps an update with the current time.
func NewTicketUpdate(ticketID int64, status TicketStatus, message string) TicketUpdate {
	return TicketUpdate{TicketID: ticketID, Status: status, Message: message, Timestamp: time.Now().UTC()}
}
