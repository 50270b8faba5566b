package dto

import "github.com/spec-kit/support-relay/internal/domain"

// Stream frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameConnected    = "connected"
	FrameUpdate       = "update"
	FrameTicketClosed = "ticket_closed"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameMessage      = "message"
	FrameError        = "error"
)

// ClientFrame is a frame received on the ticket stream.
type ClientFrame struct {
	Type     string `json:"type"`
	TicketID int64  `json:"ticket_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ServerFrame is a frame sent on the ticket stream.
type ServerFrame struct {
	Type         string               `json:"type"`
	ConnectionID string               `json:"connection_id,omitempty"`
	TicketID     int64                `json:"ticket_id,omitempty"`
	Data         *domain.TicketUpdate `json:"data,omitempty"`
	Disposition  string               `json:"disposition,omitempty"`
	Error        string               `json:"error,omitempty"`
}
