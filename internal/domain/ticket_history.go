package domain

import "time"

// ActorType identifies who triggered a transition.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAgent  ActorType = "AGENT"
	ActorSystem ActorType = "SYSTEM"
)

// Actor is the caller of a state machine operation.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// UserActor builds an end-user actor.
func UserActor(userID string) Actor { return Actor{Type: ActorUser, ID: userID} }

// AgentActor builds a support agent actor.
func AgentActor(agentID string) Actor { return Actor{Type: ActorAgent, ID: agentID} }

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID        int64
	TicketID  int64
	ActorType ActorType
	ActorID   string
	OldStatus TicketStatus
	NewStatus TicketStatus
	Comment   string
	CreatedAt time.Time
}
