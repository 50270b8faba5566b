package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusCancelled  TicketStatus = "cancelled"
)

// IsTerminal reports whether no transition may leave the status.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusCancelled
}

// IsActive reports whether the status counts towards the one-active-ticket rule.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusPending || s == TicketStatusInProgress
}

// ActivityMarker tells agents who is expected to speak next.
type ActivityMarker string

const (
	ActivityNone             ActivityMarker = ""
	ActivityAwaitingResponse ActivityMarker = "awaiting_response"
	ActivityAnswered         ActivityMarker = "answered"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID               int64
	DisplayID        int64
	UserID           string
	Username         string
	AssignedAgentID  *string
	Category         string
	InitialMessage   string
	OriginMessageRef *string
	ThreadRef        *string
	Status           TicketStatus
	Activity         ActivityMarker
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TakenAt          *time.Time
	ClosedAt         *time.Time
}

// AssignedTo reports whether agentID is the ticket's assignee.
func (t *Ticket) AssignedTo(agentID string) bool {
	return t.AssignedAgentID != nil && *t.AssignedAgentID == agentID
}

// Clone returns a copy that shares no pointers with t.
func (t Ticket) Clone() Ticket {
	t.AssignedAgentID = cloneString(t.AssignedAgentID)
	t.OriginMessageRef = cloneString(t.OriginMessageRef)
	t.ThreadRef = cloneString(t.ThreadRef)
	t.TakenAt = cloneTime(t.TakenAt)
	t.ClosedAt = cloneTime(t.ClosedAt)
	return t
}

// DisplayName is the user's name or a stable fallback built from the id.
func (t *Ticket) DisplayName() string {
	if t.Username != "" {
		return t.Username
	}
	return "user_" + t.UserID
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
