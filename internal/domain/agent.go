package domain

import "time"

// Agent models a support agent able to log into the HTTP API.
type Agent struct {
	ID             string
	Login          string
	DisplayName    string
	PasswordHash   string
	Active         bool
	TelegramUserID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AgentStats summarizes an agent's workload.
type AgentStats struct {
	AgentID     string
	Active      int
	ClosedToday int
	ClosedWeek  int
	ClosedMonth int
	Balance     float64
}
