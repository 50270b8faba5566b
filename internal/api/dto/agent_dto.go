package dto

import "time"

// AgentLoginRequest payload.
type AgentLoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AgentResponse describes an agent.
type AgentResponse struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// AgentStatsResponse summarizes an agent's workload.
type AgentStatsResponse struct {
	AgentID     string  `json:"agent_id"`
	Active      int     `json:"active"`
	ClosedToday int     `json:"closed_today"`
	ClosedWeek  int     `json:"closed_week"`
	ClosedMonth int     `json:"closed_month"`
	Balance     float64 `json:"balance"`
}
