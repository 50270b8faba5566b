package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/http/handlers"
	"github.com/spec-kit/support-relay/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Agents         *handlers.AgentsHandler
	Tickets        *handlers.TicketsHandler
	AgentTickets   *handlers.AgentTicketsHandler
	Updates        *handlers.UpdatesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/agents/login", cfg.Agents.Login)

	api := app.Group("/api/v1")

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.PostMessage)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Post("/:id/cancel", cfg.Tickets.CancelTicket)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/rating", cfg.Tickets.RateTicket)
	tickets.Get("/:id/updates", cfg.Updates.LongPoll)
	tickets.Get("/:id/ws", cfg.Updates.RequireUpgrade, websocket.New(cfg.Updates.Stream))

	agent := api.Group("/agent", cfg.AuthMiddleware.Handle, auth.RequireAgent())
	agent.Get("/me", cfg.Agents.Me)
	agent.Get("/me/stats", cfg.AgentTickets.Stats)
	agent.Get("/queue", cfg.AgentTickets.Queue)
	agent.Post("/tickets/:id/take", cfg.AgentTickets.Take)
	agent.Post("/tickets/:id/reply", cfg.AgentTickets.Reply)
	agent.Post("/tickets/:id/close", cfg.AgentTickets.Close)
	agent.Post("/tickets/:id/cancel", cfg.AgentTickets.Cancel)
	agent.Post("/tickets/:id/rename", cfg.AgentTickets.Rename)
	agent.Get("/tickets/:id/history", cfg.AgentTickets.History)
	agent.Get("/tickets/:id/messages", cfg.AgentTickets.Messages)
}
