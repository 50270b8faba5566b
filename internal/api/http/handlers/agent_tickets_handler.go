package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// AgentTicketsHandler serves the agent workspace.
type AgentTicketsHandler struct {
	tickets *service.TicketService
	router  *service.Router
}

// NewAgentTicketsHandler constructs handler.
func NewAgentTicketsHandler(tickets *service.TicketService, router *service.Router) *AgentTicketsHandler {
	return &AgentTicketsHandler{tickets: tickets, router: router}
}

// Queue GET /agent/queue.
func (h *AgentTicketsHandler) Queue(c *fiber.Ctx) error {
	active := h.tickets.ActiveTickets()
	items := make([]dto.TicketResponse, 0, len(active))
	for i := range active {
		items = append(items, ticketResponse(&active[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Take POST /agent/tickets/:id/take.
func (h *AgentTicketsHandler) Take(c *fiber.Ctx) error {
	agent, id, err := h.target(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.TakeTicket(c.UserContext(), id, agent.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Reply POST /agent/tickets/:id/reply.
func (h *AgentTicketsHandler) Reply(c *fiber.Ctx) error {
	agent, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	content, err := messageContent(req)
	if err != nil {
		return err
	}
	result, err := h.router.HandleAgentMessageForTicket(c.UserContext(), agent.ID, id, content)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": routeResponse(result)})
}

// Close POST /agent/tickets/:id/close.
func (h *AgentTicketsHandler) Close(c *fiber.Ctx) error {
	agent, id, err := h.target(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.CloseTicket(c.UserContext(), id, domain.AgentActor(agent.ID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Cancel POST /agent/tickets/:id/cancel.
func (h *AgentTicketsHandler) Cancel(c *fiber.Ctx) error {
	agent, id, err := h.target(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.CancelTicket(c.UserContext(), id, domain.AgentActor(agent.ID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Rename POST /agent/tickets/:id/rename.
func (h *AgentTicketsHandler) Rename(c *fiber.Ctx) error {
	agent, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.RenameRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.tickets.RenameTicket(c.UserContext(), id, agent.ID, req.Title); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// History GET /agent/tickets/:id/history.
func (h *AgentTicketsHandler) History(c *fiber.Ctx) error {
	_, id, err := h.target(c)
	if err != nil {
		return err
	}
	history, err := h.tickets.ListHistory(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(history)})
}

// Messages GET /agent/tickets/:id/messages.
func (h *AgentTicketsHandler) Messages(c *fiber.Ctx) error {
	_, id, err := h.target(c)
	if err != nil {
		return err
	}
	messages, err := h.tickets.ListMessages(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": messageResponses(messages)})
}

// Stats GET /agent/me/stats.
func (h *AgentTicketsHandler) Stats(c *fiber.Ctx) error {
	agent, err := agentPrincipal(c)
	if err != nil {
		return err
	}
	stats, err := h.tickets.AgentStats(c.UserContext(), agent.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AgentStatsResponse{
		AgentID:     stats.AgentID,
		Active:      stats.Active,
		ClosedToday: stats.ClosedToday,
		ClosedWeek:  stats.ClosedWeek,
		ClosedMonth: stats.ClosedMonth,
		Balance:     stats.Balance,
	}})
}

func (h *AgentTicketsHandler) target(c *fiber.Ctx) (*domain.Agent, int64, error) {
	agent, err := agentPrincipal(c)
	if err != nil {
		return nil, 0, err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return nil, 0, err
	}
	return agent, id, nil
}
