package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// TicketsHandler manages the client-facing ticket endpoints. Clients are
// identified by the opaque user id they pass.
type TicketsHandler struct {
	tickets *service.TicketService
	ratings *service.RatingService
	router  *service.Router
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, ratings *service.RatingService, router *service.Router) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, ratings: ratings, router: router}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), service.CreateTicketInput{
		UserID:   req.UserID,
		Username: req.Username,
		Category: req.Category,
		Message:  req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /tickets?user_id=&limit=&offset=.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	offset := c.QueryInt("offset", 0)
	tickets, err := h.tickets.ListUserTickets(c.UserContext(), c.Query("user_id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// PostMessage POST /tickets/:id/messages.
func (h *TicketsHandler) PostMessage(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
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
	if req.UserID != "" {
		if _, err := h.owned(c, id, req.UserID); err != nil {
			return err
		}
	}
	result, err := h.router.HandleUserMessageForTicket(c.UserContext(), id, content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": routeResponse(result)})
}

// ListMessages GET /tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	messages, err := h.tickets.ListMessages(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": messageResponses(messages)})
}

// CancelTicket POST /tickets/:id/cancel.
func (h *TicketsHandler) CancelTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.tickets.CancelTicket(c.UserContext(), id, domain.UserActor(req.UserID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// CloseTicket POST /tickets/:id/close. The ticket owner closes it.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.owned(c, id, req.UserID)
	if err != nil {
		return err
	}
	closed, err := h.tickets.CloseTicket(c.UserContext(), id, domain.UserActor(ticket.UserID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(closed)})
}

// RateTicket POST /tickets/:id/rating.
func (h *TicketsHandler) RateTicket(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.RatingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rating, err := h.ratings.Rate(c.UserContext(), id, req.UserID, req.Rating, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RatingResponse{
		TicketID:  rating.TicketID,
		Rating:    rating.Rating,
		Comment:   rating.Comment,
		UpdatedAt: rating.UpdatedAt,
	}})
}

// owned loads the ticket and checks userID against its owner when given.
func (h *TicketsHandler) owned(c *fiber.Ctx, id int64, userID string) (*domain.Ticket, error) {
	ticket, err := h.tickets.GetTicket(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if userID != "" && userID != ticket.UserID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	return ticket, nil
}
