package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/auth"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

func ticketIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func agentPrincipal(c *fiber.Ctx) (*domain.Agent, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	return principal.Agent, nil
}

// messageContent validates a message payload.
func messageContent(req dto.MessageRequest) (domain.Content, error) {
	content := domain.Content{Text: strings.TrimSpace(req.Message)}
	if req.MediaType != "" {
		kind := domain.MediaKind(req.MediaType)
		switch kind {
		case domain.MediaPhoto, domain.MediaVideo, domain.MediaDocument:
		default:
			return content, apperrors.NewValidationError("unsupported media_type", map[string]any{"media_type": req.MediaType})
		}
		if req.MediaURL == "" {
			return content, apperrors.NewValidationError("media_url is required with media_type", nil)
		}
		content.Media = &domain.Media{Kind: kind, URL: req.MediaURL, Caption: req.MediaCaption}
	}
	if content.IsEmpty() {
		return content, apperrors.NewValidationError("message is required", nil)
	}
	return content, nil
}

func ticketResponse(t *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:              t.ID,
		DisplayID:       t.DisplayID,
		UserID:          t.UserID,
		Username:        t.Username,
		Category:        t.Category,
		Status:          t.Status,
		Activity:        t.Activity,
		AssignedAgentID: t.AssignedAgentID,
		InitialMessage:  t.InitialMessage,
		CreatedAt:       t.CreatedAt,
		TakenAt:         t.TakenAt,
		ClosedAt:        t.ClosedAt,
	}
}

func routeResponse(r service.RouteResult) dto.RouteResponse {
	return dto.RouteResponse{TicketID: r.TicketID, Disposition: string(r.Disposition), Delivered: r.Delivered}
}

func messageResponses(messages []domain.TicketMessage) []dto.TicketMessageResponse {
	resp := make([]dto.TicketMessageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, dto.TicketMessageResponse{
			ID:        m.ID,
			Direction: m.Direction,
			AuthorID:  m.AuthorID,
			Body:      m.Body,
			Media:     m.Media,
			Delivered: m.Delivered,
			CreatedAt: m.CreatedAt,
		})
	}
	return resp
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:        entry.ID,
			ActorType: entry.ActorType,
			ActorID:   entry.ActorID,
			OldStatus: entry.OldStatus,
			NewStatus: entry.NewStatus,
			Comment:   entry.Comment,
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}
