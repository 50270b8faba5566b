package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/repository"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// RatingService records user feedback on closed tickets.
type RatingService struct {
	ratings   repository.RatingRepository
	tickets   repository.TicketRepository
	transport Transport
	logger    *zap.Logger
}

// NewRatingService builds the service.
func NewRatingService(ratings repository.RatingRepository, tickets repository.TicketRepository, transport Transport, logger *zap.Logger) *RatingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RatingService{ratings: ratings, tickets: tickets, transport: transport, logger: logger}
}

// Rate upserts the user's score. A nil comment keeps the stored comment. An
// empty userID rates on behalf of the ticket owner.
func (s *RatingService) Rate(ctx context.Context, ticketID int64, userID string, score int, comment *string) (*domain.Rating, error) {
	if score < domain.MinRating || score > domain.MaxRating {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": score})
	}
	ticket, err := s.ratableTicket(ctx, ticketID, userID)
	if err != nil {
		return nil, err
	}
	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		comment = &trimmed
	}

	rating := &domain.Rating{TicketID: ticket.ID, UserID: ticket.UserID, Rating: score, Comment: comment}
	if err := s.ratings.Upsert(ctx, rating); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.publish(ctx, ticket, rating)
	return rating, nil
}

// Comment attaches a comment to an existing rating.
func (s *RatingService) Comment(ctx context.Context, ticketID int64, userID, comment string) (*domain.Rating, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperrors.NewValidationError("comment is empty", nil)
	}
	ticket, err := s.ratableTicket(ctx, ticketID, userID)
	if err != nil {
		return nil, err
	}
	existing, err := s.ratings.Get(ctx, ticket.ID, ticket.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError("rate the ticket before commenting", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return s.Rate(ctx, ticket.ID, ticket.UserID, existing.Rating, &comment)
}

func (s *RatingService) ratableTicket(ctx context.Context, ticketID int64, userID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	if userID != "" && userID != ticket.UserID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	if ticket.Status != domain.TicketStatusClosed {
		return nil, apperrors.NewConflict("only closed tickets can be rated", map[string]any{"status": ticket.Status})
	}
	return ticket, nil
}

func (s *RatingService) publish(ctx context.Context, ticket *domain.Ticket, rating *domain.Rating) {
	if s.transport == nil {
		return
	}
	if err := s.transport.PublishReview(ctx, *ticket, *rating); err != nil {
		s.logger.Warn("publish review failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}
