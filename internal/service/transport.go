package service

import (
	"context"

	"github.com/spec-kit/support-relay/internal/domain"
)

// Transport is the chat side of the relay: the shared queue view agents pick
// tickets from, one thread per taken ticket, and the user's private chat.
// Refs are opaque strings owned by the implementation.
type Transport interface {
	// AnnounceTicket posts a new ticket to the queue and returns the origin ref.
	AnnounceTicket(ctx context.Context, ticket domain.Ticket) (string, error)
	SendToUser(ctx context.Context, userID string, content domain.Content) error
	SendToThread(ctx context.Context, threadRef string, content domain.Content) error
	// CreateThread opens the dedicated conversation of a taken ticket and returns its ref.
	CreateThread(ctx context.Context, ticket domain.Ticket) (string, error)
	CloseThread(ctx context.Context, threadRef string) error
	RenameThread(ctx context.Context, threadRef, title string) error
	RequestRating(ctx context.Context, ticket domain.Ticket) error
	PublishReview(ctx context.Context, ticket domain.Ticket, rating domain.Rating) error
}

// Text wraps plain text as forwardable content.
func Text(s string) domain.Content {
	return domain.Content{Text: s}
}
