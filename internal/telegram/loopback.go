package telegram

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
)

// Loopback is a transport for HTTP-only deployments: chat side effects are
// logged and refs are minted locally.
type Loopback struct {
	logger *zap.Logger
	seq    atomic.Int64
}

// NewLoopback builds the log-only transport.
func NewLoopback(logger *zap.Logger) *Loopback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loopback{logger: logger.Named("loopback")}
}

var _ service.Transport = (*Loopback)(nil)

func (l *Loopback) AnnounceTicket(ctx context.Context, ticket domain.Ticket) (string, error) {
	ref := l.nextRef()
	l.logger.Info("announce ticket", zap.Int64("ticket_id", ticket.ID), zap.Int64("display_id", ticket.DisplayID), zap.String("origin_ref", ref))
	return ref, nil
}

func (l *Loopback) SendToUser(ctx context.Context, userID string, content domain.Content) error {
	l.logger.Info("to user", zap.String("user_id", userID), zap.String("content", content.Summary()))
	return nil
}

func (l *Loopback) SendToThread(ctx context.Context, threadRef string, content domain.Content) error {
	l.logger.Info("to thread", zap.String("thread_ref", threadRef), zap.String("content", content.Summary()))
	return nil
}

func (l *Loopback) CreateThread(ctx context.Context, ticket domain.Ticket) (string, error) {
	ref := l.nextRef()
	l.logger.Info("create thread", zap.Int64("ticket_id", ticket.ID), zap.String("thread_ref", ref))
	return ref, nil
}

func (l *Loopback) CloseThread(ctx context.Context, threadRef string) error {
	l.logger.Info("close thread", zap.String("thread_ref", threadRef))
	return nil
}

func (l *Loopback) RenameThread(ctx context.Context, threadRef, title string) error {
	l.logger.Info("rename thread", zap.String("thread_ref", threadRef), zap.String("title", title))
	return nil
}

func (l *Loopback) RequestRating(ctx context.Context, ticket domain.Ticket) error {
	l.logger.Info("request rating", zap.Int64("ticket_id", ticket.ID))
	return nil
}

func (l *Loopback) PublishReview(ctx context.Context, ticket domain.Ticket, rating domain.Rating) error {
	l.logger.Info("review", zap.Int64("ticket_id", ticket.ID), zap.Int("rating", rating.Rating))
	return nil
}

func (l *Loopback) nextRef() string {
	return "loop-" + strconv.FormatInt(l.seq.Add(1), 10)
}
