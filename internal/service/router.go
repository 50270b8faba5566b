package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/pending"
	"github.com/spec-kit/support-relay/internal/registry"
	"github.com/spec-kit/support-relay/internal/repository"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// Disposition is what the router did with an inbound message.
type Disposition string

const (
	DispositionForwarded Disposition = "forwarded"
	DispositionBuffered  Disposition = "buffered"
	DispositionIgnored   Disposition = "ignored"
	DispositionRejected  Disposition = "rejected"
	// DispositionConsumed marks a message taken by an armed prompt.
	DispositionConsumed Disposition = "consumed"
)

// RouteResult reports the outcome of routing one message.
type RouteResult struct {
	Disposition Disposition
	TicketID    int64
	// Delivered is false when forwarding to the counterpart failed.
	Delivered bool
}

// Router decides per inbound message whether to forward, buffer, ignore or reject it.
type Router struct {
	tickets   *TicketService
	ratings   *RatingService
	registry  *registry.Registry
	store     repository.TicketRepository
	prompts   pending.Store
	promptTTL time.Duration
	transport Transport
	logger    *zap.Logger
}

// RouterDependencies bundles collaborators for the router.
type RouterDependencies struct {
	Tickets    *TicketService
	Ratings    *RatingService
	Registry   *registry.Registry
	TicketRepo repository.TicketRepository
	Prompts    pending.Store
	PromptTTL  time.Duration
	Transport  Transport
	Logger     *zap.Logger
}

// NewRouter builds the router.
func NewRouter(deps RouterDependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		tickets:   deps.Tickets,
		ratings:   deps.Ratings,
		registry:  deps.Registry,
		store:     deps.TicketRepo,
		prompts:   deps.Prompts,
		promptTTL: deps.PromptTTL,
		transport: deps.Transport,
		logger:    logger,
	}
}

// HandleUserMessage routes a message the user wrote in their private chat.
func (r *Router) HandleUserMessage(ctx context.Context, userID string, content domain.Content) (RouteResult, error) {
	if result, ok, err := r.consumeUserPrompt(ctx, userID, content); ok {
		return result, err
	}
	ticket, ok := r.registry.LookupByUser(userID)
	if !ok {
		return RouteResult{Disposition: DispositionRejected}, apperrors.NewNoActiveTicket(userID)
	}
	return r.routeUser(ctx, ticket, content)
}

// HandleUserMessageForTicket routes a user message addressed by ticket id, as
// sent by HTTP and WebSocket clients.
func (r *Router) HandleUserMessageForTicket(ctx context.Context, ticketID int64, content domain.Content) (RouteResult, error) {
	ticket, ok := r.registry.LookupByID(ticketID)
	if !ok {
		return RouteResult{Disposition: DispositionRejected, TicketID: ticketID}, r.inactiveTicketError(ctx, ticketID)
	}
	return r.routeUser(ctx, ticket, content)
}

// HandleAgentMessage routes a message an agent wrote in the support chat. ref
// is the thread the message was posted in, or the announcement it replied to.
func (r *Router) HandleAgentMessage(ctx context.Context, agentID, ref string, content domain.Content) (RouteResult, error) {
	if result, ok, err := r.consumeAgentPrompt(ctx, agentID, content); ok {
		return result, err
	}
	ticket, ok := r.registry.LookupByThreadRef(ref)
	if !ok {
		ticket, ok = r.registry.LookupByOriginRef(ref)
	}
	if !ok || ticket.Status != domain.TicketStatusInProgress {
		return RouteResult{Disposition: DispositionIgnored, TicketID: ticket.ID}, nil
	}
	return r.forward(ctx, ticket.ID, domain.AgentActor(agentID), content)
}

// HandleAgentMessageForTicket routes an agent reply addressed by ticket id.
func (r *Router) HandleAgentMessageForTicket(ctx context.Context, agentID string, ticketID int64, content domain.Content) (RouteResult, error) {
	ticket, ok := r.registry.LookupByID(ticketID)
	if !ok {
		return RouteResult{Disposition: DispositionRejected, TicketID: ticketID}, r.inactiveTicketError(ctx, ticketID)
	}
	if ticket.Status != domain.TicketStatusInProgress {
		return RouteResult{Disposition: DispositionRejected, TicketID: ticketID}, errNotInProgress(ticket)
	}
	return r.forward(ctx, ticket.ID, domain.AgentActor(agentID), content)
}

// ArmRename makes the agent's next message the new thread title.
func (r *Router) ArmRename(ctx context.Context, ticketID int64, agentID string) error {
	if _, err := r.tickets.CheckRename(ctx, ticketID, agentID); err != nil {
		return err
	}
	return r.arm(ctx, pending.Action{Kind: pending.KindRename, TicketID: ticketID, ActorID: agentPromptKey(agentID)})
}

// ArmRatingComment makes the user's next message the comment of their rating.
func (r *Router) ArmRatingComment(ctx context.Context, ticketID int64, userID string) error {
	return r.arm(ctx, pending.Action{Kind: pending.KindRatingComment, TicketID: ticketID, ActorID: userPromptKey(userID)})
}

// SkipUserPrompt drops an armed prompt of the user.
func (r *Router) SkipUserPrompt(ctx context.Context, userID string) error {
	return r.prompts.Clear(ctx, userPromptKey(userID))
}

func (r *Router) arm(ctx context.Context, action pending.Action) error {
	if r.promptTTL > 0 {
		action.ExpiresAt = time.Now().Add(r.promptTTL)
	}
	if err := r.prompts.Arm(ctx, action); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (r *Router) routeUser(ctx context.Context, ticket domain.Ticket, content domain.Content) (RouteResult, error) {
	if ticket.Status == domain.TicketStatusPending {
		buffered, err := r.tickets.BufferUserMessage(ctx, ticket.ID, content)
		if err != nil {
			return RouteResult{Disposition: DispositionRejected, TicketID: ticket.ID}, err
		}
		if buffered {
			if err := r.transport.SendToUser(ctx, ticket.UserID, Text("Your message is saved. An agent will answer once they take the ticket.")); err != nil {
				r.logger.Warn("notify user failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			}
			return RouteResult{Disposition: DispositionBuffered, TicketID: ticket.ID}, nil
		}
		// taken between lookup and buffering
	}
	return r.forward(ctx, ticket.ID, domain.UserActor(ticket.UserID), content)
}

func (r *Router) forward(ctx context.Context, ticketID int64, actor domain.Actor, content domain.Content) (RouteResult, error) {
	delivered, err := r.tickets.Respond(ctx, ticketID, actor, content)
	if err != nil {
		return RouteResult{Disposition: DispositionRejected, TicketID: ticketID}, err
	}
	return RouteResult{Disposition: DispositionForwarded, TicketID: ticketID, Delivered: delivered}, nil
}

func (r *Router) consumeUserPrompt(ctx context.Context, userID string, content domain.Content) (RouteResult, bool, error) {
	action, ok := r.takePrompt(ctx, userPromptKey(userID))
	if !ok || action.Kind != pending.KindRatingComment {
		return RouteResult{}, false, nil
	}
	result := RouteResult{Disposition: DispositionConsumed, TicketID: action.TicketID}
	if content.Text == "" {
		return result, true, apperrors.NewValidationError("comment must be text", nil)
	}
	_, err := r.ratings.Comment(ctx, action.TicketID, userID, content.Text)
	return result, true, err
}

func (r *Router) consumeAgentPrompt(ctx context.Context, agentID string, content domain.Content) (RouteResult, bool, error) {
	action, ok := r.takePrompt(ctx, agentPromptKey(agentID))
	if !ok || action.Kind != pending.KindRename {
		return RouteResult{}, false, nil
	}
	result := RouteResult{Disposition: DispositionConsumed, TicketID: action.TicketID}
	return result, true, r.tickets.RenameTicket(ctx, action.TicketID, agentID, content.Text)
}

func (r *Router) takePrompt(ctx context.Context, key string) (pending.Action, bool) {
	if r.prompts == nil {
		return pending.Action{}, false
	}
	action, ok, err := r.prompts.Take(ctx, key)
	if err != nil {
		r.logger.Warn("read pending action failed", zap.String("actor", key), zap.Error(err))
		return pending.Action{}, false
	}
	return action, ok
}

// inactiveTicketError explains why a ticket id is not routable.
func (r *Router) inactiveTicketError(ctx context.Context, ticketID int64) error {
	ticket, err := r.store.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.NewInternalError(err)
	}
	if ticket.Status.IsTerminal() {
		return errTicketClosed(*ticket)
	}
	return errNotInProgress(*ticket)
}

func userPromptKey(userID string) string {
	return "user:" + userID
}

func agentPromptKey(agentID string) string {
	return "agent:" + agentID
}
