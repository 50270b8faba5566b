package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/events"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/registry"
	"github.com/spec-kit/support-relay/internal/repository"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

const (
	defaultCategory = "general"
	maxTitleLength  = 128
	defaultPageSize = 20
	maxPageSize     = 100
)

// TicketService is the ticket state machine. Every transition of one ticket
// runs under that ticket's lock; creation runs under the user's lock.
type TicketService struct {
	tickets     repository.TicketRepository
	messages    repository.TicketMessageRepository
	history     repository.TicketHistoryRepository
	balances    repository.BalanceRepository
	registry    *registry.Registry
	transport   Transport
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	locks       *keyedMutex
	closeReward float64
	now         func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	HistoryRepo repository.TicketHistoryRepository
	BalanceRepo repository.BalanceRepository
	Registry    *registry.Registry
	Transport   Transport
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	CloseReward float64
}

// CreateTicketInput describes a new ticket.
type CreateTicketInput struct {
	UserID   string
	Username string
	Category string
	Message  string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		messages:    deps.MessageRepo,
		history:     deps.HistoryRepo,
		balances:    deps.BalanceRepo,
		registry:    deps.Registry,
		transport:   deps.Transport,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      logger,
		locks:       newKeyedMutex(),
		closeReward: deps.CloseReward,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateTicket opens a pending ticket. A user may hold one active ticket at a time.
func (s *TicketService) CreateTicket(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Message = strings.TrimSpace(input.Message)
	if input.UserID == "" {
		return nil, apperrors.NewValidationError("user_id is required", nil)
	}
	if input.Message == "" {
		return nil, apperrors.NewValidationError("message is required", nil)
	}
	if strings.TrimSpace(input.Category) == "" {
		input.Category = defaultCategory
	}

	unlockUser := s.locks.Lock(userKey(input.UserID))
	defer unlockUser()

	if existing, ok := s.registry.LookupByUser(input.UserID); ok {
		return nil, apperrors.NewConflictCode(apperrors.CodeActiveTicketExists, "user already has an active ticket",
			map[string]any{"ticket_id": existing.ID, "display_id": existing.DisplayID})
	}

	displayID, err := s.tickets.NextDisplayID(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("next display id: %w", err))
	}
	ticket := domain.Ticket{
		DisplayID:      displayID,
		UserID:         input.UserID,
		Username:       strings.TrimSpace(input.Username),
		Category:       strings.TrimSpace(input.Category),
		InitialMessage: input.Message,
		Status:         domain.TicketStatusPending,
	}
	if err := s.tickets.Create(ctx, &ticket); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("persist ticket: %w", err))
	}

	unlockTicket := s.locks.Lock(ticketKey(ticket.ID))
	defer unlockTicket()

	if ref, err := s.transport.AnnounceTicket(ctx, ticket); err != nil {
		s.logger.Warn("announce ticket failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	} else if err := s.tickets.SetOriginRef(ctx, ticket.ID, ref); err != nil {
		s.logger.Error("store origin ref failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	} else {
		ticket.OriginMessageRef = &ref
	}

	if err := s.registry.Insert(ticket); err != nil {
		s.logger.Error("registry insert failed", zap.Int64("ticket_id", ticket.ID), zap.String("user_id", ticket.UserID), zap.Error(err))
	}

	actor := domain.UserActor(ticket.UserID)
	s.recordHistory(ctx, actor, ticket.ID, "", domain.TicketStatusPending, "created")
	update := domain.NewTicketUpdate(ticket.ID, domain.TicketStatusPending,
		fmt.Sprintf("Ticket #%d created, waiting for an agent", ticket.DisplayID))
	s.publishEvent(ctx, events.NewEvent(events.EventTicketCreated, ticket.ID, actor, events.TicketCreatedPayload{
		Update:    update,
		DisplayID: ticket.DisplayID,
		UserID:    ticket.UserID,
		Category:  ticket.Category,
	}))
	s.metrics.RecordTransition(string(domain.TicketStatusPending))

	s.logger.Info("ticket created", zap.Int64("ticket_id", ticket.ID), zap.Int64("display_id", ticket.DisplayID), zap.String("user_id", ticket.UserID))
	return &ticket, nil
}

// TakeTicket assigns a pending ticket to agentID and opens its thread. When the
// thread cannot be created the assignment is rolled back.
func (s *TicketService) TakeTicket(ctx context.Context, ticketID int64, agentID string) (*domain.Ticket, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, apperrors.NewValidationError("agent id is required", nil)
	}
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	switch {
	case ticket.Status.IsTerminal():
		return nil, errTicketClosed(ticket)
	case ticket.Status != domain.TicketStatusPending:
		return nil, errAlreadyTaken(ticket)
	}

	takenAt := s.now()
	if err := s.tickets.MarkTaken(ctx, ticket.ID, agentID, takenAt); err != nil {
		if errors.Is(err, repository.ErrPrecondition) {
			return nil, errAlreadyTaken(ticket)
		}
		return nil, s.mapRepoError(err, ticket.ID)
	}
	ticket.AssignedAgentID = &agentID
	ticket.Status = domain.TicketStatusInProgress
	ticket.TakenAt = &takenAt

	threadRef, err := s.transport.CreateThread(ctx, ticket)
	if err != nil {
		if revertErr := s.tickets.RevertTake(ctx, ticket.ID); revertErr != nil {
			s.logger.Error("revert take failed", zap.Int64("ticket_id", ticket.ID), zap.Error(revertErr))
			s.resync(ctx, ticket.ID)
		}
		s.logger.Warn("create thread failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		return nil, apperrors.NewUpstreamError(apperrors.CodeThreadCreateFailed, "could not open a thread for the ticket", err)
	}
	if err := s.tickets.SetThreadRef(ctx, ticket.ID, threadRef); err != nil {
		s.logger.Error("store thread ref failed", zap.Int64("ticket_id", ticket.ID), zap.String("thread_ref", threadRef), zap.Error(err))
	}
	ticket.ThreadRef = &threadRef

	if err := s.registry.Update(ticket); err != nil {
		s.logger.Error("registry update failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}

	actor := domain.AgentActor(agentID)
	s.recordHistory(ctx, actor, ticket.ID, domain.TicketStatusPending, domain.TicketStatusInProgress, "taken")
	s.publishStatus(ctx, actor, ticket, domain.TicketStatusPending,
		fmt.Sprintf("Ticket #%d taken by an agent", ticket.DisplayID))

	s.sendToThread(ctx, ticket, Text(introText(ticket)))
	s.flushBuffered(ctx, ticket)
	s.sendToUser(ctx, ticket, Text(fmt.Sprintf("An agent has taken ticket #%d. Replies will arrive here.", ticket.DisplayID)))

	s.logger.Info("ticket taken", zap.Int64("ticket_id", ticket.ID), zap.String("agent_id", agentID), zap.String("thread_ref", threadRef))
	return &ticket, nil
}

// Respond forwards content to the counterpart of actor. Forwarding failures
// are reported through the returned flag, never as a state change.
func (s *TicketService) Respond(ctx context.Context, ticketID int64, actor domain.Actor, content domain.Content) (bool, error) {
	if content.IsEmpty() {
		return false, apperrors.NewValidationError("message is empty", nil)
	}
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if err := requireInProgress(ticket); err != nil {
		return false, err
	}

	var (
		direction domain.MessageDirection
		marker    domain.ActivityMarker
		updateMsg string
		sendErr   error
	)
	switch actor.Type {
	case domain.ActorAgent:
		direction = domain.DirectionAgentToUser
		marker = domain.ActivityAnswered
		updateMsg = content.Summary()
		sendErr = s.transport.SendToUser(ctx, ticket.UserID, content)
	default:
		direction = domain.DirectionUserToAgent
		marker = domain.ActivityAwaitingResponse
		updateMsg = "User sent a message"
		if ticket.ThreadRef == nil {
			sendErr = errors.New("ticket has no thread")
		} else {
			sendErr = s.transport.SendToThread(ctx, *ticket.ThreadRef, content)
		}
	}
	delivered := sendErr == nil
	if !delivered {
		s.logger.Warn("forward failed", zap.Int64("ticket_id", ticket.ID), zap.String("direction", string(direction)), zap.Error(sendErr))
	}

	s.registry.SetActivity(ticket.ID, marker)
	s.logMessage(ctx, &domain.TicketMessage{
		TicketID:  ticket.ID,
		Direction: direction,
		AuthorID:  actor.ID,
		Body:      content.Text,
		Media:     content.Media,
		Delivered: delivered,
	})
	s.publishEvent(ctx, events.NewEvent(events.EventTicketResponded, ticket.ID, actor, events.TicketRespondedPayload{
		Update:    domain.NewTicketUpdate(ticket.ID, ticket.Status, updateMsg),
		Direction: direction,
		Delivered: delivered,
	}))
	return delivered, nil
}

// BufferUserMessage stores a message of a pending ticket for delivery once an
// agent takes it. It reports false when the ticket is no longer pending.
func (s *TicketService) BufferUserMessage(ctx context.Context, ticketID int64, content domain.Content) (bool, error) {
	if content.IsEmpty() {
		return false, apperrors.NewValidationError("message is empty", nil)
	}
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if ticket.Status.IsTerminal() {
		return false, errTicketClosed(ticket)
	}
	if ticket.Status != domain.TicketStatusPending {
		return false, nil
	}
	msg := &domain.TicketMessage{
		TicketID:  ticket.ID,
		Direction: domain.DirectionUserToAgent,
		AuthorID:  ticket.UserID,
		Body:      content.Text,
		Media:     content.Media,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return false, apperrors.NewInternalError(fmt.Errorf("buffer message: %w", err))
	}
	s.registry.SetActivity(ticket.ID, domain.ActivityAwaitingResponse)
	return true, nil
}

// CloseTicket finishes an in-progress ticket. The closing agent, or the
// assignee when the user closes, is credited with the close reward.
func (s *TicketService) CloseTicket(ctx context.Context, ticketID int64, actor domain.Actor) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := requireInProgress(ticket); err != nil {
		return nil, err
	}

	closedAt := s.now()
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, []domain.TicketStatus{domain.TicketStatusInProgress}, domain.TicketStatusClosed, closedAt); err != nil {
		return nil, s.mapTransitionError(ctx, err, ticket.ID)
	}
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &closedAt
	s.registry.Remove(ticket.UserID)

	s.recordHistory(ctx, actor, ticket.ID, domain.TicketStatusInProgress, domain.TicketStatusClosed, "closed")
	s.publishStatus(ctx, actor, ticket, domain.TicketStatusInProgress,
		fmt.Sprintf("Ticket #%d closed", ticket.DisplayID))

	if ticket.ThreadRef != nil {
		s.sendToThread(ctx, ticket, Text(fmt.Sprintf("Ticket #%d is closed.", ticket.DisplayID)))
		if err := s.transport.CloseThread(ctx, *ticket.ThreadRef); err != nil {
			s.logger.Warn("close thread failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	s.creditCloser(ctx, ticket, actor)
	s.sendToUser(ctx, ticket, Text(fmt.Sprintf("Ticket #%d is closed. Thank you for contacting support.", ticket.DisplayID)))
	if err := s.transport.RequestRating(ctx, ticket); err != nil {
		s.logger.Warn("request rating failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}

	s.logger.Info("ticket closed", zap.Int64("ticket_id", ticket.ID), zap.String("actor_type", string(actor.Type)), zap.String("actor_id", actor.ID))
	return &ticket, nil
}

// CancelTicket withdraws a pending or in-progress ticket.
func (s *TicketService) CancelTicket(ctx context.Context, ticketID int64, actor domain.Actor) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, errTicketClosed(ticket)
	}
	if actor.Type == domain.ActorUser && actor.ID != "" && actor.ID != ticket.UserID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}

	old := ticket.Status
	cancelledAt := s.now()
	active := []domain.TicketStatus{domain.TicketStatusPending, domain.TicketStatusInProgress}
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, active, domain.TicketStatusCancelled, cancelledAt); err != nil {
		return nil, s.mapTransitionError(ctx, err, ticket.ID)
	}
	ticket.Status = domain.TicketStatusCancelled
	ticket.ClosedAt = &cancelledAt
	s.registry.Remove(ticket.UserID)

	s.recordHistory(ctx, actor, ticket.ID, old, domain.TicketStatusCancelled, "cancelled")
	s.publishStatus(ctx, actor, ticket, old, fmt.Sprintf("Ticket #%d cancelled", ticket.DisplayID))

	if ticket.ThreadRef != nil {
		s.sendToThread(ctx, ticket, Text(fmt.Sprintf("Ticket #%d was cancelled by the %s.", ticket.DisplayID, strings.ToLower(string(actor.Type)))))
		if err := s.transport.CloseThread(ctx, *ticket.ThreadRef); err != nil {
			s.logger.Warn("close thread failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	s.sendToUser(ctx, ticket, Text(fmt.Sprintf("Ticket #%d is cancelled.", ticket.DisplayID)))

	s.logger.Info("ticket cancelled", zap.Int64("ticket_id", ticket.ID), zap.String("actor_type", string(actor.Type)))
	return &ticket, nil
}

// CheckRename verifies that agentID may rename the ticket thread.
func (s *TicketService) CheckRename(ctx context.Context, ticketID int64, agentID string) (domain.Ticket, error) {
	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	return ticket, renameGuard(ticket, agentID)
}

// RenameTicket changes the thread title. Only the assignee may rename.
func (s *TicketService) RenameTicket(ctx context.Context, ticketID int64, agentID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperrors.NewValidationError("title is required", nil)
	}
	if len([]rune(title)) > maxTitleLength {
		return apperrors.NewValidationError("title is too long", map[string]any{"max": maxTitleLength})
	}
	unlock := s.locks.Lock(ticketKey(ticketID))
	defer unlock()

	ticket, err := s.current(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := renameGuard(ticket, agentID); err != nil {
		return err
	}
	if err := s.transport.RenameThread(ctx, *ticket.ThreadRef, title); err != nil {
		return apperrors.NewUpstreamError(apperrors.CodeTransportFailed, "could not rename the thread", err)
	}
	s.logger.Info("ticket renamed", zap.Int64("ticket_id", ticket.ID), zap.String("agent_id", agentID))
	return nil
}

// GetTicket returns the persisted snapshot with the live activity marker.
func (s *TicketService) GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.mapRepoError(err, ticketID)
	}
	if live, ok := s.registry.LookupByID(ticketID); ok {
		ticket.Activity = live.Activity
	}
	return ticket, nil
}

// ResolveDisplayID maps the user-facing number to the ticket id.
func (s *TicketService) ResolveDisplayID(ctx context.Context, displayID int64) (int64, error) {
	if t, ok := s.registry.LookupByDisplayID(displayID); ok {
		return t.ID, nil
	}
	ticket, err := s.tickets.GetByDisplayID(ctx, displayID)
	if err != nil {
		return 0, s.mapRepoError(err, displayID)
	}
	return ticket.ID, nil
}

// ActiveTicketForUser returns the user's pending or in-progress ticket.
func (s *TicketService) ActiveTicketForUser(userID string) (domain.Ticket, bool) {
	return s.registry.LookupByUser(userID)
}

// ActiveTickets lists the registry snapshot, oldest first.
func (s *TicketService) ActiveTickets() []domain.Ticket {
	tickets := s.registry.Snapshot()
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets
}

// ListUserTickets pages through every ticket of a user, newest first. Finished
// tickets are only reachable this way once they leave the registry.
func (s *TicketService) ListUserTickets(ctx context.Context, userID string, limit, offset int) ([]domain.Ticket, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidationError("user_id is required", nil)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	tickets, err := s.tickets.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("list user tickets: %w", err))
	}
	for i := range tickets {
		if live, ok := s.registry.LookupByID(tickets[i].ID); ok {
			tickets[i].Activity = live.Activity
		}
	}
	return tickets, nil
}

// ListHistory returns the audit trail of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, s.mapRepoError(err, ticketID)
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	return s.history.ListByTicket(ctx, ticketID)
}

// ListMessages returns the routed message log of a ticket.
func (s *TicketService) ListMessages(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, s.mapRepoError(err, ticketID)
	}
	return s.messages.ListByTicket(ctx, ticketID)
}

// AgentStats summarizes an agent's workload.
func (s *TicketService) AgentStats(ctx context.Context, agentID string) (*domain.AgentStats, error) {
	stats := &domain.AgentStats{AgentID: agentID}
	for _, t := range s.registry.Snapshot() {
		if t.AssignedTo(agentID) {
			stats.Active++
		}
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekday := (int(today.Weekday()) + 6) % 7
	week := today.AddDate(0, 0, -weekday)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var err error
	if stats.ClosedToday, err = s.tickets.CountClosedSince(ctx, agentID, today); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if stats.ClosedWeek, err = s.tickets.CountClosedSince(ctx, agentID, week); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if stats.ClosedMonth, err = s.tickets.CountClosedSince(ctx, agentID, month); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if s.balances != nil {
		if stats.Balance, err = s.balances.Get(ctx, agentID); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}
	return stats, nil
}

// current returns the live registry snapshot, falling back to the store for
// finished tickets. An active row the registry does not hold yet belongs to a
// CreateTicket still in flight and is not available for transitions. Callers
// hold the ticket lock.
func (s *TicketService) current(ctx context.Context, ticketID int64) (domain.Ticket, error) {
	if t, ok := s.registry.LookupByID(ticketID); ok {
		return t, nil
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, s.mapRepoError(err, ticketID)
	}
	if ticket.Status.IsActive() {
		return domain.Ticket{}, apperrors.NewConflict("ticket is still being created",
			map[string]any{"ticket_id": ticketID, "status": ticket.Status})
	}
	return *ticket, nil
}

// resync copies the stored row into the registry after a write the service
// could not undo, so the registry never reports a status the store left behind.
func (s *TicketService) resync(ctx context.Context, ticketID int64) {
	stored, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		s.logger.Error("resync ticket failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
		return
	}
	if err := s.registry.Update(*stored); err != nil {
		s.logger.Error("resync registry failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
		return
	}
	s.logger.Warn("registry resynced from store", zap.Int64("ticket_id", ticketID), zap.String("status", string(stored.Status)))
}

func (s *TicketService) flushBuffered(ctx context.Context, ticket domain.Ticket) {
	buffered, err := s.messages.ListUndelivered(ctx, ticket.ID)
	if err != nil {
		s.logger.Warn("list buffered messages failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	delivered := make([]int64, 0, len(buffered))
	for _, msg := range buffered {
		if msg.Direction != domain.DirectionUserToAgent {
			continue
		}
		if err := s.transport.SendToThread(ctx, *ticket.ThreadRef, msg.Content()); err != nil {
			s.logger.Warn("flush buffered message failed", zap.Int64("ticket_id", ticket.ID), zap.Int64("message_id", msg.ID), zap.Error(err))
			continue
		}
		delivered = append(delivered, msg.ID)
	}
	if err := s.messages.MarkDelivered(ctx, delivered); err != nil {
		s.logger.Warn("mark delivered failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *TicketService) creditCloser(ctx context.Context, ticket domain.Ticket, actor domain.Actor) {
	if s.balances == nil || s.closeReward <= 0 {
		return
	}
	agentID := ""
	if actor.Type == domain.ActorAgent {
		agentID = actor.ID
	} else if ticket.AssignedAgentID != nil {
		agentID = *ticket.AssignedAgentID
	}
	if agentID == "" {
		return
	}
	total, err := s.balances.Credit(ctx, agentID, s.closeReward)
	if err != nil {
		s.logger.Warn("credit agent failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	s.logger.Debug("agent credited", zap.String("agent_id", agentID), zap.Float64("balance", total))
}

func (s *TicketService) sendToUser(ctx context.Context, ticket domain.Ticket, content domain.Content) {
	if err := s.transport.SendToUser(ctx, ticket.UserID, content); err != nil {
		s.logger.Warn("notify user failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *TicketService) sendToThread(ctx context.Context, ticket domain.Ticket, content domain.Content) {
	if ticket.ThreadRef == nil {
		return
	}
	if err := s.transport.SendToThread(ctx, *ticket.ThreadRef, content); err != nil {
		s.logger.Warn("post to thread failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *TicketService) logMessage(ctx context.Context, msg *domain.TicketMessage) {
	if err := s.messages.Create(ctx, msg); err != nil {
		s.logger.Warn("log message failed", zap.Int64("ticket_id", msg.TicketID), zap.Error(err))
	}
}

func (s *TicketService) recordHistory(ctx context.Context, actor domain.Actor, ticketID int64, old, next domain.TicketStatus, comment string) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:  ticketID,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		OldStatus: old,
		NewStatus: next,
		Comment:   comment,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record history failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) publishStatus(ctx context.Context, actor domain.Actor, ticket domain.Ticket, old domain.TicketStatus, message string) {
	s.publishEvent(ctx, events.NewEvent(events.EventTicketStatusChanged, ticket.ID, actor, events.TicketStatusChangedPayload{
		Update:    domain.NewTicketUpdate(ticket.ID, ticket.Status, message),
		OldStatus: old,
		NewStatus: ticket.Status,
	}))
	s.metrics.RecordTransition(string(ticket.Status))
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Int64("ticket_id", event.TicketID), zap.Error(err))
	}
}

func (s *TicketService) mapRepoError(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return apperrors.NewInternalError(err)
}

// mapTransitionError re-reads the ticket after a conditional write lost.
func (s *TicketService) mapTransitionError(ctx context.Context, err error, id int64) error {
	if !errors.Is(err, repository.ErrPrecondition) {
		return s.mapRepoError(err, id)
	}
	stored, getErr := s.tickets.GetByID(ctx, id)
	if getErr != nil {
		return s.mapRepoError(getErr, id)
	}
	if stored.Status.IsTerminal() {
		return errTicketClosed(*stored)
	}
	return errNotInProgress(*stored)
}

func requireInProgress(ticket domain.Ticket) error {
	switch {
	case ticket.Status.IsTerminal():
		return errTicketClosed(ticket)
	case ticket.Status != domain.TicketStatusInProgress:
		return errNotInProgress(ticket)
	}
	return nil
}

func renameGuard(ticket domain.Ticket, agentID string) error {
	if ticket.Status.IsTerminal() {
		return errTicketClosed(ticket)
	}
	if ticket.Status != domain.TicketStatusInProgress || ticket.ThreadRef == nil {
		return errNotInProgress(ticket)
	}
	if !ticket.AssignedTo(agentID) {
		return apperrors.NewForbidden("only the assigned agent can rename the ticket")
	}
	return nil
}

func errTicketClosed(t domain.Ticket) error {
	return apperrors.NewConflictCode(apperrors.CodeTicketClosed, "ticket is already finished",
		map[string]any{"ticket_id": t.ID, "status": t.Status})
}

func errAlreadyTaken(t domain.Ticket) error {
	details := map[string]any{"ticket_id": t.ID}
	if t.AssignedAgentID != nil {
		details["assigned_agent_id"] = *t.AssignedAgentID
	}
	return apperrors.NewConflictCode(apperrors.CodeAlreadyTaken, "ticket is already taken", details)
}

func errNotInProgress(t domain.Ticket) error {
	return apperrors.NewConflictCode(apperrors.CodeNotInProgress, "ticket is not in progress",
		map[string]any{"ticket_id": t.ID, "status": t.Status})
}

func introText(t domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d\nUser: %s (%s)\nCategory: %s\n\n%s", t.DisplayID, t.DisplayName(), t.UserID, t.Category, t.InitialMessage)
	return b.String()
}

func ticketKey(id int64) string {
	return "ticket:" + strconv.FormatInt(id, 10)
}

func userKey(userID string) string {
	return "user:" + userID
}
