package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-relay/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. It backs tests and
// deployments started without POSTGRES_DSN.
type MemoryTicketRepository struct {
	mu        sync.Mutex
	nextID    int64
	displaySq int64
	tickets   map[int64]domain.Ticket
}

// NewMemoryTicketRepository builds an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[int64]domain.Ticket)}
}

func (r *MemoryTicketRepository) NextDisplayID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displaySq++
	return r.displaySq, nil
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	ticket.ID = r.nextID
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// mutate applies fn to the stored ticket when check passes.
func (r *MemoryTicketRepository) mutate(id int64, check func(*domain.Ticket) bool, fn func(*domain.Ticket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if !check(&ticket) {
		return ErrPrecondition
	}
	fn(&ticket)
	r.tickets[id] = ticket
	return nil
}

func (r *MemoryTicketRepository) MarkTaken(ctx context.Context, id int64, agentID string, takenAt time.Time) error {
	return r.mutate(id,
		func(t *domain.Ticket) bool { return t.Status == domain.TicketStatusPending },
		func(t *domain.Ticket) {
			t.AssignedAgentID = &agentID
			t.Status = domain.TicketStatusInProgress
			t.TakenAt = &takenAt
			t.UpdatedAt = takenAt
		})
}

func (r *MemoryTicketRepository) RevertTake(ctx context.Context, id int64) error {
	return r.mutate(id,
		func(t *domain.Ticket) bool { return t.Status == domain.TicketStatusInProgress && t.ThreadRef == nil },
		func(t *domain.Ticket) {
			t.AssignedAgentID = nil
			t.Status = domain.TicketStatusPending
			t.TakenAt = nil
			t.UpdatedAt = time.Now().UTC()
		})
}

func (r *MemoryTicketRepository) SetThreadRef(ctx context.Context, id int64, ref string) error {
	return r.mutate(id,
		func(t *domain.Ticket) bool { return t.ThreadRef == nil },
		func(t *domain.Ticket) { t.ThreadRef = &ref })
}

func (r *MemoryTicketRepository) SetOriginRef(ctx context.Context, id int64, ref string) error {
	return r.mutate(id,
		func(t *domain.Ticket) bool { return t.OriginMessageRef == nil },
		func(t *domain.Ticket) { t.OriginMessageRef = &ref })
}

func (r *MemoryTicketRepository) UpdateStatus(ctx context.Context, id int64, from []domain.TicketStatus, to domain.TicketStatus, at time.Time) error {
	return r.mutate(id,
		func(t *domain.Ticket) bool {
			for _, s := range from {
				if t.Status == s {
					return true
				}
			}
			return false
		},
		func(t *domain.Ticket) {
			t.Status = to
			t.UpdatedAt = at
			if to.IsTerminal() {
				t.ClosedAt = &at
			}
		})
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := ticket.Clone()
	return &c, nil
}

func (r *MemoryTicketRepository) GetByDisplayID(ctx context.Context, displayID int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.DisplayID == displayID {
			c := ticket.Clone()
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryTicketRepository) ListActive(ctx context.Context) ([]domain.Ticket, error) {
	return r.filter(func(t *domain.Ticket) bool { return t.Status.IsActive() }, func(a, b domain.Ticket) bool { return a.ID < b.ID }), nil
}

func (r *MemoryTicketRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Ticket, error) {
	all := r.filter(func(t *domain.Ticket) bool { return t.UserID == userID }, func(a, b domain.Ticket) bool { return a.ID > b.ID })
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 || offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryTicketRepository) CountClosedSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	closed := r.filter(func(t *domain.Ticket) bool {
		return t.Status == domain.TicketStatusClosed && t.AssignedTo(agentID) && t.ClosedAt != nil && !t.ClosedAt.Before(since)
	}, nil)
	return len(closed), nil
}

func (r *MemoryTicketRepository) filter(keep func(*domain.Ticket) bool, less func(a, b domain.Ticket) bool) []domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if keep(&ticket) {
			result = append(result, ticket.Clone())
		}
	}
	if less != nil {
		sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	}
	return result
}

// MemoryTicketMessageRepository is the in-process message log.
type MemoryTicketMessageRepository struct {
	mu       sync.Mutex
	nextID   int64
	messages []domain.TicketMessage
}

// NewMemoryTicketMessageRepository builds an empty log.
func NewMemoryTicketMessageRepository() *MemoryTicketMessageRepository {
	return &MemoryTicketMessageRepository{}
}

func (r *MemoryTicketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now().UTC()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *MemoryTicketMessageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	return r.list(ticketID, false), nil
}

func (r *MemoryTicketMessageRepository) ListUndelivered(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	return r.list(ticketID, true), nil
}

func (r *MemoryTicketMessageRepository) list(ticketID int64, undeliveredOnly bool) []domain.TicketMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketMessage
	for _, msg := range r.messages {
		if msg.TicketID != ticketID || (undeliveredOnly && msg.Delivered) {
			continue
		}
		result = append(result, msg)
	}
	return result
}

func (r *MemoryTicketMessageRepository) MarkDelivered(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range r.messages {
		if _, ok := set[r.messages[i].ID]; ok {
			r.messages[i].Delivered = true
		}
	}
	return nil
}

// MemoryTicketHistoryRepository is the in-process audit trail.
type MemoryTicketHistoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.TicketHistory
}

// NewMemoryTicketHistoryRepository builds an empty trail.
func NewMemoryTicketHistoryRepository() *MemoryTicketHistoryRepository {
	return &MemoryTicketHistoryRepository{}
}

func (r *MemoryTicketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	history.ID = r.nextID
	history.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *MemoryTicketHistoryRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// MemoryAgentRepository keeps agents in process memory.
type MemoryAgentRepository struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

// NewMemoryAgentRepository builds an empty directory.
func NewMemoryAgentRepository() *MemoryAgentRepository {
	return &MemoryAgentRepository{agents: make(map[string]domain.Agent)}
}

func (r *MemoryAgentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	agent.ID = uuid.NewString()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	r.agents[agent.ID] = *agent
	return nil
}

func (r *MemoryAgentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	return r.find(func(a *domain.Agent) bool { return a.ID == id })
}

func (r *MemoryAgentRepository) GetByLogin(ctx context.Context, login string) (*domain.Agent, error) {
	return r.find(func(a *domain.Agent) bool { return a.Login == login })
}

func (r *MemoryAgentRepository) GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*domain.Agent, error) {
	return r.find(func(a *domain.Agent) bool {
		return a.TelegramUserID != nil && *a.TelegramUserID == telegramUserID
	})
}

func (r *MemoryAgentRepository) find(match func(*domain.Agent) bool) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, agent := range r.agents {
		if match(&agent) {
			found := agent
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// MemoryRatingRepository keeps ratings in process memory.
type MemoryRatingRepository struct {
	mu      sync.Mutex
	nextID  int64
	ratings map[ratingKey]domain.Rating
}

type ratingKey struct {
	ticketID int64
	userID   string
}

// NewMemoryRatingRepository builds an empty store.
func NewMemoryRatingRepository() *MemoryRatingRepository {
	return &MemoryRatingRepository{ratings: make(map[ratingKey]domain.Rating)}
}

func (r *MemoryRatingRepository) Upsert(ctx context.Context, rating *domain.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ratingKey{ticketID: rating.TicketID, userID: rating.UserID}
	now := time.Now().UTC()
	stored, ok := r.ratings[key]
	if !ok {
		r.nextID++
		stored = domain.Rating{ID: r.nextID, TicketID: rating.TicketID, UserID: rating.UserID, CreatedAt: now}
	}
	stored.Rating = rating.Rating
	if rating.Comment != nil {
		comment := *rating.Comment
		stored.Comment = &comment
	}
	stored.UpdatedAt = now
	r.ratings[key] = stored

	*rating = stored
	if stored.Comment != nil {
		comment := *stored.Comment
		rating.Comment = &comment
	}
	return nil
}

func (r *MemoryRatingRepository) Get(ctx context.Context, ticketID int64, userID string) (*domain.Rating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.ratings[ratingKey{ticketID: ticketID, userID: userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &stored, nil
}

// MemoryBalanceRepository keeps agent balances in process memory.
type MemoryBalanceRepository struct {
	mu       sync.Mutex
	balances map[string]float64
}

// NewMemoryBalanceRepository builds an empty ledger.
func NewMemoryBalanceRepository() *MemoryBalanceRepository {
	return &MemoryBalanceRepository{balances: make(map[string]float64)}
}

func (r *MemoryBalanceRepository) Credit(ctx context.Context, agentID string, amount float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[agentID] += amount
	return r.balances[agentID], nil
}

func (r *MemoryBalanceRepository) Get(ctx context.Context, agentID string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[agentID], nil
}

var (
	_ TicketRepository        = (*MemoryTicketRepository)(nil)
	_ TicketMessageRepository = (*MemoryTicketMessageRepository)(nil)
	_ TicketHistoryRepository = (*MemoryTicketHistoryRepository)(nil)
	_ AgentRepository         = (*MemoryAgentRepository)(nil)
	_ RatingRepository        = (*MemoryRatingRepository)(nil)
	_ BalanceRepository       = (*MemoryBalanceRepository)(nil)
)
