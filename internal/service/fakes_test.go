package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/events"
	"github.com/spec-kit/support-relay/internal/pending"
	"github.com/spec-kit/support-relay/internal/registry"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/updates"
)

type sent struct {
	to      string
	content domain.Content
}

// fakeTransport records every outbound call.
type fakeTransport struct {
	mu          sync.Mutex
	nextRef     int
	announceErr error
	threadErr   error
	userErr     error
	toUser      []sent
	toThread    []sent
	closed      []string
	renamed     map[string]string
	ratingsAsk  []int64
	reviews     []domain.Rating
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{renamed: make(map[string]string)}
}

func (f *fakeTransport) ref(prefix string) string {
	f.nextRef++
	return prefix + strconv.Itoa(f.nextRef)
}

func (f *fakeTransport) AnnounceTicket(ctx context.Context, ticket domain.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announceErr != nil {
		return "", f.announceErr
	}
	return f.ref("origin-"), nil
}

func (f *fakeTransport) SendToUser(ctx context.Context, userID string, content domain.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return f.userErr
	}
	f.toUser = append(f.toUser, sent{to: userID, content: content})
	return nil
}

func (f *fakeTransport) SendToThread(ctx context.Context, threadRef string, content domain.Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toThread = append(f.toThread, sent{to: threadRef, content: content})
	return nil
}

func (f *fakeTransport) CreateThread(ctx context.Context, ticket domain.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return "", f.threadErr
	}
	return f.ref("thread-"), nil
}

func (f *fakeTransport) CloseThread(ctx context.Context, threadRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, threadRef)
	return nil
}

func (f *fakeTransport) RenameThread(ctx context.Context, threadRef, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[threadRef] = title
	return nil
}

func (f *fakeTransport) RequestRating(ctx context.Context, ticket domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingsAsk = append(f.ratingsAsk, ticket.ID)
	return nil
}

func (f *fakeTransport) PublishReview(ctx context.Context, ticket domain.Ticket, rating domain.Rating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, rating)
	return nil
}

func (f *fakeTransport) threadMessages(ref string) []domain.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Content
	for _, s := range f.toThread {
		if s.to == ref {
			out = append(out, s.content)
		}
	}
	return out
}

func (f *fakeTransport) userMessages(userID string) []domain.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Content
	for _, s := range f.toUser {
		if s.to == userID {
			out = append(out, s.content)
		}
	}
	return out
}

// harness wires the service layer over memory repositories.
type harness struct {
	tickets   *TicketService
	ratings   *RatingService
	router    *Router
	registry  *registry.Registry
	bus       *updates.Bus
	transport *fakeTransport
	ticketDB  *repository.MemoryTicketRepository
	messageDB *repository.MemoryTicketMessageRepository
	historyDB *repository.MemoryTicketHistoryRepository
	balanceDB *repository.MemoryBalanceRepository
	ratingDB  *repository.MemoryRatingRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry:  registry.New(),
		bus:       updates.NewBus(updates.Options{}),
		transport: newFakeTransport(),
		ticketDB:  repository.NewMemoryTicketRepository(),
		messageDB: repository.NewMemoryTicketMessageRepository(),
		historyDB: repository.NewMemoryTicketHistoryRepository(),
		balanceDB: repository.NewMemoryBalanceRepository(),
		ratingDB:  repository.NewMemoryRatingRepository(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, h.bus, zap.NewNop()).RegisterHandlers()

	h.tickets = NewTicketService(TicketDependencies{
		TicketRepo:  h.ticketDB,
		MessageRepo: h.messageDB,
		HistoryRepo: h.historyDB,
		BalanceRepo: h.balanceDB,
		Registry:    h.registry,
		Transport:   h.transport,
		Dispatcher:  dispatcher,
		CloseReward: 50,
	})
	h.ratings = NewRatingService(h.ratingDB, h.ticketDB, h.transport, zap.NewNop())
	h.router = NewRouter(RouterDependencies{
		Tickets:    h.tickets,
		Ratings:    h.ratings,
		Registry:   h.registry,
		TicketRepo: h.ticketDB,
		Prompts:    pending.NewMemoryStore(),
		PromptTTL:  time.Minute,
		Transport:  h.transport,
	})
	t.Cleanup(h.bus.Shutdown)
	return h
}

func (h *harness) create(t *testing.T, userID string) *domain.Ticket {
	t.Helper()
	ticket, err := h.tickets.CreateTicket(context.Background(), CreateTicketInput{UserID: userID, Username: "name-" + userID, Message: "printer is on fire"})
	if err != nil {
		t.Fatalf("CreateTicket(%s): %v", userID, err)
	}
	return ticket
}

func (h *harness) take(t *testing.T, ticketID int64, agentID string) *domain.Ticket {
	t.Helper()
	ticket, err := h.tickets.TakeTicket(context.Background(), ticketID, agentID)
	if err != nil {
		t.Fatalf("TakeTicket(%d): %v", ticketID, err)
	}
	return ticket
}

var errBoom = errors.New("boom")
