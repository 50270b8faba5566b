// Package updates fans ticket updates out to waiting clients.
//
// Two kinds of subscribers exist per ticket: one-shot listeners created by
// WaitForUpdate (long-poll) and streaming subscriptions created by Subscribe
// (WebSocket). Fan-out runs under the bus lock, so every subscriber observes
// updates of a ticket in the order Notify was called.
package updates

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/observability"
)

// ErrBusClosed is returned once Shutdown ran.
var ErrBusClosed = errors.New("updates: bus closed")

const (
	defaultStreamBuffer = 64
	defaultRetention    = 10 * time.Minute
)

// Options tunes a Bus. Zero values pick defaults.
type Options struct {
	StreamBuffer      int
	TerminalRetention time.Duration
	Logger            *zap.Logger
	Metrics           *observability.Metrics
}

type subscriber struct {
	id      uint64
	ch      chan domain.TicketUpdate
	oneShot bool
}

type terminalEntry struct {
	update  domain.TicketUpdate
	expires time.Time
}

// Bus holds per-ticket subscriber sets.
type Bus struct {
	mu       sync.Mutex
	subs     map[int64]map[uint64]*subscriber
	terminal map[int64]terminalEntry
	nextID   uint64
	closed   bool

	streamBuffer int
	retention    time.Duration
	now          func() time.Time
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// NewBus creates an empty bus.
func NewBus(opts Options) *Bus {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = defaultStreamBuffer
	}
	if opts.TerminalRetention <= 0 {
		opts.TerminalRetention = defaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bus{
		subs:         make(map[int64]map[uint64]*subscriber),
		terminal:     make(map[int64]terminalEntry),
		streamBuffer: opts.StreamBuffer,
		retention:    opts.TerminalRetention,
		now:          time.Now,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// WaitForUpdate blocks until the next update of ticketID, the timeout or ctx
// cancellation. It reports false when no update arrived. A ticket already
// closed through CloseAll yields its final update immediately.
func (b *Bus) WaitForUpdate(ctx context.Context, ticketID int64, timeout time.Duration) (domain.TicketUpdate, bool, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.TicketUpdate{}, false, ErrBusClosed
	}
	if final, ok := b.terminalLocked(ticketID); ok {
		b.mu.Unlock()
		return final, true, nil
	}
	sub := b.addLocked(ticketID, 1, true)
	b.mu.Unlock()
	defer b.remove(ticketID, sub.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case update, ok := <-sub.ch:
		if !ok {
			return domain.TicketUpdate{}, false, ErrBusClosed
		}
		return update, true, nil
	case <-timer.C:
		return domain.TicketUpdate{}, false, nil
	case <-ctx.Done():
		return domain.TicketUpdate{}, false, nil
	}
}

// Subscription is a streaming subscriber. Updates is closed when the
// subscription ends for any reason.
type Subscription struct {
	ticketID int64
	sub      *subscriber
	bus      *Bus
}

// Updates returns the delivery channel.
func (s *Subscription) Updates() <-chan domain.TicketUpdate {
	return s.sub.ch
}

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s.ticketID, s.sub.id)
}

// Subscribe registers a streaming subscriber. For a ticket already closed
// through CloseAll the channel carries the final update and is then closed.
func (b *Bus) Subscribe(ticketID int64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if final, ok := b.terminalLocked(ticketID); ok {
		b.nextID++
		sub := &subscriber{id: b.nextID, ch: make(chan domain.TicketUpdate, 1)}
		sub.ch <- final
		close(sub.ch)
		return &Subscription{ticketID: ticketID, sub: sub, bus: b}, nil
	}
	sub := b.addLocked(ticketID, b.streamBuffer, false)
	return &Subscription{ticketID: ticketID, sub: sub, bus: b}, nil
}

// Notify delivers update to every current subscriber of ticketID. Listeners
// leave after their first delivery; a streaming subscriber whose buffer is
// full is treated as dead and pruned.
func (b *Bus) Notify(ticketID int64, update domain.TicketUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[ticketID]
	if len(set) == 0 {
		return
	}
	delivered, pruned := 0, 0
	for id, sub := range set {
		select {
		case sub.ch <- update:
			delivered++
			if sub.oneShot {
				delete(set, id)
			}
		default:
			pruned++
			delete(set, id)
			close(sub.ch)
			b.logger.Warn("pruned slow subscriber", zap.Int64("ticket_id", ticketID), zap.Uint64("subscriber_id", id))
		}
	}
	if len(set) == 0 {
		delete(b.subs, ticketID)
	}
	b.metrics.RecordDelivery(delivered, pruned)
}

// CloseAll pushes final to every subscriber of ticketID, closes them and
// remembers final so that later waits return at once.
func (b *Bus) CloseAll(ticketID int64, final domain.TicketUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	delivered := 0
	for _, sub := range b.subs[ticketID] {
		select {
		case sub.ch <- final:
			delivered++
		default:
		}
		if !sub.oneShot {
			close(sub.ch)
		}
	}
	delete(b.subs, ticketID)
	b.metrics.RecordDelivery(delivered, 0)

	now := b.now()
	for id, entry := range b.terminal {
		if now.After(entry.expires) {
			delete(b.terminal, id)
		}
	}
	b.terminal[ticketID] = terminalEntry{update: final, expires: now.Add(b.retention)}
}

// Shutdown closes every live subscriber. Later calls return ErrBusClosed.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ticketID, set := range b.subs {
		for _, sub := range set {
			close(sub.ch)
		}
		delete(b.subs, ticketID)
	}
}

// Count returns the number of live subscribers of ticketID.
func (b *Bus) Count(ticketID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[ticketID])
}

func (b *Bus) addLocked(ticketID int64, buffer int, oneShot bool) *subscriber {
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan domain.TicketUpdate, buffer), oneShot: oneShot}
	set, ok := b.subs[ticketID]
	if !ok {
		set = make(map[uint64]*subscriber)
		b.subs[ticketID] = set
	}
	set[sub.id] = sub
	return sub
}

func (b *Bus) terminalLocked(ticketID int64) (domain.TicketUpdate, bool) {
	entry, ok := b.terminal[ticketID]
	if !ok {
		return domain.TicketUpdate{}, false
	}
	if b.now().After(entry.expires) {
		delete(b.terminal, ticketID)
		return domain.TicketUpdate{}, false
	}
	return entry.update, true
}

// remove deregisters a subscriber still in the set. Channels are closed only
// here, in Notify, CloseAll and Shutdown, always together with the map delete.
func (b *Bus) remove(ticketID int64, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[ticketID]
	sub, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.subs, ticketID)
	}
	close(sub.ch)
}
