// Package registry keeps the in-memory indexes of active tickets.
//
// The registry is the authority for "does this user have an active ticket" and
// resolves chat references back to tickets. It only ever holds tickets in
// pending or in_progress; terminal tickets live in the store alone.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spec-kit/support-relay/internal/domain"
)

// ErrActiveTicketExists is returned by Insert when the user is already indexed.
var ErrActiveTicketExists = errors.New("registry: user already has an active ticket")

// ErrNotIndexed is returned by Update for tickets the registry does not hold.
var ErrNotIndexed = errors.New("registry: ticket not indexed")

// Source supplies the active tickets at startup.
type Source interface {
	ListActive(ctx context.Context) ([]domain.Ticket, error)
}

// Registry indexes active tickets by user, origin ref, thread ref, id and display id.
// Stored values are copies; callers never share memory with the indexes.
type Registry struct {
	mu          sync.RWMutex
	byID        map[int64]domain.Ticket
	byUser      map[string]int64
	byOrigin    map[string]int64
	byThread    map[string]int64
	byDisplayID map[int64]int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byID:        make(map[int64]domain.Ticket),
		byUser:      make(map[string]int64),
		byOrigin:    make(map[string]int64),
		byThread:    make(map[string]int64),
		byDisplayID: make(map[int64]int64),
	}
}

// Load fills the indexes from source. It must run before traffic is accepted;
// callers treat any error as fatal.
func (r *Registry) Load(ctx context.Context, source Source) (int, error) {
	tickets, err := source.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active tickets: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tickets {
		if !t.Status.IsActive() {
			continue
		}
		if _, taken := r.byUser[t.UserID]; taken {
			return 0, fmt.Errorf("load active tickets: user %s has more than one active ticket", t.UserID)
		}
		r.index(t.Clone())
	}
	return len(r.byID), nil
}

// HasActive reports whether the user has a pending or in-progress ticket.
func (r *Registry) HasActive(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Insert indexes an active ticket. It never overwrites an existing entry.
func (r *Registry) Insert(t domain.Ticket) error {
	if !t.Status.IsActive() {
		return fmt.Errorf("registry: insert of %s ticket %d", t.Status, t.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[t.UserID]; ok {
		return ErrActiveTicketExists
	}
	r.index(t.Clone())
	return nil
}

// Update replaces the snapshot of an indexed ticket and refreshes its ref
// indexes. A ticket that became terminal is removed instead.
func (r *Registry) Update(t domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[t.ID]
	if !ok {
		return ErrNotIndexed
	}
	r.unindex(current)
	if t.Status.IsActive() {
		t = t.Clone()
		t.Activity = current.Activity
		r.index(t)
	}
	return nil
}

// SetActivity flips the activity marker; unknown ids are ignored.
func (r *Registry) SetActivity(ticketID int64, marker domain.ActivityMarker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[ticketID]; ok {
		t.Activity = marker
		r.byID[ticketID] = t
	}
}

// Remove drops the user's ticket from every index. Removing twice is a no-op.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[userID]
	if !ok {
		return
	}
	r.unindex(r.byID[id])
}

// LookupByUser returns the user's active ticket.
func (r *Registry) LookupByUser(userID string) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.byUser[userID])
}

// LookupByOriginRef resolves the announcement message of a ticket.
func (r *Registry) LookupByOriginRef(ref string) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.byOrigin[ref])
}

// LookupByThreadRef resolves the dedicated thread of a ticket.
func (r *Registry) LookupByThreadRef(ref string) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.byThread[ref])
}

// LookupByID resolves an active ticket by id.
func (r *Registry) LookupByID(id int64) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(id)
}

// LookupByDisplayID resolves an active ticket by its user-facing number.
func (r *Registry) LookupByDisplayID(displayID int64) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.byDisplayID[displayID])
}

// Snapshot returns copies of all active tickets.
func (r *Registry) Snapshot() []domain.Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Ticket, 0, len(r.byID))
	for _, t := range r.byID {
		result = append(result, t.Clone())
	}
	return result
}

// Len returns the number of active tickets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) resolve(id int64) (domain.Ticket, bool) {
	t, ok := r.byID[id]
	if !ok {
		return domain.Ticket{}, false
	}
	return t.Clone(), true
}

// index and unindex must be called with mu held.
func (r *Registry) index(t domain.Ticket) {
	r.byID[t.ID] = t
	r.byUser[t.UserID] = t.ID
	r.byDisplayID[t.DisplayID] = t.ID
	if t.OriginMessageRef != nil {
		r.byOrigin[*t.OriginMessageRef] = t.ID
	}
	if t.ThreadRef != nil {
		r.byThread[*t.ThreadRef] = t.ID
	}
}

func (r *Registry) unindex(t domain.Ticket) {
	delete(r.byID, t.ID)
	if r.byUser[t.UserID] == t.ID {
		delete(r.byUser, t.UserID)
	}
	if r.byDisplayID[t.DisplayID] == t.ID {
		delete(r.byDisplayID, t.DisplayID)
	}
	if t.OriginMessageRef != nil && r.byOrigin[*t.OriginMessageRef] == t.ID {
		delete(r.byOrigin, *t.OriginMessageRef)
	}
	if t.ThreadRef != nil && r.byThread[*t.ThreadRef] == t.ID {
		delete(r.byThread, *t.ThreadRef)
	}
}
