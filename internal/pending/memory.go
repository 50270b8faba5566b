package pending

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps actions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]Action
	now     func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]Action), now: time.Now}
}

func (s *MemoryStore) Arm(ctx context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.ActorID] = action
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, actorID string) (Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[actorID]
	if !ok {
		return Action{}, false, nil
	}
	delete(s.actions, actorID)
	if !action.ExpiresAt.IsZero() && s.now().After(action.ExpiresAt) {
		return Action{}, false, nil
	}
	return action, true, nil
}

func (s *MemoryStore) Clear(ctx context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, actorID)
	return nil
}
