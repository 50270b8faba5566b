package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps actions in Redis so prompts survive restarts and are shared
// between replicas. Expiry is delegated to key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(actorID string) string {
	return s.prefix + "pending:" + actorID
}

func (s *RedisStore) Arm(ctx context.Context, action Action) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}
	ttl := time.Until(action.ExpiresAt)
	if action.ExpiresAt.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(action.ActorID), payload, ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, actorID string) (Action, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Action{}, false, nil
	}
	if err != nil {
		return Action{}, false, err
	}
	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return Action{}, false, err
	}
	return action, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, actorID string) error {
	return s.client.Del(ctx, s.key(actorID)).Err()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
