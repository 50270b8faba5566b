// Package pending stores the one-shot prompts a chat participant has armed:
// the next plain message of the actor is consumed by the prompt instead of
// being routed.
package pending

import (
	"context"
	"time"
)

// Kind names what the next message will be used for.
type Kind string

const (
	// KindRename turns the agent's next message into the thread title.
	KindRename Kind = "rename"
	// KindRatingComment turns the user's next message into a rating comment.
	KindRatingComment Kind = "rating_comment"
)

// Action is an armed prompt of one actor.
type Action struct {
	Kind      Kind      `json:"kind"`
	TicketID  int64     `json:"ticket_id"`
	ActorID   string    `json:"actor_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps at most one action per actor. Arming replaces the previous one.
type Store interface {
	Arm(ctx context.Context, action Action) error
	// Take returns and removes the actor's action. Expired actions are not returned.
	Take(ctx context.Context, actorID string) (Action, bool, error)
	Clear(ctx context.Context, actorID string) error
}
