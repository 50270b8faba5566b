package pending

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTakeConsumes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Arm(ctx, Action{Kind: KindRename, TicketID: 3, ActorID: "a1", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Take(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("Take = %v, %v", ok, err)
	}
	if got.Kind != KindRename || got.TicketID != 3 {
		t.Fatalf("got %+v", got)
	}
	if _, ok, _ := s.Take(ctx, "a1"); ok {
		t.Fatal("action served twice")
	}
}

func TestMemoryStoreArmReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Arm(ctx, Action{Kind: KindRename, TicketID: 1, ActorID: "u"})
	_ = s.Arm(ctx, Action{Kind: KindRatingComment, TicketID: 2, ActorID: "u"})

	got, ok, _ := s.Take(ctx, "u")
	if !ok || got.Kind != KindRatingComment || got.TicketID != 2 {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	_ = s.Arm(ctx, Action{Kind: KindRatingComment, TicketID: 1, ActorID: "u", ExpiresAt: now.Add(time.Minute)})

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Take(ctx, "u"); ok {
		t.Fatal("expired action served")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Arm(ctx, Action{Kind: KindRename, TicketID: 1, ActorID: "a"})
	_ = s.Clear(ctx, "a")
	if _, ok, _ := s.Take(ctx, "a"); ok {
		t.Fatal("cleared action served")
	}
}
