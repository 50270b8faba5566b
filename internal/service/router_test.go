package service

import (
	"context"
	"testing"

	"github.com/spec-kit/support-relay/internal/domain"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

func TestRouterRejectsUserWithoutTicket(t *testing.T) {
	h := newHarness(t)
	result, err := h.router.HandleUserMessage(context.Background(), "nobody", Text("hello?"))
	if !apperrors.HasCode(err, apperrors.CodeNoActiveTicket) {
		t.Fatalf("expected NO_ACTIVE_TICKET, got %v", err)
	}
	if result.Disposition != DispositionRejected {
		t.Fatalf("expected rejected, got %s", result.Disposition)
	}
}

func TestRouterBuffersUntilTaken(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")

	result, err := h.router.HandleUserMessage(context.Background(), "42", Text("more details"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Disposition != DispositionBuffered || result.TicketID != ticket.ID {
		t.Fatalf("unexpected result: %+v", result)
	}
	live, _ := h.registry.LookupByID(ticket.ID)
	if live.Activity != domain.ActivityAwaitingResponse {
		t.Fatalf("expected awaiting marker, got %q", live.Activity)
	}

	taken := h.take(t, ticket.ID, "agent-1")
	posts := h.transport.threadMessages(*taken.ThreadRef)
	if len(posts) != 2 || posts[1].Text != "more details" {
		t.Fatalf("buffered message not flushed: %+v", posts)
	}
	undelivered, _ := h.messageDB.ListUndelivered(context.Background(), ticket.ID)
	if len(undelivered) != 0 {
		t.Fatalf("expected buffer drained, got %d", len(undelivered))
	}
}

func TestRouterForwardsBothWays(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")
	taken := h.take(t, ticket.ID, "agent-1")

	result, err := h.router.HandleUserMessage(context.Background(), "42", Text("still broken"))
	if err != nil {
		t.Fatalf("user route: %v", err)
	}
	if result.Disposition != DispositionForwarded || !result.Delivered {
		t.Fatalf("unexpected user result: %+v", result)
	}
	live, _ := h.registry.LookupByID(ticket.ID)
	if live.Activity != domain.ActivityAwaitingResponse {
		t.Fatalf("expected awaiting marker, got %q", live.Activity)
	}

	sub, err := h.bus.Subscribe(ticket.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	result, err = h.router.HandleAgentMessage(context.Background(), "agent-1", *taken.ThreadRef, Text("try turning it off"))
	if err != nil {
		t.Fatalf("agent route: %v", err)
	}
	if result.Disposition != DispositionForwarded {
		t.Fatalf("unexpected agent result: %+v", result)
	}
	got := h.transport.userMessages("42")
	if last := got[len(got)-1]; last.Text != "try turning it off" {
		t.Fatalf("user did not receive reply, last=%+v", last)
	}
	live, _ = h.registry.LookupByID(ticket.ID)
	if live.Activity != domain.ActivityAnswered {
		t.Fatalf("expected answered marker, got %q", live.Activity)
	}
	update := <-sub.Updates()
	if update.Message != "try turning it off" || update.Status != domain.TicketStatusInProgress {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestRouterAgentMessageByOriginRef(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")
	h.take(t, ticket.ID, "agent-1")

	result, err := h.router.HandleAgentMessage(context.Background(), "agent-1", *ticket.OriginMessageRef, Text("hi"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Disposition != DispositionForwarded {
		t.Fatalf("expected forwarded, got %s", result.Disposition)
	}
}

func TestRouterIgnoresUnknownOrPendingRefs(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")

	for _, ref := range []string{"unknown", *ticket.OriginMessageRef} {
		result, err := h.router.HandleAgentMessage(context.Background(), "agent-1", ref, Text("hi"))
		if err != nil {
			t.Fatalf("route(%s): %v", ref, err)
		}
		if result.Disposition != DispositionIgnored {
			t.Fatalf("route(%s): expected ignored, got %s", ref, result.Disposition)
		}
	}
	if len(h.transport.userMessages("42")) != 0 {
		t.Fatal("nothing should reach the user")
	}
}

func TestRouterTicketAddressedMessages(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")

	_, err := h.router.HandleAgentMessageForTicket(context.Background(), "agent-1", ticket.ID, Text("hi"))
	if !apperrors.HasCode(err, apperrors.CodeNotInProgress) {
		t.Fatalf("expected TICKET_NOT_IN_PROGRESS, got %v", err)
	}
	h.take(t, ticket.ID, "agent-1")
	if _, err := h.tickets.CloseTicket(context.Background(), ticket.ID, domain.AgentActor("agent-1")); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = h.router.HandleUserMessageForTicket(context.Background(), ticket.ID, Text("thanks"))
	if !apperrors.HasCode(err, apperrors.CodeTicketClosed) {
		t.Fatalf("expected TICKET_CLOSED, got %v", err)
	}
	_, err = h.router.HandleUserMessageForTicket(context.Background(), 999, Text("thanks"))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRouterRenamePrompt(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")
	taken := h.take(t, ticket.ID, "agent-1")

	if err := h.router.ArmRename(context.Background(), ticket.ID, "agent-2"); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if err := h.router.ArmRename(context.Background(), ticket.ID, "agent-1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	result, err := h.router.HandleAgentMessage(context.Background(), "agent-1", *taken.ThreadRef, Text("Printer fire"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Disposition != DispositionConsumed {
		t.Fatalf("expected consumed, got %s", result.Disposition)
	}
	if got := h.transport.renamed[*taken.ThreadRef]; got != "Printer fire" {
		t.Fatalf("expected rename, got %q", got)
	}
	if len(h.transport.userMessages("42")) != 1 {
		t.Fatal("title must not be forwarded to the user")
	}
}

func TestRouterRatingCommentPrompt(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")
	h.take(t, ticket.ID, "agent-1")
	if _, err := h.tickets.CloseTicket(context.Background(), ticket.ID, domain.UserActor("42")); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.ratings.Rate(context.Background(), ticket.ID, "42", 4, nil); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := h.router.ArmRatingComment(context.Background(), ticket.ID, "42"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	result, err := h.router.HandleUserMessage(context.Background(), "42", Text("fast and friendly"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Disposition != DispositionConsumed {
		t.Fatalf("expected consumed, got %s", result.Disposition)
	}
	rating, err := h.ratingDB.Get(context.Background(), ticket.ID, "42")
	if err != nil {
		t.Fatalf("get rating: %v", err)
	}
	if rating.Rating != 4 || rating.Comment == nil || *rating.Comment != "fast and friendly" {
		t.Fatalf("unexpected rating: %+v", rating)
	}

	if err := h.router.ArmRatingComment(context.Background(), ticket.ID, "42"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := h.router.SkipUserPrompt(context.Background(), "42"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	_, err = h.router.HandleUserMessage(context.Background(), "42", Text("hello again"))
	if !apperrors.HasCode(err, apperrors.CodeNoActiveTicket) {
		t.Fatalf("expected NO_ACTIVE_TICKET after skip, got %v", err)
	}
}

func TestRatingRules(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "42")

	if _, err := h.ratings.Rate(context.Background(), ticket.ID, "42", 5, nil); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for open ticket, got %v", err)
	}
	h.take(t, ticket.ID, "agent-1")
	if _, err := h.tickets.CloseTicket(context.Background(), ticket.ID, domain.AgentActor("agent-1")); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, score := range []int{0, 6} {
		if _, err := h.ratings.Rate(context.Background(), ticket.ID, "42", score, nil); !apperrors.HasCode(err, apperrors.CodeValidation) {
			t.Fatalf("score %d: expected validation error, got %v", score, err)
		}
	}
	if _, err := h.ratings.Rate(context.Background(), ticket.ID, "other", 5, nil); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if _, err := h.ratings.Comment(context.Background(), ticket.ID, "42", "first"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected comment before rating to fail, got %v", err)
	}

	comment := "good"
	if _, err := h.ratings.Rate(context.Background(), ticket.ID, "42", 3, &comment); err != nil {
		t.Fatalf("rate: %v", err)
	}
	rating, err := h.ratings.Rate(context.Background(), ticket.ID, "42", 5, nil)
	if err != nil {
		t.Fatalf("re-rate: %v", err)
	}
	if rating.Rating != 5 || rating.Comment == nil || *rating.Comment != "good" {
		t.Fatalf("expected comment kept on re-rate, got %+v", rating)
	}
	if len(h.transport.reviews) != 2 {
		t.Fatalf("expected two published reviews, got %d", len(h.transport.reviews))
	}
}
