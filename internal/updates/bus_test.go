package updates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/observability"
)

func update(ticketID int64, status domain.TicketStatus, msg string) domain.TicketUpdate {
	return domain.NewTicketUpdate(ticketID, status, msg)
}

// waitRegistered spins until n subscribers are attached to ticketID.
func waitRegistered(t *testing.T, b *Bus, ticketID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for b.Count(ticketID) < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.Count(ticketID), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaitForUpdateDelivers(t *testing.T) {
	b := NewBus(Options{})
	type result struct {
		u  domain.TicketUpdate
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		u, ok, err := b.WaitForUpdate(context.Background(), 42, time.Second)
		if err != nil {
			t.Errorf("WaitForUpdate: %v", err)
		}
		done <- result{u, ok}
	}()
	waitRegistered(t, b, 42, 1)

	b.Notify(42, update(42, domain.TicketStatusInProgress, "taken"))

	select {
	case r := <-done:
		if !r.ok || r.u.Status != domain.TicketStatusInProgress {
			t.Fatalf("got %+v, %v", r.u, r.ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}
	if n := b.Count(42); n != 0 {
		t.Fatalf("listener not removed, count = %d", n)
	}
}

func TestWaitForUpdateTimeoutRemovesListener(t *testing.T) {
	b := NewBus(Options{})
	_, ok, err := b.WaitForUpdate(context.Background(), 1, 20*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("ok = %v, err = %v; want timeout", ok, err)
	}
	if n := b.Count(1); n != 0 {
		t.Fatalf("count after timeout = %d", n)
	}
}

func TestWaitForUpdateContextCancel(t *testing.T) {
	b := NewBus(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitRegistered(t, b, 1, 1)
		cancel()
	}()
	_, ok, err := b.WaitForUpdate(ctx, 1, 5*time.Second)
	if err != nil || ok {
		t.Fatalf("ok = %v, err = %v", ok, err)
	}
	if n := b.Count(1); n != 0 {
		t.Fatalf("count after cancel = %d", n)
	}
}

func TestNotifyWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBus(Options{})
	b.Notify(7, update(7, domain.TicketStatusPending, "created"))

	// no backlog for later subscribers
	_, ok, err := b.WaitForUpdate(context.Background(), 7, 20*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("late waiter got ok = %v, err = %v", ok, err)
	}
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	b := NewBus(Options{})
	sub, err := b.Subscribe(5)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	msgs := []string{"a", "b", "c", "d"}
	for _, m := range msgs {
		b.Notify(5, update(5, domain.TicketStatusInProgress, m))
	}
	for _, want := range msgs {
		select {
		case got := <-sub.Updates():
			if got.Message != want {
				t.Fatalf("message = %q, want %q", got.Message, want)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestSlowSubscriberIsPruned(t *testing.T) {
	metrics := observability.NewMetrics()
	b := NewBus(Options{StreamBuffer: 2, Metrics: metrics})
	slow, _ := b.Subscribe(9)
	fast, _ := b.Subscribe(9)

	for i := 0; i < 3; i++ {
		b.Notify(9, update(9, domain.TicketStatusInProgress, "x"))
		<-fast.Updates()
	}

	drained := 0
	for range slow.Updates() {
		drained++
	}
	if drained != 2 {
		t.Fatalf("slow subscriber drained %d, want 2 buffered", drained)
	}
	if n := b.Count(9); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	if snap := metrics.Snapshot(); snap.Pruned != 1 {
		t.Fatalf("pruned = %d, want 1", snap.Pruned)
	}
	fast.Close()
}

func TestCloseAllDeliversFinalAndCloses(t *testing.T) {
	b := NewBus(Options{})
	sub, _ := b.Subscribe(3)

	waiter := make(chan domain.TicketUpdate, 1)
	go func() {
		u, _, _ := b.WaitForUpdate(context.Background(), 3, time.Second)
		waiter <- u
	}()
	waitRegistered(t, b, 3, 2)

	b.CloseAll(3, update(3, domain.TicketStatusClosed, "closed"))

	got, ok := <-sub.Updates()
	if !ok || got.Status != domain.TicketStatusClosed {
		t.Fatalf("stream final = %+v, %v", got, ok)
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("stream channel left open")
	}
	select {
	case u := <-waiter:
		if u.Status != domain.TicketStatusClosed {
			t.Fatalf("waiter got %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	if n := b.Count(3); n != 0 {
		t.Fatalf("count after CloseAll = %d", n)
	}
}

func TestWaitAfterCloseReturnsImmediately(t *testing.T) {
	b := NewBus(Options{})
	b.CloseAll(4, update(4, domain.TicketStatusCancelled, "cancelled"))

	start := time.Now()
	u, ok, err := b.WaitForUpdate(context.Background(), 4, 5*time.Second)
	if err != nil || !ok || u.Status != domain.TicketStatusCancelled {
		t.Fatalf("got %+v, %v, %v", u, ok, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("wait after close blocked")
	}

	b.Notify(4, update(4, domain.TicketStatusInProgress, "late"))
	sub, _ := b.Subscribe(4)
	if got := <-sub.Updates(); got.Status != domain.TicketStatusCancelled {
		t.Fatalf("late subscriber got %+v", got)
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("late subscription left open")
	}
	sub.Close()
}

func TestTerminalRetentionExpires(t *testing.T) {
	b := NewBus(Options{TerminalRetention: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }
	b.CloseAll(8, update(8, domain.TicketStatusClosed, "closed"))

	now = now.Add(2 * time.Minute)
	_, ok, err := b.WaitForUpdate(context.Background(), 8, 10*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expired terminal still served: ok = %v, err = %v", ok, err)
	}
}

func TestShutdownReleasesEveryone(t *testing.T) {
	b := NewBus(Options{})
	sub, _ := b.Subscribe(1)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := b.WaitForUpdate(context.Background(), 1, 5*time.Second)
			errs <- err
		}()
	}
	waitRegistered(t, b, 1, 4)
	b.Shutdown()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrBusClosed) {
			t.Fatalf("waiter err = %v, want ErrBusClosed", err)
		}
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatal("stream not closed by shutdown")
	}
	if _, err := b.Subscribe(1); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Subscribe after shutdown err = %v", err)
	}
	sub.Close()
}

func TestConcurrentNotifyAndWait(t *testing.T) {
	b := NewBus(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = b.WaitForUpdate(context.Background(), 1, 20*time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			b.Notify(1, update(1, domain.TicketStatusInProgress, "x"))
		}()
	}
	wg.Wait()
	if n := b.Count(1); n != 0 {
		t.Fatalf("leaked listeners: %d", n)
	}
}
