package browse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/clawbook/internal/bus"
	"github.com/stellarlinkco/clawbook/internal/memory"
)

func newTestScheduler(t *testing.T, b *bus.MessageBus, interval time.Duration) (*Scheduler, *memory.Store) {
	t.Helper()
	mem := memory.NewStore(filepath.Join(t.TempDir(), "forum_memory.json"), 20)
	s := NewScheduler(b, mem, interval)
	s.settle = 20 * time.Millisecond
	s.emitTimeout = 100 * time.Millisecond
	return s, mem
}

func TestScheduler_InvalidInterval(t *testing.T) {
	b := bus.NewMessageBus(10)
	s, _ := newTestScheduler(t, b, 0)
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestScheduler_FirstCycleAfterSettle(t *testing.T) {
	b := bus.NewMessageBus(10)
	s, mem := newTestScheduler(t, b, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	select {
	case <-b.Inbound:
		t.Fatal("browse cycle fired before the settle delay")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "forum" {
			t.Errorf("channel = %q, want forum", msg.Channel)
		}
		if msg.ChatID != browseChatID {
			t.Errorf("chatID = %q, want %q", msg.ChatID, browseChatID)
		}
		if !msg.Wake {
			t.Error("browse message should set Wake")
		}
		if msg.Metadata["is_browse_event"] != true {
			t.Errorf("is_browse_event = %v, want true", msg.Metadata["is_browse_event"])
		}
		id, _ := msg.Metadata["message_id"].(string)
		if id == "" {
			t.Error("expected a message_id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first browse cycle")
	}

	if len(mem.Items(memory.KindBrowsed, 0)) != 1 {
		t.Errorf("browsed items = %d, want 1", len(mem.Items(memory.KindBrowsed, 0)))
	}
}

func TestScheduler_RepeatsAtInterval(t *testing.T) {
	b := bus.NewMessageBus(10)
	s, _ := newTestScheduler(t, b, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-b.Inbound:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for browse cycle %d", i+1)
		}
	}
}

func TestScheduler_FullBusDoesNotBlock(t *testing.T) {
	// Nobody drains the bus; the cycle should time out, skip, and not
	// record a memory item.
	b := bus.NewMessageBus(0)
	s, mem := newTestScheduler(t, b, time.Hour)
	s.emitTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runCycle(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runCycle blocked on a full bus")
	}
	if mem.Len() != 0 {
		t.Errorf("memory len = %d, want 0 for a skipped cycle", mem.Len())
	}
}

func TestScheduler_StopAfterFirstCycle(t *testing.T) {
	b := bus.NewMessageBus(10)
	s, _ := newTestScheduler(t, b, 50*time.Millisecond)
	s.settle = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case <-b.Inbound:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first browse cycle")
	}

	// Stopping right as the run goroutine hands off to the cron must
	// be safe and must not leave the cadence running.
	s.Stop()

	select {
	case <-b.Inbound:
		t.Error("no cycle should fire after Stop")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScheduler_StopBeforeSettle(t *testing.T) {
	b := bus.NewMessageBus(10)
	s, _ := newTestScheduler(t, b, time.Hour)
	s.settle = time.Hour

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()

	select {
	case <-b.Inbound:
		t.Error("no cycle should fire after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
