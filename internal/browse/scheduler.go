// Package browse wakes the agent on a fixed cadence to read the forum
// on its own initiative, independent of inbound notifications.
package browse

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/clawbook/internal/bus"
	"github.com/stellarlinkco/clawbook/internal/channel"
	"github.com/stellarlinkco/clawbook/internal/memory"
)

const (
	// settleDelay holds the first browse back until the websocket and
	// the rest of the gateway have had time to come up.
	settleDelay = 60 * time.Second

	browseChatID = "browse_system"

	defaultEmitTimeout = 10 * time.Second
)

type Scheduler struct {
	bus      *bus.MessageBus
	memory   *memory.Store
	interval time.Duration
	cron     *rcron.Cron
	cancel   context.CancelFunc

	mu      sync.Mutex
	stopped bool

	// Overridable in tests.
	settle      time.Duration
	emitTimeout time.Duration
}

func NewScheduler(b *bus.MessageBus, mem *memory.Store, interval time.Duration) *Scheduler {
	return &Scheduler{
		bus:         b,
		memory:      mem,
		interval:    interval,
		settle:      settleDelay,
		emitTimeout: defaultEmitTimeout,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("browse interval must be positive, got %s", s.interval)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	// The cron is fully built before the run goroutine exists; run
	// only turns it on, so Stop always sees the same instance.
	s.cron = rcron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.runCycle(ctx)
	}); err != nil {
		s.cancel()
		return fmt.Errorf("schedule browse cycle: %w", err)
	}

	go s.run(ctx)
	log.Printf("[browse] scheduler started, first browse in %s, then every %s", s.settle, s.interval)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	select {
	case <-time.After(s.settle):
	case <-ctx.Done():
		return
	}

	s.runCycle(ctx)

	s.mu.Lock()
	if !s.stopped && ctx.Err() == nil {
		s.cron.Start()
	}
	s.mu.Unlock()
}

// runCycle wakes the agent with the browse prompt. A cycle that cannot
// be delivered is logged and dropped; the schedule keeps running.
func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("[browse] starting browse cycle")

	msg := bus.InboundMessage{
		Channel:   channel.ForumChannelName,
		SenderID:  "system",
		ChatID:    browseChatID,
		Content:   browsePrompt(),
		Timestamp: time.Now(),
		Wake:      true,
		Metadata: map[string]any{
			"message_id":      "browse_" + uuid.NewString(),
			"is_browse_event": true,
		},
	}

	select {
	case s.bus.Inbound <- msg:
		s.memory.Add(memory.KindBrowsed, "browsed the forum front page", nil)
	case <-time.After(s.emitTimeout):
		log.Printf("[browse] bus busy, skipping this browse cycle")
	case <-ctx.Done():
	}
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	s.stopped = true
	cron := s.cron
	s.mu.Unlock()

	if cron != nil {
		<-cron.Stop().Done()
	}
	log.Printf("[browse] scheduler stopped")
}

func browsePrompt() string {
	return "Time to browse the forum. Fetch the latest threads from the forum API, " +
		"read anything that looks interesting, and feel free to reply to a thread " +
		"or start one of your own if you have something to say. When you are done, " +
		"write a short diary entry about what you saw and did."
}
