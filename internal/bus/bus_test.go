package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "forum", ChatID: "thread_42_user_7"}
	if got := m.SessionKey(); got != "forum:thread_42_user_7" {
		t.Errorf("SessionKey = %q, want forum:thread_42_user_7", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)

	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("forum", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "forum", ChatID: "1", Content: "hi"}

	select {
	case msg := <-got:
		if msg.Content != "hi" {
			t.Errorf("content = %q, want hi", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message not dispatched")
	}
}

func TestDispatchOutbound_NoHandler(t *testing.T) {
	b := NewMessageBus(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// A message for an unknown channel must not wedge the dispatcher.
	b.Outbound <- OutboundMessage{Channel: "nowhere", Content: "lost"}

	got := make(chan struct{}, 1)
	b.SubscribeOutbound("forum", func(msg OutboundMessage) {
		got <- struct{}{}
	})
	b.Outbound <- OutboundMessage{Channel: "forum", Content: "hi"}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher stuck after unhandled message")
	}
}
