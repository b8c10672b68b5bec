package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

func TestPublishOrdering(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var seen []string

	b.Subscribe(protocol.EventAgentText, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Data["seq"].(string))
		mu.Unlock()
	})

	b.Publish(NewEvent(protocol.EventAgentText, "test", map[string]any{"seq": "1"}))
	b.Publish(NewEvent(protocol.EventAgentText, "test", map[string]any{"seq": "2"}))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "1" || seen[1] != "2" {
		t.Fatalf("expected ordered delivery [1 2], got %v", seen)
	}
}

func TestListenerIsolation(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.Subscribe(protocol.EventAgentStarted, func(Event) {
		panic("boom")
	})
	b.Subscribe(protocol.EventAgentStarted, func(Event) {
		secondCalled = true
	})

	b.Publish(NewEvent(protocol.EventAgentStarted, "test", nil))

	if !secondCalled {
		t.Fatal("second listener should still be invoked after first panics")
	}
	if b.ErrorCount() != 1 {
		t.Fatalf("expected error count 1, got %d", b.ErrorCount())
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := New(nil)
	var count int
	b.Subscribe(protocol.Wildcard, func(Event) { count++ })

	b.Publish(NewEvent(protocol.EventAgentStarted, "test", nil))
	b.Publish(NewEvent(protocol.EventChannelReady, "test", nil))

	if count != 2 {
		t.Fatalf("wildcard subscriber should see every event, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	var count int
	id := b.Subscribe(protocol.EventAgentStarted, func(Event) { count++ })

	b.Publish(NewEvent(protocol.EventAgentStarted, "test", nil))
	if !b.Unsubscribe(id) {
		t.Fatal("unsubscribe should report success for a live subscription")
	}
	if b.Unsubscribe(id) {
		t.Fatal("second unsubscribe of the same id should report false")
	}
	b.Publish(NewEvent(protocol.EventAgentStarted, "test", nil))

	if count != 1 {
		t.Fatalf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestConcurrentSubscribeDuringPublish(t *testing.T) {
	b := New(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Subscribe(protocol.EventAgentStarted, func(Event) {})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		b.Publish(NewEvent(protocol.EventAgentStarted, "test", nil))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for concurrent subscribe")
	}
}
