// Package bus implements the process-wide typed event pub/sub that
// decouples the Agent Runtime and Channel Manager (publishers) from the
// Gateway Server and file auto-send listener (consumers). See
// internal/bus/types.go for the cache-invalidation payload types this
// package also defines.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// Event is the immutable record published on the bus. Timestamp is
// stamped by NewEvent when the event is constructed.
type Event struct {
	Type      protocol.EventKind `json:"type"`
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	SessionID string             `json:"session_id,omitempty"`
	ChannelID string             `json:"channel_id,omitempty"`
	Data      map[string]any     `json:"data,omitempty"`
}

// NewEvent stamps the timestamp at construction so callers never forget it.
func NewEvent(kind protocol.EventKind, source string, data map[string]any) Event {
	return Event{Type: kind, Source: source, Timestamp: time.Now(), Data: data}
}

// Listener receives delivered events. It must not panic across the bus
// boundary; if it does, the bus recovers, counts the fault, and continues
// delivering to the remaining listeners.
type Listener func(Event)

type subscription struct {
	id     string
	kind   protocol.EventKind // protocol.Wildcard matches everything
	listen Listener
}

// Bus is the typed pub/sub described in spec §4.1. Zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs []*subscription // copy-on-write: publish reads a snapshot without holding mu

	errorCount atomic.Int64
	log        *slog.Logger
}

// New constructs an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log.With("component", "bus")}
}

// Subscribe registers listen for kind, or for every event if kind is
// protocol.Wildcard. Returns a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(kind protocol.EventKind, listen Listener) string {
	id := uuid.NewString()
	sub := &subscription{id: id, kind: kind, listen: listen}

	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*subscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, sub)
	return id
}

// Unsubscribe removes a subscription by id. Returns false if it was not
// found (already removed, or never existed).
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			next := make([]*subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			next = append(next, b.subs[i+1:]...)
			b.subs = next
			return true
		}
	}
	return false
}

// Publish delivers event to every subscriber registered for event.Type
// plus every wildcard subscriber, in the order Subscribe was called. A
// single Publish call reads one snapshot of the subscriber list, so
// concurrent Subscribe/Unsubscribe calls never interleave mid-delivery,
// and listener panics are isolated and counted rather than propagated.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := b.subs
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.kind != protocol.Wildcard && s.kind != event.Type {
			continue
		}
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errorCount.Add(1)
			b.log.Error("listener panic", "subscription", s.id, "event", event.Type, "panic", fmt.Sprint(r))
		}
	}()
	s.listen(event)
}

// ErrorCount returns the cumulative number of listener faults observed.
func (b *Bus) ErrorCount() int64 { return b.errorCount.Load() }

// SubscriberCount reports the current number of live subscriptions, for
// operator diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
