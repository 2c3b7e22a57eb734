// Package events implements the typed event bus between the orchestrator
// loop and its observers (logs, interactive UI, monitors). Publishing
// never blocks the loop: each subscriber has a bounded queue and events
// are dropped on overflow, with a DROPPED_EVENTS warning emitted once the
// queue drains enough to accept it.
package events

import (
	"sync"
	"time"

	"overseer/internal/logging"
)

// Type enumerates the event kinds the core emits.
type Type string

const (
	PromptPrepared      Type = "PROMPT_PREPARED"
	PromptSent          Type = "PROMPT_SENT"
	ResponseReceived    Type = "RESPONSE_RECEIVED"
	ValidationDone      Type = "VALIDATION_DONE"
	DecisionMade        Type = "DECISION_MADE"
	BreakpointTriggered Type = "BREAKPOINT_TRIGGERED"
	SessionRefreshed    Type = "SESSION_REFRESHED"
	CheckpointCreated   Type = "CHECKPOINT_CREATED"
	Paused              Type = "PAUSED"
	Resumed             Type = "RESUMED"
	DroppedEvents       Type = "DROPPED_EVENTS"
)

// Event is one typed notification. Fields carry event-specific payload;
// subscribers receive copies and must not mutate shared state through
// them.
type Event struct {
	Type      Type
	Timestamp time.Time
	ProjectID int64
	TaskID    int64
	SessionID string
	Message   string
	Fields    map[string]any
}

// Subscription is one subscriber's bounded event queue.
type Subscription struct {
	ch      chan Event
	dropped int
	bus     *Bus
}

// Events returns the receive channel. It is closed on Unsubscribe and on
// bus Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Bus is a many-producer, many-consumer event bus with per-subscriber
// bounded queues and a drop-on-overflow policy.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	depth  int
	closed bool
}

// DefaultQueueDepth bounds each subscriber queue.
const DefaultQueueDepth = 256

// NewBus creates a bus with the given per-subscriber queue depth
// (DefaultQueueDepth when depth <= 0).
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Bus{subs: map[*Subscription]struct{}{}, depth: depth}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{ch: make(chan Event, b.depth), bus: b}
	if !b.closed {
		b.subs[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber without blocking.
// Events are delivered in emit order per producer; a full subscriber
// queue drops the event and counts it.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		// A pending drop count is reported before the next event so
		// consumers learn about the gap in order.
		if sub.dropped > 0 {
			warning := Event{
				Type:      DroppedEvents,
				Timestamp: time.Now(),
				Message:   "subscriber queue overflowed",
				Fields:    map[string]any{"dropped": sub.dropped},
			}
			select {
			case sub.ch <- warning:
				logging.Get(logging.CategoryEvents).Warn("Subscriber dropped %d events", sub.dropped)
				sub.dropped = 0
			default:
			}
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Close closes every subscriber channel and stops delivery.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
