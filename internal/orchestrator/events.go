package orchestrator

import (
	"sync"
	"time"
)

// Event names emitted during a run.
const (
	EventRoundStart      = "round_start"
	EventPhaseTransition = "phase_transition"
	EventEvasionFound    = "evasion_found"
	EventRunComplete     = "run_complete"
)

// Event is a timestamped notification emitted during an evaluation run.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Bus fans run events out to subscribers keyed by run id. Emits never
// block: a subscriber that falls behind misses events rather than
// stalling the round loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]chan *Event)}
}

// Subscribe registers a buffered channel for a run's events.
func (b *Bus) Subscribe(runID string) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.subscribers[runID] = append(b.subscribers[runID], ch)
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (b *Bus) Unsubscribe(runID string, ch <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[runID]
	for i, s := range subs {
		if s == ch {
			b.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
}

// Close closes every subscriber channel for a run. Called once the run
// finishes so streaming consumers see end-of-stream.
func (b *Bus) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers[runID] {
		close(ch)
	}
	delete(b.subscribers, runID)
}

// Emit sends an event to all of a run's subscribers.
func (b *Bus) Emit(runID, eventType string, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	for _, ch := range b.subscribers[runID] {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
