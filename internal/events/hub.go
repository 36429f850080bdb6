// Package events is a small in-memory pub/sub used to surface run progress
// to the TUI and HTTP status surface without coupling them to the scheduler.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the orchestrator.
const (
	TypeRunStarted    = "run.started"
	TypeRunFinished   = "run.finished"
	TypeTaskStarted   = "task.started"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypeTaskTimedOut  = "task.timed_out"
)

// TaskEvent is the payload for task.* events.
type TaskEvent struct {
	RunID  string `json:"run_id"`
	SiteID string `json:"site_id"`
	Status string `json:"status,omitempty"`
}

// RunEvent is the payload for run.* events.
type RunEvent struct {
	RunID    string `json:"run_id"`
	Selected int    `json:"selected"`
	Rule     string `json:"rule,omitempty"`
}

// Event is one published record.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Hub fans events out to subscribers and keeps a bounded replay buffer for
// late joiners. Slow subscribers drop events rather than block publishers.
type Hub struct {
	nextID atomic.Int64

	mu     sync.Mutex
	buffer []Event // oldest first, bounded
	cap    int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub with the given replay capacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 128
	}
	return &Hub{
		cap:  capacity,
		subs: make(map[int]chan Event),
	}
}

// Publish delivers an event to all current subscribers and the replay buffer.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buffer = append(h.buffer, ev)
	if len(h.buffer) > h.cap {
		h.buffer = h.buffer[len(h.buffer)-h.cap:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default: // subscriber is behind, drop
		}
	}
}

// Subscribe registers a listener. The returned cancel must be called to
// release the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Replay returns buffered events with ID greater than lastID, oldest first.
func (h *Hub) Replay(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.buffer))
	for _, ev := range h.buffer {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
