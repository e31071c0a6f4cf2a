// Package events is the in-process progress feed of a batch. The
// orchestrator publishes, the API streams it as SSE and the TUI renders it.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	defaultHistory = 256
	feedBuffer     = 256
)

// Event is one published progress notification.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher is the producer side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// feed is one subscriber. dropped counts events it was too slow to take.
type feed struct {
	ch      chan Event
	dropped int
}

// Hub fans events out to subscribers and keeps a bounded history so a
// client that connects late (or reconnects with Last-Event-ID) can catch up.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	limit   int
	history []Event
	feeds   map[*feed]struct{}
}

// NewHub keeps the last limit events for replay; limit <= 0 picks a default.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &Hub{
		limit:   limit,
		history: make([]Event, 0, limit),
		feeds:   make(map[*feed]struct{}),
	}
}

// Publish never blocks on slow subscribers; they miss events instead.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.remember(ev)
	for f := range h.feeds {
		select {
		case f.ch <- ev:
		default:
			f.dropped++
		}
	}
}

func (h *Hub) remember(ev Event) {
	if len(h.history) == h.limit {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.limit-1]
	}
	h.history = append(h.history, ev)
}

// Subscribe returns a channel of future events and a cancel func that
// closes it. Cancelling twice is harmless.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	f := &feed{ch: make(chan Event, feedBuffer)}

	h.mu.Lock()
	h.feeds[f] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.feeds[f]; !ok {
			return
		}
		delete(h.feeds, f)
		close(f.ch)
	}
	return f.ch, cancel
}

// Dropped reports how many events all current subscribers missed.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for f := range h.feeds {
		n += f.dropped
	}
	return n
}

// SnapshotSince returns remembered events with ID > lastID, oldest first.
// lastID 0 returns the whole history.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs in history are contiguous, so the first wanted index is computable.
	skip := 0
	if n := len(h.history); n > 0 && lastID > 0 {
		skip = int(lastID - h.history[0].ID + 1)
		if skip < 0 {
			skip = 0
		}
		if skip > n {
			skip = n
		}
	}
	return append([]Event(nil), h.history[skip:]...)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}
