package stream

import (
	"encoding/json"
	"sync"
	"time"

	"aegis/pkg/models"
)

type Event struct {
	Type  string          `json:"type"`
	Scope string          `json:"scope,omitempty"`
	At    string          `json:"at"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType, scope string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, Scope: scope, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

type subscriber struct {
	scope string
	ch    chan Event
}

// Hub fans audit and decision events out to live subscribers. Slow
// subscribers drop events rather than stalling the writer.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]*subscriber{}}
}

// Subscribe registers a listener. An empty scope receives events from
// every scope.
func (h *Hub) Subscribe(scope string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = &subscriber{scope: scope, ch: ch}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.scope != "" && sub.scope != evt.Scope {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// AuditPublisher adapts the hub into an audit chain observer.
func AuditPublisher(h *Hub) func(models.AuditEntry) {
	return func(e models.AuditEntry) {
		h.Publish(NewEvent("audit.entry", e.Scope, e))
	}
}
