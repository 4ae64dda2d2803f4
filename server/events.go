package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// eventQueueCap bounds each subscriber queue; a full queue drops the event
// rather than stalling the tick loop.
const eventQueueCap = 1000

// Event is one named message on a user's event stream.
type Event struct {
	Name string
	Data interface{}
}

// FormatSSE renders the event as a Server-Sent Events frame.
func (e Event) FormatSSE() []byte {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Name, payload))
}

// subscriber is one open stream (SSE or websocket) belonging to a user.
type subscriber struct {
	userID int64
	ch     chan Event
}

// eventHub fans tick-loop events out to per-user subscriber queues.
type eventHub struct {
	mu      sync.RWMutex
	subs    map[int64]map[*subscriber]struct{}
	dropped atomic.Uint64
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int64]map[*subscriber]struct{})}
}

// Subscribe opens a new queue for the user.
func (h *eventHub) Subscribe(userID int64) *subscriber {
	s := &subscriber{userID: userID, ch: make(chan Event, eventQueueCap)}
	h.mu.Lock()
	set := h.subs[userID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a queue; the stream handler drains and closes it.
func (h *eventHub) Unsubscribe(s *subscriber) {
	h.mu.Lock()
	if set := h.subs[s.userID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.userID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every open stream of the user without
// blocking. Overloaded streams lose events, never the tick loop.
func (h *eventHub) Publish(userID int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			if n := h.dropped.Add(1); n%100 == 1 {
				log.Printf("[EVENTS] Dropped event %q for user %d (slow stream, %d total drops)",
					ev.Name, userID, n)
			}
		}
	}
}

// HasSubscribers reports whether the user has any open stream.
func (h *eventHub) HasSubscribers(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// SubscriberUsers returns the ids of users with at least one open stream.
func (h *eventHub) SubscriberUsers() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int64, 0, len(h.subs))
	for uid := range h.subs {
		out = append(out, uid)
	}
	return out
}

// QueueDepth sums the pending events across all subscriber queues.
func (h *eventHub) QueueDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.subs {
		for s := range set {
			total += len(s.ch)
		}
	}
	return total
}

// ContactEvent is a sonar report delivered to a submarine owner. Type is
// "passive" for the regular listening picture and "active_ping_detected"
// when another boat's pulse is overheard. Bearings are world radians.
type ContactEvent struct {
	Type            string  `json:"type"`
	ObserverSubID   string  `json:"observer_sub_id"`
	Bearing         float64 `json:"bearing"`
	BearingRelative float64 `json:"bearing_relative"`
	RangeClass      string  `json:"range_class,omitempty"`
	SNR             float64 `json:"snr"`
	ContactType     string  `json:"contact_type,omitempty"`
	Time            float64 `json:"time"`
}

// TorpedoContactEvent is a passive report from a torpedo's seeker.
type TorpedoContactEvent struct {
	Type            string  `json:"type"`
	TorpedoID       string  `json:"torpedo_id"`
	Bearing         float64 `json:"bearing"`
	BearingRelative float64 `json:"bearing_relative"`
	RangeClass      string  `json:"range_class"`
	SNR             float64 `json:"snr"`
	ContactType     string  `json:"contact_type"`
	Time            float64 `json:"time"`
}

// TorpedoPingContact is one return inside a torpedo ping sweep.
type TorpedoPingContact struct {
	Bearing float64 `json:"bearing"`
	Range   float64 `json:"range"`
	Depth   float64 `json:"depth"`
}

// TorpedoPingEvent carries every return of one active sweep.
type TorpedoPingEvent struct {
	TorpedoID string               `json:"torpedo_id"`
	Contacts  []TorpedoPingContact `json:"contacts"`
	Time      float64              `json:"time"`
}

// EchoEvent is a resolved submarine active sonar echo.
type EchoEvent struct {
	Type            string  `json:"type"`
	ObserverSubID   string  `json:"observer_sub_id"`
	Bearing         float64 `json:"bearing"`
	BearingRelative float64 `json:"bearing_relative"`
	Range           float64 `json:"range"`
	EstimatedDepth  float64 `json:"estimated_depth"`
	Quality         float64 `json:"quality"`
	Time            float64 `json:"time"`
}

// ExplosionEvent tells a victim's owner their boat was in a blast.
type ExplosionEvent struct {
	Time        float64    `json:"time"`
	At          [3]float64 `json:"at"`
	TorpedoID   string     `json:"torpedo_id"`
	BlastRadius float64    `json:"blast_radius"`
	Damage      float64    `json:"damage"`
	Distance    float64    `json:"distance"`
}

// WireCutEvent reports a severed guidance wire.
type WireCutEvent struct {
	Time      float64 `json:"time"`
	TorpedoID string  `json:"torpedo_id"`
	Reason    string  `json:"reason"`
}

// RefuelEvent reports refuel lifecycle changes.
type RefuelEvent struct {
	Time     float64 `json:"time"`
	SubID    string  `json:"sub_id"`
	FuelerID string  `json:"fueler_id,omitempty"`
	Status   string  `json:"status"`
	Fuel     float64 `json:"fuel,omitempty"`
}
