// Package visual fans out switch state updates to display clients.
package visual

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Message is one visualization update. A full update carries all fields; a
// partial update only State.
type Message struct {
	State    string `json:"state"`              // "on" or "off"
	Schedule *int   `json:"schedule,omitempty"` // 1 while the weekly plan is enabled, else 0
	Number   string `json:"number,omitempty"`   // inventory number
}

// StateString renders a device state for display.
func StateString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Full builds a full update. planActive reports whether the switch follows
// its weekly plan.
func Full(on bool, planActive bool, number string) Message {
	flag := 0
	if planActive {
		flag = 1
	}
	return Message{State: StateString(on), Schedule: &flag, Number: number}
}

// Partial builds a state-only update.
func Partial(on bool) Message {
	return Message{State: StateString(on)}
}

// Hub is a per-switch publish/subscribe channel of encoded messages.
// Slow subscribers miss updates instead of blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	last map[string]Message
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		last: make(map[string]Message),
	}
}

// Subscription receives encoded messages of one switch on C.
type Subscription struct {
	C <-chan []byte

	ch       chan []byte
	hub      *Hub
	switchID string
	once     sync.Once
}

// Subscribe registers a subscriber. The current merged state, if known, is
// delivered first.
func (h *Hub) Subscribe(switchID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, switchID: switchID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[switchID] == nil {
		h.subs[switchID] = make(map[*Subscription]struct{})
	}
	h.subs[switchID][s] = struct{}{}

	if msg, ok := h.last[switchID]; ok {
		if data, err := json.Marshal(msg); err == nil {
			ch <- data
		}
	}
	return s
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.switchID], s)
		if len(s.hub.subs[s.switchID]) == 0 {
			delete(s.hub.subs, s.switchID)
		}
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Publish sends msg to all subscribers of the switch and merges it into the
// last known state.
func (h *Hub) Publish(switchID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("switch", switchID).Msg("Failed to encode visualization message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	merged := h.last[switchID]
	merged.State = msg.State
	if msg.Schedule != nil {
		merged.Schedule = msg.Schedule
	}
	if msg.Number != "" {
		merged.Number = msg.Number
	}
	h.last[switchID] = merged

	for s := range h.subs[switchID] {
		select {
		case s.ch <- data:
		default:
			log.Debug().Str("switch", switchID).Msg("Visualization subscriber too slow, dropping update")
		}
	}
}

// Last returns the merged state of a switch.
func (h *Hub) Last(switchID string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.last[switchID]
	return msg, ok
}
