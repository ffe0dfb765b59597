// Package broadcast fans engine changes out to live subscribers by topic.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const defaultBuffer = 16

// Subscriber receives encoded envelopes on C until it is unsubscribed or
// dropped for falling behind, at which point C is closed.
type Subscriber struct {
	C      chan []byte
	topics map[string]struct{}
}

func (s *Subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type envelope struct {
	Topic   string `json:"topic"`
	Message any    `json:"message"`
}

type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	Buffer int
	Logger *slog.Logger
	Now    func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		Buffer: defaultBuffer,
		Logger: logger,
		Now:    time.Now,
	}
}

// Subscribe registers interest in topics; no topics means all of them.
func (h *Hub) Subscribe(topics ...string) *Subscriber {
	buf := h.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	s := &Subscriber{C: make(chan []byte, buf), topics: map[string]struct{}{}}
	for _, t := range topics {
		if t != "" {
			s.topics[t] = struct{}{}
		}
	}
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscriber]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.C)
	}
}

// Publish never blocks: a subscriber whose buffer is full is dropped.
func (h *Hub) Publish(topic string, msg any) {
	data, err := json.Marshal(envelope{Topic: topic, Message: msg})
	if err != nil {
		h.Logger.Error("broadcast encode failed", "topic", topic, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(topic) {
			continue
		}
		select {
		case s.C <- data:
		default:
			delete(h.subs, s)
			close(s.C)
			h.Logger.Warn("dropping slow subscriber", "topic", topic)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
