package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docuprompt/api/internal/metrics"
)

const sendBuffer = 256

// session is one live client connection
type session struct {
	id   string
	send chan []byte
}

type delivery struct {
	sessionID string
	data      []byte
}

// Hub maintains the live sessions and routes events to them. All session
// bookkeeping happens on the Run goroutine.
type Hub struct {
	sessions map[string]*session

	register   chan *session
	unregister chan *session
	deliver    chan delivery
	count      chan chan int

	done chan struct{}
	log  *slog.Logger
}

// NewHub creates a new Hub
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
		deliver:    make(chan delivery, sendBuffer),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
	}
}

// Run processes registrations and deliveries until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for id, s := range h.sessions {
				close(s.send)
				delete(h.sessions, id)
			}
			return nil

		case s := <-h.register:
			h.sessions[s.id] = s
			h.log.Debug("session registered", "session_id", s.id)

		case s := <-h.unregister:
			if current, ok := h.sessions[s.id]; ok && current == s {
				delete(h.sessions, s.id)
				close(s.send)
			}
			h.log.Debug("session unregistered", "session_id", s.id)

		case d := <-h.deliver:
			s, ok := h.sessions[d.sessionID]
			if !ok {
				// session is gone; delivery is not retried
				metrics.DroppedEvents.WithLabelValues("unknown_session").Inc()
				h.log.Warn("dropping event for disconnected session", "session_id", d.sessionID)
				continue
			}
			select {
			case s.send <- d.data:
			default:
				delete(h.sessions, s.id)
				close(s.send)
				metrics.DroppedEvents.WithLabelValues("slow_session").Inc()
				h.log.Warn("dropping slow session", "session_id", s.id)
			}

		case reply := <-h.count:
			reply <- len(h.sessions)
		}
	}
}

func (h *Hub) add(s *session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(s *session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Emit queues event for delivery to sessionID
func (h *Hub) Emit(sessionID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", "session_id", sessionID, "error", err)
		return
	}

	select {
	case h.deliver <- delivery{sessionID: sessionID, data: data}:
	case <-h.done:
		metrics.DroppedEvents.WithLabelValues("hub_stopped").Inc()
	}
}

// Sessions returns the number of live sessions
func (h *Hub) Sessions() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
