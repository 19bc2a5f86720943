// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// EventHub broadcasts lifecycle events to websocket subscribers. Slow
// subscribers lose events instead of holding up the manager.
type EventHub struct {
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[chan gateway.LifecycleEvent]struct{}
	closed bool
}

var _ gateway.Observer = (*EventHub)(nil)

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		log:  log.With().Str("component", "event_hub").Logger(),
		subs: make(map[chan gateway.LifecycleEvent]struct{}),
	}
}

func (h *EventHub) ObserveLifecycle(evt gateway.LifecycleEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.log.Warn().Str("client_id", evt.ClientID).Msg("Event subscriber is lagging, dropping event")
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed by the
// cancel function or by Close.
func (h *EventHub) Subscribe() (<-chan gateway.LifecycleEvent, func()) {
	ch := make(chan gateway.LifecycleEvent, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Admin-key auth already guards this endpoint.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "Event stream is not enabled")
		return
	}
	log := hlog.FromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade event stream")
		return
	}
	defer conn.Close()

	events, cancel := s.events.Subscribe()
	defer cancel()
	log.Debug().Msg("Event stream subscriber connected")

	// The read loop only handles control frames and notices the peer leaving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug().Msg("Event stream subscriber left")
			return
		case evt, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err = conn.WriteJSON(evt); err != nil {
				log.Debug().Err(err).Msg("Failed to write event")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
