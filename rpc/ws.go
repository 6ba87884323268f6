package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"peerescrow/core/events"
	"peerescrow/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamEvent is the payload written to websocket subscribers.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscription struct {
	filter  func(*types.Event) bool
	updates chan StreamEvent
}

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than stall the engine.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Uint64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscription]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	materialized := events.Materialize(evt)
	if materialized == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(materialized) {
			continue
		}
		select {
		case sub.updates <- StreamEvent{Type: materialized.Type, Attributes: materialized.Clone().Attributes}:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it.
func (h *Hub) Subscribe(filter func(*types.Event) bool) (<-chan StreamEvent, func()) {
	sub := &subscription{filter: filter, updates: make(chan StreamEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.updates, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func streamFilter(r *http.Request) func(*types.Event) bool {
	query := r.URL.Query()
	eventType := strings.TrimSpace(query.Get("type"))
	seller := strings.TrimSpace(query.Get("seller"))
	orderID := strings.TrimSpace(query.Get("orderId"))
	party := strings.TrimSpace(query.Get("party"))
	if eventType == "" && seller == "" && orderID == "" && party == "" {
		return nil
	}
	return func(evt *types.Event) bool {
		if eventType != "" && evt.Type != eventType {
			return false
		}
		if seller != "" && evt.Attributes["seller"] != seller {
			return false
		}
		if orderID != "" && evt.Attributes["orderId"] != orderID {
			return false
		}
		if party != "" && evt.Attributes["seller"] != party && evt.Attributes["buyer"] != party {
			return false
		}
		return true
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	origins := originPatterns(s.cfg.AllowedOrigins)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.hub.Subscribe(streamFilter(r))
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("rpc: event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// originPatterns converts configured origins to the host patterns the
// websocket handshake matches against.
func originPatterns(allowed []string) []string {
	patterns := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	if len(patterns) == 0 {
		return []string{"*"}
	}
	return patterns
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan StreamEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(update)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
