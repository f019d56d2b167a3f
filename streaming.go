package vigil

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ScoreEvent is published for every classification.
type ScoreEvent struct {
	Classifier string    `json:"classifier"`
	Timestamp  time.Time `json:"timestamp"`
	Time       int64     `json:"time"`
	Decision   string    `json:"decision"`
	Score      float64   `json:"score"`
	State      string    `json:"state"`
}

// Subscription receives score events of one classifier, or of all
// classifiers when Classifier is empty. Release it with ScoreHub.Unsubscribe.
type Subscription struct {
	ID         string
	Classifier string
	ch         chan ScoreEvent
	done       chan struct{}
	closed     bool
	mu         sync.Mutex
	created    time.Time
}

// C returns the channel for receiving events.
func (s *Subscription) C() <-chan ScoreEvent {
	return s.ch
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// ScoreHub fans score events out to subscribers. Slow subscribers lose
// events instead of blocking classification.
type ScoreHub struct {
	config  StreamConfig
	logger  *zap.Logger
	mu      sync.RWMutex
	subs    map[string]*Subscription
	dropped atomic.Uint64
}

// NewScoreHub creates a hub. A nil logger logs nothing.
func NewScoreHub(cfg StreamConfig, logger *zap.Logger) *ScoreHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreHub{
		config: cfg,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe creates a subscription for classifier; empty means all.
func (h *ScoreHub) Subscribe(classifier string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		ID:         uuid.NewString(),
		Classifier: classifier,
		ch:         make(chan ScoreEvent, h.config.BufferSize),
		done:       make(chan struct{}),
		created:    time.Now(),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *ScoreHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish sends an event to all matching subscriptions.
func (h *ScoreHub) Publish(e ScoreEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.Classifier != "" && sub.Classifier != e.Classifier {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (h *ScoreHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Count returns the number of active subscriptions.
func (h *ScoreHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON format for WebSocket messages.
type StreamMessage struct {
	Type       string      `json:"type"`
	Classifier string      `json:"classifier,omitempty"`
	Event      *ScoreEvent `json:"event,omitempty"`
	SubID      string      `json:"sub_id,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// WebSocketHandler returns an HTTP handler that accepts subscribe and
// unsubscribe commands and forwards matching events as JSON.
func (h *ScoreHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := &wsConn{conn: raw}
		defer func() { _ = raw.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		connSubs := make(map[string]*Subscription)
		var connMu sync.Mutex

		go func() {
			defer cancel()
			for {
				_, msg, err := raw.ReadMessage()
				if err != nil {
					return
				}

				var cmd StreamMessage
				if err := json.Unmarshal(msg, &cmd); err != nil {
					_ = conn.send(StreamMessage{Type: "error", Error: "invalid message format"})
					continue
				}

				switch cmd.Type {
				case "subscribe":
					sub := h.Subscribe(cmd.Classifier)
					connMu.Lock()
					connSubs[sub.ID] = sub
					connMu.Unlock()

					_ = conn.send(StreamMessage{Type: "subscribed", SubID: sub.ID, Classifier: sub.Classifier})
					go h.forwardEvents(ctx, conn, sub)

				case "unsubscribe":
					connMu.Lock()
					if sub, ok := connSubs[cmd.SubID]; ok {
						delete(connSubs, cmd.SubID)
						h.Unsubscribe(sub.ID)
					}
					connMu.Unlock()
					_ = conn.send(StreamMessage{Type: "unsubscribed", SubID: cmd.SubID})

				default:
					_ = conn.send(StreamMessage{Type: "error", Error: "unknown command: " + cmd.Type})
				}
			}
		}()

		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					break loop
				}
			}
		}

		connMu.Lock()
		for _, sub := range connSubs {
			h.Unsubscribe(sub.ID)
		}
		connMu.Unlock()
	}
}

func (h *ScoreHub) forwardEvents(ctx context.Context, conn *wsConn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case e, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.send(StreamMessage{Type: "event", SubID: sub.ID, Event: &e}); err != nil {
				return
			}
		}
	}
}
