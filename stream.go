package colmena

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the aggregate streaming API.
type StreamConfig struct {
	// Enabled turns on WebSocket streaming
	Enabled bool `json:"enabled" yaml:"enabled"`
	// BufferSize is the channel buffer size per subscription
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
	// PingInterval is how often to ping clients
	PingInterval Duration `json:"ping_interval" yaml:"ping_interval"`
	// WriteTimeout for WebSocket writes
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   16,
		PingInterval: Duration(30 * time.Second),
		WriteTimeout: Duration(10 * time.Second),
	}
}

// Subscription represents an active aggregate stream subscription.
// The filter is a model type; empty matches every release.
type Subscription struct {
	ID        string
	ModelType ModelType
	ch        chan *AggregatedModel
	done      chan struct{}
	closed    bool
	mu        sync.Mutex
	created   time.Time
}

// C returns the channel for receiving released aggregates.
func (s *Subscription) C() <-chan *AggregatedModel {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// StreamHub fans released aggregates out to live subscribers. Slow
// subscribers lose releases rather than block the pipeline; the current
// snapshot is always available through the store.
type StreamHub struct {
	config StreamConfig
	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64
}

// NewStreamHub creates a new streaming hub.
func NewStreamHub(cfg StreamConfig) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = Duration(30 * time.Second)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = Duration(10 * time.Second)
	}
	return &StreamHub{
		config: cfg,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe creates a subscription filtered to one model type, or to
// all releases when typ is empty.
func (h *StreamHub) Subscribe(typ ModelType) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)

	sub := &Subscription{
		ID:        id,
		ModelType: typ,
		ch:        make(chan *AggregatedModel, h.config.BufferSize),
		done:      make(chan struct{}),
		created:   time.Now(),
	}

	h.subs[id] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish delivers a released aggregate to all matching subscriptions.
func (h *StreamHub) Publish(model *AggregatedModel) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.ModelType != "" && sub.ModelType != model.ModelType {
			continue
		}

		select {
		case sub.ch <- model:
		default:
			// Buffer full, drop the release
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (h *StreamHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll closes every subscription, used on shutdown.
func (h *StreamHub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage is the wire frame sent to WebSocket subscribers.
type streamMessage struct {
	Type  string           `json:"type"`
	Model *AggregatedModel `json:"model,omitempty"`
	Error string           `json:"error,omitempty"`
}

// handleStream upgrades the connection and forwards aggregate releases
// for the model type named in the model_type query parameter (empty
// for all types).
func (h *StreamHub) handleStream(w http.ResponseWriter, r *http.Request) {
	if !h.config.Enabled {
		http.Error(w, "streaming not enabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.Subscribe(ModelType(r.URL.Query().Get("model_type")))
	defer h.Unsubscribe(sub.ID)

	// Drain client frames so pongs and close messages are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(h.config.PingInterval))
	defer ticker.Stop()

	for {
		select {
		case model, ok := <-sub.C():
			if !ok {
				return
			}
			frame, err := json.Marshal(streamMessage{Type: "aggregate", Model: model})
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(time.Duration(h.config.WriteTimeout)))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(time.Duration(h.config.WriteTimeout)))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-clientGone:
			return
		}
	}
}
