package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"softphone-queue/pkg/logger"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

// Hub fans envelopes out to connected websocket subscribers. Subscribers only
// receive; anything they send is discarded.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	origins      []string
	sendBuffer   int
	writeTimeout time.Duration
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	once   sync.Once
	kicked chan struct{}
	code   websocket.StatusCode
	reason string
}

// NewHub accepts cross-origin connections only from originPatterns. Same-origin
// requests are always allowed by the websocket library.
func NewHub(originPatterns []string) *Hub {
	return &Hub{
		clients:      map[*client]struct{}{},
		origins:      originPatterns,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Warn("ws: accept failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer), kicked: make(chan struct{})}
	h.add(c)
	log.Info("ws: subscriber connected", "subscribers", h.Len())
	defer func() {
		h.remove(c)
		log.Info("ws: subscriber disconnected", "subscribers", h.Len())
	}()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-c.kicked:
			_ = conn.Close(c.code, c.reason)
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				log.Warn("ws: write failed, closing", "err", err)
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Broadcast queues frame for every subscriber without blocking. A subscriber whose
// buffer is full is disconnected; it resyncs by polling after reconnecting.
func (h *Hub) Broadcast(ctx context.Context, frame []byte) {
	log := logger.From(ctx)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			log.Warn("ws: subscriber too slow, dropping", "subscribers", len(h.clients))
			c.kick(websocket.StatusPolicyViolation, "backpressure")
		}
	}
}

// Run forwards messages from a Redis subscription until ctx ends or the channel closes.
func (h *Hub) Run(ctx context.Context, msgs <-chan *redis.Message) {
	log := logger.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				log.Warn("ws: dropping malformed frame", "channel", msg.Channel)
				continue
			}
			h.Broadcast(ctx, []byte(msg.Payload))
		}
	}
}

// Close disconnects every subscriber with StatusGoingAway.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.kick(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (c *client) kick(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.code = code
		c.reason = reason
		close(c.kicked)
	})
}
