package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
)

const (
	// clientBuffer is how many events may queue for one slow client before
	// further events to it are dropped.
	clientBuffer = 64

	writeTimeout = 10 * time.Second
)

// EventHub fans bus events out to websocket clients at /api/events. It
// subscribes to the bus once per topic; clients only ever read.
type EventHub struct {
	log            *logger.Logger
	originPatterns []string

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
	done    chan struct{}
}

type hubClient struct {
	send    chan bus.Event
	dropped int
}

// NewEventHub creates a hub accepting browser connections from origins,
// given in the same form as the CORS origins.
func NewEventHub(origins []string, log *logger.Logger) *EventHub {
	if log == nil {
		log = logger.Discard()
	}
	return &EventHub{
		log:            log.WithComponent("events"),
		originPatterns: hostPatterns(origins),
		clients:        make(map[*hubClient]struct{}),
		done:           make(chan struct{}),
	}
}

// hostPatterns strips schemes, since websocket origin checks match on host.
func hostPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		if o = strings.TrimRight(o, "/"); o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// Attach subscribes the hub to every topic on b.
func (h *EventHub) Attach(ctx context.Context, b bus.Bus) error {
	for _, topic := range bus.AllTopics {
		if err := b.Subscribe(ctx, topic, h.Broadcast); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast queues ev for every connected client. It never blocks; a client
// whose queue is full misses the event.
func (h *EventHub) Broadcast(ctx context.Context, ev bus.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			c.dropped++
			h.log.Debug("Dropping event for slow client", "event_id", ev.ID, "dropped", c.dropped)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register() (*hubClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	c := &hubClient{send: make(chan bus.Event, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *EventHub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events as JSON text frames
// until the client goes away or the hub is closed.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.WithContext(r.Context()).Warn("Websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	client, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(client)

	log := h.log.WithContext(r.Context())
	log.Debug("Websocket client connected", "remote", r.RemoteAddr)

	// Nothing is read from clients; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			log.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-client.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug("Websocket write failed", "error", err)
				return
			}
		}
	}
}

// Close disconnects every client. Further connections are refused.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
