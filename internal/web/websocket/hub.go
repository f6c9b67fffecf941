package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"rip-sage/internal/database"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// DefaultPollInterval is how often the hub looks for new history events.
	DefaultPollInterval = 2 * time.Second
)

// Origin checking is left to the default same-host rule.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventSource is where the hub finds new events. *database.HistoryDB
// satisfies it.
type EventSource interface {
	GetEventsByDateRange(start, end time.Time) ([]database.Event, error)
}

// EventMessage is one history event as pushed to clients.
type EventMessage struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Original     string    `json:"original"`
	Grave        string    `json:"grave,omitempty"`
	ObjectType   string    `json:"object_type"`
	Size         int64     `json:"size"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewEventMessage converts a stored event.
func NewEventMessage(e database.Event) EventMessage {
	return EventMessage{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Action:       e.Action,
		Original:     e.Original,
		Grave:        e.Grave,
		ObjectType:   e.ObjectType,
		Size:         e.Size,
		ErrorMessage: e.ErrorMessage,
	}
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans history events out to connected clients. Events are found by
// polling the source, so operations done by other processes sharing the
// history database show up as well.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	source   EventSource
	interval time.Duration
	log      *logging.Leveled

	// polling watermark: newest timestamp delivered and the IDs delivered
	// at exactly that timestamp
	since  time.Time
	atEdge map[string]bool
}

// NewHub creates a hub polling source every interval. A nil source gives a
// hub that accepts clients but never has anything to send.
func NewHub(source EventSource, interval time.Duration, log *logging.Leveled) *Hub {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		source:     source,
		interval:   interval,
		log:        log,
		atEdge:     make(map[string]bool),
	}
}

// Run serves registrations and polls for events until ctx is done, then
// disconnects every client. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.since = time.Now()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.subscribers()
			h.log.Info("event feed client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Info("event feed client disconnected", "clients", len(h.clients))
			}

		case <-ticker.C:
			h.poll()
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.subscribers()
}

func (h *Hub) subscribers() {
	if metrics.EventSubscribers != nil {
		metrics.EventSubscribers.Set(float64(len(h.clients)))
	}
}

// poll fetches events at or after the watermark and broadcasts the ones
// not yet delivered, oldest first.
func (h *Hub) poll() {
	if h.source == nil {
		return
	}
	events, err := h.source.GetEventsByDateRange(h.since, time.Now())
	if err != nil {
		h.log.Warn("event feed poll failed", "error", err)
		return
	}
	slices.SortStableFunc(events, func(a, b database.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	for _, e := range events {
		if e.Timestamp.Before(h.since) || (e.Timestamp.Equal(h.since) && h.atEdge[e.ID]) {
			continue
		}
		if e.Timestamp.After(h.since) {
			h.since = e.Timestamp
			clear(h.atEdge)
		}
		h.atEdge[e.ID] = true

		data, err := json.Marshal(NewEventMessage(e))
		if err != nil {
			h.log.Error("encode event", "id", e.ID, "error", err)
			continue
		}
		h.broadcast(data)
	}
}

// broadcast queues data for every client. A client whose queue is full is
// too slow to keep and gets disconnected.
func (h *Hub) broadcast(data []byte) {
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.drop(client)
			h.log.Warn("event feed client too slow, dropped", "clients", len(h.clients))
		}
	}
}

// HandleEvents upgrades the request and attaches the connection to hub.
func HandleEvents(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error
			hub.log.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:  hub,
			conn: conn,
			send: make(chan []byte, 256),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		case <-r.Context().Done():
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump only exists to process control frames and notice the client
// going away; clients have nothing to say.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
