package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tinyassets/internal/metrics"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 32
)

// FeedMessage is the envelope pushed to a player's live feed.
type FeedMessage struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type feedClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

type feedDelivery struct {
	userID string
	data   []byte
}

// Hub fans committed day, trade and claim results out to every open feed
// connection of the player they belong to. It implements game.Notifier.
type Hub struct {
	log        *slog.Logger
	clients    map[string]map[*feedClient]bool
	deliver    chan feedDelivery
	register   chan *feedClient
	unregister chan *feedClient
	done       chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:        logger,
		clients:    make(map[string]map[*feedClient]bool),
		deliver:    make(chan feedDelivery, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until ctx is done. Start it once with go.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*feedClient]bool)
			metrics.FeedClients.Set(0)
			return

		case c := <-h.register:
			set := h.clients[c.userID]
			if set == nil {
				set = make(map[*feedClient]bool)
				h.clients[c.userID] = set
			}
			set[c] = true
			metrics.FeedClients.Inc()
			h.log.Info("feed client connected", "user_id", c.userID, "connections", len(set))

		case c := <-h.unregister:
			h.drop(c)

		case d := <-h.deliver:
			for c := range h.clients[d.userID] {
				select {
				case c.send <- d.data:
				default:
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *feedClient) {
	set := h.clients[c.userID]
	if !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.FeedClients.Dec()
}

// Publish never blocks the caller; a full queue drops the message.
func (h *Hub) Publish(userID, kind string, payload any) {
	data, err := json.Marshal(FeedMessage{Type: kind, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		h.log.Warn("feed marshal failed", "type", kind, "err", err)
		return
	}
	select {
	case h.deliver <- feedDelivery{userID: userID, data: data}:
	default:
		h.log.Warn("feed queue full, message dropped", "user_id", userID, "type", kind)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches it to userID's feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("feed upgrade failed", "user_id", userID, "err", err)
		return
	}
	c := &feedClient{userID: userID, conn: conn, send: make(chan []byte, feedSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(h)
}

// readPump only watches for disconnects; the feed is one-way.
func (c *feedClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
