package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/livestore"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	sendBuffer   = 16
	liveViewType = "live_view"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveMessage is a frame pushed to websocket clients.
type LiveMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      livestore.View `json:"data"`
}

// Client is one websocket connection watching a device.
type Client struct {
	ID       string
	DeviceID string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
}

// Hub keeps websocket clients in one room per device.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]bool
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[c.DeviceID] == nil {
		h.rooms[c.DeviceID] = make(map[*Client]bool)
	}
	h.rooms[c.DeviceID][c] = true
	h.logger.Debug("websocket client connected",
		zap.String("client_id", c.ID),
		zap.String("device_id", c.DeviceID),
		zap.Int("room_size", len(h.rooms[c.DeviceID])))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	clients, ok := h.rooms[c.DeviceID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.rooms, c.DeviceID)
	}
	h.logger.Debug("websocket client disconnected",
		zap.String("client_id", c.ID),
		zap.String("device_id", c.DeviceID))
}

// Broadcast sends message to every client watching deviceID. Clients whose
// buffer is full are disconnected.
func (h *Hub) Broadcast(deviceID string, message []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.rooms[deviceID] {
		select {
		case c.send <- message:
			sent++
		default:
			h.logger.Warn("websocket client too slow, disconnecting", zap.String("client_id", c.ID))
			h.removeLocked(c)
		}
	}
	return sent
}

// Stats returns the number of clients per device.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make(map[string]int, len(h.rooms))
	for device, clients := range h.rooms {
		stats[device] = len(clients)
	}
	return stats
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for c := range clients {
			h.removeLocked(c)
		}
	}
}

func encodeView(v livestore.View) ([]byte, error) {
	return json.Marshal(LiveMessage{Type: liveViewType, Timestamp: time.Now().UTC(), Data: v})
}

// StreamLive renders every snapshot from updates and broadcasts it to the
// device's room until updates is closed or ctx is done.
func (h *Handler) StreamLive(ctx context.Context, hub *Hub, updates <-chan *livestore.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			msg, err := encodeView(h.buildView(ctx, snap, livestore.SlotsAll))
			if err != nil {
				h.logger.Error("failed to encode live view", zap.Error(err))
				continue
			}
			hub.Broadcast(snap.DeviceID, msg)
		}
	}
}

// ServeLive upgrades the request to a websocket streaming live views of one
// device. The current view, when there is one, is sent first.
func (h *Handler) ServeLive(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("device")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.NewString(),
			DeviceID: deviceID,
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			hub:      hub,
		}
		hub.register(client)

		if snap, err := h.live.Get(c.Request.Context(), deviceID); err == nil {
			if msg, err := encodeView(h.buildView(c.Request.Context(), snap, livestore.SlotsAll)); err == nil {
				select {
				case client.send <- msg:
				default:
				}
			}
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
