package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn   *websocket.Conn
	userID string
	room   string
	send   chan []byte
}

// Hub fans events out to websocket clients. A client always joins its user
// channel and optionally one conversation room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	users map[string]map[*client]struct{}
	log   *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		users: make(map[string]map[*client]struct{}),
		log:   logger.Component("hub"),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.users, c.userID, c)
	if c.room != "" {
		add(h.rooms, c.room, c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if remove(h.users, c.userID, c) && c.room != "" {
		remove(h.rooms, c.room, c)
	}
	close(c.send)
}

func add(m map[string]map[*client]struct{}, key string, c *client) {
	set, ok := m[key]
	if !ok {
		set = make(map[*client]struct{})
		m[key] = set
	}
	set[c] = struct{}{}
}

func remove(m map[string]map[*client]struct{}, key string, c *client) bool {
	set, ok := m[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
	return true
}

// Broadcast sends an event to everyone in a conversation room and returns how
// many clients it was queued for.
func (h *Hub) Broadcast(room, typ string, data any) int {
	return h.fanout(h.rooms, room, wsEvent{Type: typ, Data: data})
}

// PushToUser sends v to every socket the user has open.
func (h *Hub) PushToUser(userID string, v any) int {
	return h.fanout(h.users, userID, v)
}

func (h *Hub) fanout(m map[string]map[*client]struct{}, key string, v any) int {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Warn("dropping unencodable event")
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range m[key] {
		select {
		case c.send <- payload:
			n++
		default:
			h.log.WithField("user_id", c.userID).Warn("client send buffer full, event dropped")
		}
	}
	return n
}

// Online reports how many sockets a user has open.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Serve owns conn until the peer goes away. It blocks.
func (h *Hub) Serve(conn *websocket.Conn, userID, room string) {
	c := &client{conn: conn, userID: userID, room: room, send: make(chan []byte, sendBuffer)}
	h.register(c)
	if room != "" {
		h.Broadcast(room, "presence_join", map[string]string{"user_id": userID})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()

	h.unregister(c)
	<-done
	if room != "" {
		h.Broadcast(room, "presence_leave", map[string]string{"user_id": userID})
	}
}

// readPump discards client frames; the protocol is server push only.
func (c *client) readPump() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
