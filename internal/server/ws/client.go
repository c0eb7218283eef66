package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// subscribeMsg is the only message clients send.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	return c
}

// enqueue never blocks; a full buffer or a closed client drops the frame.
func (c *client) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close ends writeLoop. Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// apply updates the subscription set and answers with the resulting set,
// or with an error frame naming the first unknown channel or action.
func (c *client) apply(msg subscribeMsg) []byte {
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return errorFrame("unknown action " + msg.Action)
	}
	for _, ch := range msg.Channels {
		if !slices.Contains(Channels, ch) {
			return errorFrame("unknown channel " + ch)
		}
	}

	c.mu.Lock()
	for _, ch := range msg.Channels {
		c.subs[ch] = msg.Action == "subscribe"
	}
	current := make([]string, 0, len(c.subs))
	for _, ch := range Channels {
		if c.subs[ch] {
			current = append(current, ch)
		}
	}
	c.mu.Unlock()

	payload, _ := json.Marshal(current)
	frame, _ := json.Marshal(envelope{Type: frameSubscriptions, Payload: payload})
	return frame
}

func errorFrame(msg string) []byte {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	frame, _ := json.Marshal(envelope{Type: frameError, Payload: payload})
	return frame
}

func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(errorFrame("malformed message"))
			continue
		}
		c.enqueue(c.apply(msg))
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
