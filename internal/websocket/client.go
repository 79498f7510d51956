package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one dashboard connection. It only receives the channels it
// subscribed to.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]struct{}
}

// ClientMessage is a control frame sent by the dashboard
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// NewClient creates a client bound to hub
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger.With("client_id", id),
		channels: make(map[string]struct{}),
	}
}

// Channels returns the client's subscriptions in sorted order
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.replyError("malformed control message")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if channel, ok := c.resolve(msg); ok {
			c.subscribe(channel)
			c.reply(Message{Type: "subscribed", Channel: channel})
		}

	case MessageTypeUnsubscribe:
		if channel, ok := c.resolve(msg); ok {
			c.mu.Lock()
			delete(c.channels, channel)
			c.mu.Unlock()
			c.hub.Unsubscribe(c, channel)
			c.reply(Message{Type: "unsubscribed", Channel: channel})
		}

	case MessageTypeListing:
		c.reply(Message{Type: MessageTypeListing, Data: c.Channels()})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.replyError("unsupported message type " + msg.Type)
	}
}

// resolve validates the channel of a subscribe/unsubscribe frame and
// answers with an error frame when it is unusable
func (c *Client) resolve(msg *ClientMessage) (string, bool) {
	if msg.Channel == "" {
		c.replyError("channel required for " + msg.Type)
		return "", false
	}
	channel, err := ResolveChannel(msg.Channel)
	if err != nil {
		c.replyError(err.Error())
		return "", false
	}
	return channel, true
}

func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	c.hub.Subscribe(c, channel)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce whatever is already queued into one text frame
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			for i, n := 0, len(c.send); i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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

// reply queues a control response. A full buffer drops it.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode reply", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, reply dropped", "type", msg.Type)
	}
}

func (c *Client) replyError(text string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": text}})
}

// initialChannels parses the comma separated channels query parameter
func initialChannels(r *http.Request) ([]string, error) {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		return nil, nil
	}
	var out []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		channel, err := ResolveChannel(name)
		if err != nil {
			return nil, err
		}
		out = append(out, channel)
	}
	return out, nil
}

// ServeWs upgrades the request and registers the client. Channels listed
// in ?channels= are subscribed before the first read.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	channels, err := initialChannels(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, ch := range channels {
		client.subscribe(ch)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("websocket connected", "channels", channels)
}
