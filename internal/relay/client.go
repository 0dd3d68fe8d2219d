package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP bodies

	// DefaultSendBuffer is the per-connection outbound queue length.
	DefaultSendBuffer = 256
)

// Client is one websocket connection to the relay.
//
// Identity is never inferred from the connection: a Client only appears in
// the Registry after it sends req-register.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	addr string

	// send is the outbound queue drained by WritePump. Only the hub sends on
	// it and only the hub closes it.
	send chan []byte

	// limiter, when set, bounds inbound messages per second.
	limiter *rate.Limiter

	log *slog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithSendBuffer sets the outbound queue length.
func WithSendBuffer(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.send = make(chan []byte, n)
		}
	}
}

// WithRateLimit drops inbound messages above perSecond. Zero disables it.
func WithRateLimit(perSecond int) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// NewClient wraps conn for hub.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, DefaultSendBuffer),
	}
	if conn != nil {
		c.addr = conn.RemoteAddr().String()
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = hub.log.With("remote", c.addr)
	return c
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "err", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.metrics.Dropped("rate_limited")
			c.log.Debug("inbound message over rate limit dropped")
			continue
		}

		c.hub.Submit(c, data)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", "err", err)
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
