package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

// Conn is one open connection to the relay carrying text frames.
type Conn interface {
	// Read blocks until the next text message arrives or the connection fails.
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens connections to the relay.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the relay with gorilla/websocket, resolving the host
// through a Resolver.
type WebsocketDialer struct {
	Resolver *Resolver
	Header   http.Header
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := *websocket.DefaultDialer
	if d.Resolver != nil {
		dialer.NetDialContext = d.Resolver.DialContext
	}

	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	c := &wsConn{ws: ws}
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.writeControl(websocket.PongMessage, []byte(appData))
	})
	return c, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) writeControl(kind int, data []byte) error {
	return c.ws.WriteControl(kind, data, time.Now().Add(writeWait))
}

func (c *wsConn) Close() error {
	_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
