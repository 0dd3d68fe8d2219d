package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BioHazard786/peercall/internal/metrics"
	"github.com/BioHazard786/peercall/internal/protocol"
)

var pongMessage = mustMarshal(protocol.Message{Type: protocol.TypePong})

// inbound is one raw message read from a client.
type inbound struct {
	client *Client
	raw    []byte
}

// Hub is the relay broadcaster.
//
// A single goroutine (Run) owns the set of connected clients and performs
// every fan-out, so join, leave and broadcast never race. The Registry is
// shared with that goroutine and is itself synchronized.
type Hub struct {
	registry *Registry
	clients  map[*Client]struct{}

	join    chan *Client
	leave   chan *Client
	inbound chan inbound
	done    chan struct{}

	metrics *metrics.Relay
	log     *slog.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithMetrics records hub activity in m.
func WithMetrics(m *metrics.Relay) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a new Hub instance.
func NewHub(registry *Registry, opts ...HubOption) *Hub {
	h := &Hub{
		registry: registry,
		clients:  make(map[*Client]struct{}),
		join:     make(chan *Client),
		leave:    make(chan *Client),
		inbound:  make(chan inbound),
		done:     make(chan struct{}),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "relay")
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Join adds c to the connected set.
func (h *Hub) Join(c *Client) {
	select {
	case h.join <- c:
	case <-h.done:
	}
}

// Leave removes c from the connected set and the registry.
func (h *Hub) Leave(c *Client) {
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

// Submit hands a raw message from c to the hub.
func (h *Hub) Submit(c *Client, raw []byte) {
	select {
	case h.inbound <- inbound{client: c, raw: raw}:
	case <-h.done:
	}
}

// Run starts the hub's main processing loop and blocks until ctx is done.
// On exit every remaining client's send queue is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.join:
			h.clients[c] = struct{}{}
			h.metrics.SetConnections(len(h.clients))
			h.log.Info("client connected", "remote", c.addr)

		case c := <-h.leave:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.drop(c)
			h.log.Info("client disconnected", "remote", c.addr)

		case in := <-h.inbound:
			h.dispatch(in.client, in.raw)
		}
	}
}

// drop forgets c and closes its send queue to stop its WritePump.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	if n := h.registry.Remove(c); n > 0 {
		h.log.Debug("registry entries removed", "remote", c.addr, "count", n)
	}
	close(c.send)
	h.metrics.SetConnections(len(h.clients))
	h.metrics.SetRegistered(h.registry.Len())
}

// dispatch routes one message by its type discriminator.
func (h *Hub) dispatch(from *Client, raw []byte) {
	if _, ok := h.clients[from]; !ok {
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.metrics.Dropped("malformed")
		h.log.Debug("malformed message dropped", "remote", from.addr, "err", err)
		return
	}
	h.metrics.Message(env.Type)

	switch env.Type {
	case protocol.TypePing:
		h.deliver(from, pongMessage)

	case protocol.TypePong:
		h.log.Debug("pong received", "remote", from.addr)

	case protocol.TypeReqListUser:
		h.sendRoster(from)

	case protocol.TypeReqRegister:
		if env.ID == "" {
			h.log.Debug("register without id ignored", "remote", from.addr)
		} else {
			h.registry.Register(protocol.User{ID: env.ID, Role: env.Role, DeviceName: env.DeviceName}, from)
			h.metrics.SetRegistered(h.registry.Len())
			h.log.Info("client registered", "remote", from.addr, "id", env.ID, "role", env.Role)
		}
		h.sendRoster(from)

	default:
		// restart and untyped offer/answer/candidate bodies go to everyone else
		h.broadcast(from, raw)
	}
}

// sendRoster replies to c with the full registry snapshot, c included.
func (h *Hub) sendRoster(c *Client) {
	data, err := json.Marshal(protocol.NewUserList(h.registry.List()))
	if err != nil {
		h.log.Error("encode roster", "err", err)
		return
	}
	h.deliver(c, data)
}

// broadcast forwards raw verbatim to every connected client except from.
func (h *Hub) broadcast(from *Client, raw []byte) {
	for c := range h.clients {
		if c == from {
			continue
		}
		h.deliver(c, raw)
	}
}

// deliver queues data for c without blocking. A full queue drops the message.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.metrics.Dropped("slow_consumer")
		h.log.Warn("send queue full, message dropped", "remote", c.addr)
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
