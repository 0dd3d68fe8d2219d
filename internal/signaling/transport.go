package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BioHazard786/peercall/internal/protocol"
)

// KeepaliveInterval is the period of the JSON ping sent while open.
const KeepaliveInterval = 10 * time.Second

// ErrNoEndpoint is returned by Connect when no relay URL is configured.
var ErrNoEndpoint = errors.New("signaling: no relay endpoint configured")

// State is the transport lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	// StateWaiting means a reconnect timer is pending.
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Handlers are the owner's callbacks. They run on transport goroutines,
// never while the transport lock is held.
type Handlers struct {
	OnOpen    func()
	OnMessage func(protocol.Message)
}

// Option customises a Transport.
type Option func(*Transport)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithClock replaces the wall clock driving backoff and keepalive.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Transport owns one logical connection to the relay. It reconnects with
// doubling backoff after every close and sends a keepalive ping while open.
//
// Each dial, read loop and timer is tagged with the generation that created
// it; anything carrying an older generation is ignored, so Connect and
// Teardown never race with callbacks from a previous connection.
type Transport struct {
	url    string
	dialer Dialer
	clock  clock.Clock
	log    *slog.Logger

	mu       sync.Mutex
	handlers Handlers
	gen      uint64
	state    State
	conn     Conn
	cancel   context.CancelFunc
	stopPing chan struct{}
	retry    *clock.Timer
	backoff  *Backoff
}

// NewTransport returns a disconnected transport for the relay at url.
func NewTransport(url string, opts ...Option) *Transport {
	t := &Transport{
		url:     url,
		dialer:  &WebsocketDialer{Resolver: NewResolver()},
		clock:   clock.New(),
		log:     slog.Default(),
		backoff: NewBackoff(InitialDelay, MaxDelay),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "transport")
	return t
}

// Configure sets the owner's callbacks.
func (t *Transport) Configure(h Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

// Connect tears down any existing connection and timers, then dials.
// The dial runs in the background; failures feed the reconnect loop.
func (t *Transport) Connect() error {
	if t.url == "" {
		return ErrNoEndpoint
	}

	t.mu.Lock()
	old := t.teardownLocked()
	t.dialLocked()
	t.mu.Unlock()

	closeConn(old)
	return nil
}

// Send encodes v as JSON and writes it if the transport is open.
// Otherwise the message is dropped.
func (t *Transport) Send(v any) {
	t.mu.Lock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()

	if !open || conn == nil {
		t.log.Debug("send while not open dropped")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.log.Error("encode message", "err", err)
		return
	}
	if err := conn.Write(data); err != nil {
		// the read loop observes the failure and schedules the reconnect
		t.log.Debug("write failed", "err", err)
		conn.Close()
	}
}

// Teardown closes the connection and cancels both timers. It is safe to
// call in any state, any number of times.
func (t *Transport) Teardown() {
	t.mu.Lock()
	old := t.teardownLocked()
	t.mu.Unlock()

	closeConn(old)
}

// State reports the lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Delay is the wait that will precede the next reconnect.
func (t *Transport) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff.Current()
}

// teardownLocked resets the transport and hands back the connection it
// detached. The caller closes it after releasing t.mu, since closing a
// websocket writes a close frame and may block on a stalled peer.
func (t *Transport) teardownLocked() Conn {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	if t.stopPing != nil {
		close(t.stopPing)
		t.stopPing = nil
	}
	old := t.conn
	t.conn = nil
	t.state = StateDisconnected
	return old
}

func closeConn(c Conn) {
	if c != nil {
		c.Close()
	}
}

func (t *Transport) dialLocked() {
	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.state = StateConnecting
	go t.dial(ctx, gen)
}

func (t *Transport) dial(ctx context.Context, gen uint64) {
	conn, err := t.dialer.Dial(ctx, t.url)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	t.cancel = nil
	if err != nil {
		t.log.Debug("connect failed", "err", err)
		t.scheduleLocked(gen)
		t.mu.Unlock()
		return
	}

	t.conn = conn
	t.state = StateOpen
	t.backoff.Reset()
	t.stopPing = make(chan struct{})
	go t.keepalive(t.clock.Ticker(KeepaliveInterval), t.stopPing)
	onOpen := t.handlers.OnOpen
	t.mu.Unlock()

	t.log.Info("connected to relay", "url", t.url)
	if onOpen != nil {
		onOpen()
	}
	t.read(conn, gen)
}

// read delivers inbound messages until conn fails.
func (t *Transport) read(conn Conn, gen uint64) {
	for {
		data, err := conn.Read()
		if err != nil {
			t.closed(gen, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Debug("malformed message dropped", "err", err)
			continue
		}

		t.mu.Lock()
		current := gen == t.gen
		onMessage := t.handlers.OnMessage
		t.mu.Unlock()
		if !current {
			return
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// closed handles the end of the connection tagged gen.
func (t *Transport) closed(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.log.Info("relay connection closed", "err", err)
	if t.stopPing != nil {
		close(t.stopPing)
		t.stopPing = nil
	}
	old := t.conn
	t.conn = nil
	t.scheduleLocked(gen)
	t.mu.Unlock()

	closeConn(old)
}

func (t *Transport) scheduleLocked(gen uint64) {
	delay := t.backoff.Next()
	t.state = StateWaiting
	t.log.Debug("reconnect scheduled", "delay", delay)
	t.retry = t.clock.AfterFunc(delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.gen {
			return
		}
		t.retry = nil
		t.dialLocked()
	})
}

func (t *Transport) keepalive(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Send(protocol.Ping())
		case <-stop:
			return
		}
	}
}
