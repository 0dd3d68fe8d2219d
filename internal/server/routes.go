package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BioHazard786/peercall/internal/metrics"
	"github.com/BioHazard786/peercall/internal/relay"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// The relay does not authenticate clients; any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Options controls the routes mounted by NewMux.
type Options struct {
	// WSPath is the websocket route, "/ws" when empty.
	WSPath string

	// SendBuffer and MaxMessagesPerSecond are passed to each relay.Client.
	SendBuffer           int
	MaxMessagesPerSecond int

	// Gatherer, when set, is served at /metrics.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewMux returns the relay's HTTP handler.
func NewMux(hub *relay.Hub, opts Options) *http.ServeMux {
	path := opts.WSPath
	if path == "" {
		path = "/ws"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc(path, ServeWs(hub, opts))
	if opts.Gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}
	return mux
}

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay is healthy."))
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
// It takes the hub as a dependency.
func ServeWs(hub *relay.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "err", err)
			return
		}

		client := relay.NewClient(hub, conn,
			relay.WithSendBuffer(opts.SendBuffer),
			relay.WithRateLimit(opts.MaxMessagesPerSecond),
		)
		hub.Join(client)

		// These methods will handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}
