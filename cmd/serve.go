package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/peercall/internal/config"
	"github.com/BioHazard786/peercall/internal/logging"
	"github.com/BioHazard786/peercall/internal/metrics"
	"github.com/BioHazard786/peercall/internal/relay"
	"github.com/BioHazard786/peercall/internal/server"
	"github.com/BioHazard786/peercall/internal/ui"
	"github.com/BioHazard786/peercall/internal/version"
)

const shutdownTimeout = 5 * time.Second

var (
	flagAddr       string
	flagPath       string
	flagSendBuffer int
	flagMaxRate    int
	flagNoMetrics  bool
	flagServeDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay.

Examples:
  peercall serve
  peercall serve --addr :8080 --path /signal
  LOG_LEVEL=info peercall serve --max-rate 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRelay(config.RelayOptions{
			Addr:                 flagAddr,
			WSPath:               flagPath,
			SendBuffer:           flagSendBuffer,
			MaxMessagesPerSecond: flagMaxRate,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (env LISTEN_ADDR, default "+config.DefaultAddr+")")
	serveCmd.Flags().StringVar(&flagPath, "path", "", "websocket path (env WS_PATH, default "+config.DefaultWSPath+")")
	serveCmd.Flags().IntVar(&flagSendBuffer, "send-buffer", 0, "per-connection outbound queue length (env SEND_BUFFER)")
	serveCmd.Flags().IntVar(&flagMaxRate, "max-rate", 0, "inbound messages per second per connection, 0 is unlimited (env MAX_MESSAGES_PER_SECOND)")
	serveCmd.Flags().BoolVar(&flagNoMetrics, "no-metrics", false, "do not serve /metrics")
	serveCmd.Flags().BoolVar(&flagServeDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Relay) error {
	log := logging.Init(logging.Options{Debug: flagServeDebug})

	var gatherer prometheus.Gatherer
	hubOpts := []relay.HubOption{relay.WithLogger(log)}
	if !flagNoMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		hubOpts = append(hubOpts, relay.WithMetrics(metrics.NewRelay(reg)))
		gatherer = reg
	}

	hub := relay.NewHub(relay.NewRegistry(), hubOpts...)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewMux(hub, server.Options{
			WSPath:               cfg.WSPath,
			SendBuffer:           cfg.SendBuffer,
			MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
			Gatherer:             gatherer,
			Logger:               log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ui.RenderRelaySummary(os.Stdout, ui.RelaySummary{
		Addr:       cfg.Addr,
		WSPath:     cfg.WSPath,
		SendBuffer: cfg.SendBuffer,
		MaxRate:    cfg.MaxMessagesPerSecond,
		Metrics:    gatherer != nil,
		Version:    version.Version,
	})

	errc := make(chan error, 1)
	go func() {
		log.Info("relay listening", "addr", cfg.Addr, "path", cfg.WSPath)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes their queues and the write pumps close the sockets
	cancelHub()
	return srv.Shutdown(shutdownCtx)
}
