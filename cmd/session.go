package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/peercall/internal/config"
	"github.com/BioHazard786/peercall/internal/identity"
	"github.com/BioHazard786/peercall/internal/logging"
	"github.com/BioHazard786/peercall/internal/media"
	"github.com/BioHazard786/peercall/internal/negotiation"
	"github.com/BioHazard786/peercall/internal/signaling"
	"github.com/BioHazard786/peercall/internal/ui"
	"github.com/BioHazard786/peercall/internal/version"
)

type clientFlags struct {
	relay    string
	stun     string
	turn     string
	turnUser string
	turnPass string
	name     string
	idFile   string
	logFile  string
	relayICE bool
	debug    bool
	headless bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.relay, "relay", "", "relay websocket URL, e.g. ws://localhost:3000/ws (env RELAY_URL)")
	cmd.Flags().StringVar(&f.stun, "stun", "", "STUN server URL (env STUN_URL, default "+config.DefaultSTUN+")")
	cmd.Flags().StringVar(&f.turn, "turn", "", "TURN server host, e.g. turn:turn.example.com (env TURN_SERVER)")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	cmd.Flags().BoolVar(&f.relayICE, "force-relay", false, "only use TURN relay candidates (env FORCE_RELAY)")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "device name shown in the roster (env DEVICE_NAME)")
	cmd.Flags().StringVar(&f.idFile, "id-file", "", "where the device id is cached (env ID_FILE)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "write logs to this file instead of stderr (env LOG_FILE)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging (env DEBUG)")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run without the interactive view")
}

func (f *clientFlags) load(role string) (*config.Client, error) {
	cfg, err := config.LoadClient(config.ClientOptions{
		RelayURL:   f.relay,
		Role:       role,
		DeviceName: f.name,
		IDFile:     f.idFile,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
		ForceRelay: f.relayICE,
		Debug:      f.debug,
		LogFile:    f.logFile,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// runSession wires transport, negotiator and view for one client and blocks
// until the user quits or ctx is done.
func runSession(ctx context.Context, cfg *config.Client, headless bool) error {
	logWriter := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logWriter = f
	}
	log := logging.Init(logging.Options{Debug: cfg.Debug, Writer: logWriter})

	id, err := identity.Load(cfg.IDFile)
	if err != nil {
		return err
	}
	self := negotiation.Identity{ID: id, Role: cfg.Role, DeviceName: cfg.DeviceName}

	transport := signaling.NewTransport(cfg.RelayURL, signaling.WithLogger(log))
	factory := negotiation.NewPionFactory(negotiation.PionConfig{
		STUNServers:   cfg.GetSTUNServers(),
		TURNServers:   cfg.GetTURNServers(),
		TURNUser:      cfg.TURNUser,
		TURNPass:      cfg.TURNPass,
		ForceRelay:    cfg.ForceRelay,
		Self:          negotiation.PeerInfo{DeviceName: cfg.DeviceName, Version: version.Version},
		LoggerFactory: logging.NewPionFactory(log),
		Logger:        log,
	})
	source := func(ctx context.Context) (negotiation.Stream, error) {
		return media.Open(ctx, media.Options{StreamID: id, Logger: log})
	}

	var view *ui.CallModel
	observer := func(s negotiation.Snapshot) {
		if view != nil {
			view.Notify(s)
		}
	}
	if headless {
		observer = headlessObserver(log)
	}

	n := negotiation.New(self, transport, factory, source,
		negotiation.WithLogger(log),
		negotiation.WithObserver(observer),
	)
	defer n.Close()

	if headless {
		if err := n.Start(); err != nil {
			return err
		}
		ui.PrintSuccess("%s registered as %s (%s), press ctrl+c to stop", ui.IconConnect, self.DeviceName, self.Role)
		<-ctx.Done()
		return nil
	}

	view = ui.NewCallModel(n, self)
	program := tea.NewProgram(view, tea.WithContext(ctx))
	if err := n.Start(); err != nil {
		return err
	}
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}

// headlessObserver logs call progress when there is no view to update.
func headlessObserver(log *slog.Logger) func(negotiation.Snapshot) {
	var last negotiation.Snapshot
	return func(s negotiation.Snapshot) {
		if s.Started != last.Started || s.Connection != last.Connection || s.Peer != last.Peer {
			log.Info("call status", "started", s.Started, "connection", s.Connection.String(), "peer", s.Peer.DeviceName)
		}
		last = s
	}
}
