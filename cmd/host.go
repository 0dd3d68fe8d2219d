package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/peercall/internal/protocol"
)

var hostFlags clientFlags

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Register as host and call a device from the roster",
	Long: `Register with the relay as the host, pick a device from the live roster
and start a call.

Examples:
  peercall host --relay ws://localhost:3000/ws
  RELAY_URL=wss://relay.example.com/ws peercall host --name Studio`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := hostFlags.load(protocol.RoleHost)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSession(ctx, cfg, hostFlags.headless)
	},
}

func init() {
	hostFlags.register(hostCmd)
	rootCmd.AddCommand(hostCmd)
}
