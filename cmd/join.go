package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/peercall/internal/protocol"
)

var joinFlags clientFlags

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"user"},
	Short:   "Register as a device and answer the host's call",
	Long: `Register with the relay as a user device and answer when the host
calls this device.

Examples:
  peercall join --relay ws://localhost:3000/ws --name Kitchen
  peercall join --headless`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := joinFlags.load(protocol.RoleUser)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSession(ctx, cfg, joinFlags.headless)
	},
}

func init() {
	joinFlags.register(joinCmd)
	rootCmd.AddCommand(joinCmd)
}
