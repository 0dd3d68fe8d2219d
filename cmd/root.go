package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/peercall/internal/ui"
	"github.com/BioHazard786/peercall/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "peercall",
	Short: "Peer-to-peer audio/video calls with a tiny signaling relay",
	Long: `peercall connects a host to one of several registered devices over WebRTC.

A small relay forwards the JSON signaling messages (registration, roster,
offer, answer and ICE candidates) between connections; media flows directly
between the peers once negotiation completes.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
