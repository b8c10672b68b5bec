// Package cmd implements the gatewaycore command-line entrypoint: a
// single "run the gateway" command plus a version printer, following the
// teacher's cobra-based root command layout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaycrew/gatewaycore/pkg/protocol"
)

// Version is set at build time via -ldflags; "dev" otherwise.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatewaycore",
	Short: "gatewaycore — personal assistant gateway",
	Long: "gatewaycore runs the agent gateway: a WebSocket RPC server that " +
		"authenticates connections, dispatches agent turns through the Agent " +
		"Runtime, and broadcasts Event Bus activity to every connected client.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $GATEWAY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewaycore %s (protocol %d-%d)\n", Version, protocol.ProtocolMin, protocol.ProtocolMax)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GATEWAY_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
