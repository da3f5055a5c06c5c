package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/agentgateway/cmd.Version=v1.0.0"
var Version = "dev"

var (
	envFile string
	port    int
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agentgateway",
	Short: "agentgateway — a local WebSocket gateway in front of an interactive coding agent",
	Long:  "agentgateway drives a locally-installed interactive coding agent CLI from a browser UI over a single WebSocket connection, with project discovery, session history, and a filesystem watcher for live updates.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", "path to a .env-style file (default: .env in the working directory)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "override the bound port")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentgateway %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
