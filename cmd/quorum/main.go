package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Multi-agent request orchestrator",
	Long: `Quorum routes each request to one or more specialist agents,
runs them alone, in parallel or as a pipeline, and merges their output
into a single response.

Run "quorum serve" to start the orchestrator with its bus, HTTP API,
scheduler and optional Telegram bot. "quorum ask" submits a request to a
running server over NATS.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quorum %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
