package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

// For testing
var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "llm-relay",
	Short: "A transparent relay for OpenAI-compatible APIs",
	Long: `llm-relay forwards OpenAI-style API requests to a configurable
upstream, records a bounded log of recent requests, and exposes an
admin API for runtime configuration and monitoring.`,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
