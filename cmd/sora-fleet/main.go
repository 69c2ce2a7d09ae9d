// ABOUTME: Entry point for the sora-fleet CLI.
// ABOUTME: Orchestrates a fleet of polling clients against the code distribution service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "sora-fleet",
	Short: "Run a fleet of clients polling for invite codes",
	Long: `sora-fleet operates many independent clients against the same code
distribution service. Each client respects the rate limit the server
assigns it, every discovered code is reported exactly once across the
whole fleet, and a single interrupt winds the entire fleet down.

Quick start:

  sora-fleet run -n 50          # 50 clients, stop at the first code
  sora-fleet run --continuous   # keep collecting codes until interrupted`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sora-fleet %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}
