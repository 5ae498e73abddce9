// Package main implements viewer, a terminal client that follows a live demo
// the way the embedded page does.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the webhook service.
	serverURL string
	verbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Follow a live demo's realtime events",
	Long: `viewer subscribes to a demo's realtime channel, runs the same state machine
as the embedded player and pulls analytics whenever they change.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "webhook service URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection details")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(analyticsCmd)
}
