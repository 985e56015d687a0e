// Package main provides the object-finder command line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/objectfinder/object-finder/internal/client"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "object-finder",
		Short: "Object Finder - ask where you left things",
		Long: `object-finder talks to a running Object Finder server.

Teach it objects, upload home recordings, then ask:
  object-finder objects add keys --alias "car keys, keychain"
  object-finder upload kitchen.mp4
  object-finder search "where are my keys"`,
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("OBJFINDER_URL")
	if defaultServer == "" {
		defaultServer = client.DefaultBaseURL
	}

	rootCmd.PersistentFlags().StringP("server", "s", defaultServer, "server URL (env OBJFINDER_URL)")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")
	rootCmd.PersistentFlags().Duration("timeout", 11*time.Minute, "request timeout")

	rootCmd.AddCommand(
		searchCmd(),
		historyCmd(),
		suggestionsCmd(),
		objectsCmd(),
		uploadCmd(),
		statusCmd(),
		healthCmd(),
		metricsCmd(),
		cacheCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newClient builds an API client from the global flags.
func newClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(client.Config{BaseURL: server, Timeout: timeout})
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandContext bounds a command by its request timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("object-finder %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
