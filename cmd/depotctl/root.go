package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "depotctl",
	Short: "CLI for the asset depot server",
	Long: `depotctl talks to a depot server over its HTTP API.

Authenticate once with "depotctl login" and export the printed token as
DEPOT_TOKEN (or pass --token) for the remaining commands.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Depot server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (default: from DEPOT_TOKEN env)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(mergesCmd)
}

// resolvedToken returns the effective bearer token.
// Priority: --token flag > DEPOT_TOKEN env var.
func resolvedToken() string {
	if authToken != "" {
		return authToken
	}
	return os.Getenv("DEPOT_TOKEN")
}
