package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticktick-mcp",
	Short: "MCP server for the TickTick to-do API",
	Long: `ticktick-mcp exposes TickTick projects and tasks as MCP tools behind
an OAuth 2.1 authorization code + PKCE bridge.

It can run as:
  - A stdio MCP server for a single pre-authorized user
  - An OAuth-protected streamable HTTP server for multiple users`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ticktick-mcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
