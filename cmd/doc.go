// Package cmd implements the command-line interface for ticktick-mcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server (stdio or streamable-http transport)
//   - cleanup: Prune audit events older than the retention window
//   - version: Display version information
package cmd
