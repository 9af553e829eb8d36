package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/ticktick-mcp/internal/db"
)

func newCleanupCmd() *cobra.Command {
	var (
		dbPath        string
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune old audit events from the database",
		Long: `Delete audit events older than the retention window. Expired pending
authorizations and idempotency markers age out of the credential store by
TTL and need no sweeping; this command only prunes the durable audit log.

The serve command runs the same sweep periodically in-process, so cleanup
is only needed for servers that were down past their retention window or
for ad-hoc pruning with a shorter window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("db-path") {
				if val := os.Getenv("TICKTICK_MCP_DB_PATH"); val != "" {
					dbPath = val
				}
			}
			if retentionDays <= 0 {
				return fmt.Errorf("retention-days must be positive, got %d", retentionDays)
			}

			gdb, err := db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database %s: %w", dbPath, err)
			}

			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			n, err := db.NewAuditRepository(gdb).DeleteOlderThan(context.Background(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune audit events: %w", err)
			}

			fmt.Printf("Pruned %d audit events older than %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db-path", "ticktick-mcp.db", "Path to the SQLite database")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 90, "Delete audit events older than this many days")

	return cmd
}
