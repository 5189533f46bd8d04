package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pxl8/controlplane/internal/ledger"
)

// NewIdempotencyCommand creates the idempotency record maintenance command
func NewIdempotencyCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Manage idempotency records",
		Long:  "Inspect and purge the stored allocate/report idempotency records",
	}

	cmd.AddCommand(newIdempotencyPurgeCommand(ctx))

	return cmd
}

func newIdempotencyPurgeCommand(ctx context.Context) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge old idempotency records",
		Long:  "Delete idempotency records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			database, err := openDB()
			if err != nil {
				return err
			}

			store := ledger.NewGormStore(database)
			purged, err := store.PurgeIdempotency(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}

			fmt.Printf("Purged %d idempotency record(s)\n", purged)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Delete records older than this duration")

	return cmd
}
