package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pxl8/controlplane/internal/ledger"
)

// NewSweepCommand creates the one-shot sweep command. It runs the same
// reclamation pass as the server's background sweeper, without the
// distributed lock, which is useful after downtime or in migrations.
func NewSweepCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim overdue leases",
		Long:  "Flip active leases past their deadline to the expired state",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}

			store := ledger.NewGormStore(database)
			swept, err := store.ExpireLeases(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			fmt.Printf("Expired %d lease(s)\n", swept)
			return nil
		},
	}

	return cmd
}
