package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pxl8/controlplane/internal/models"
)

// NewLeaseCommand creates the lease inspection command
func NewLeaseCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect budget leases",
		Long:  "List and inspect the budget leases held by data planes",
	}

	cmd.AddCommand(newLeaseListCommand(ctx))

	return cmd
}

func newLeaseListCommand(ctx context.Context) *cobra.Command {
	var tenantID, periodID, state string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases",
		Long:  "List leases for a tenant and billing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			SetOutputJSON(jsonOut)

			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}

			database, err := openDB()
			if err != nil {
				return err
			}

			query := database.WithContext(ctx).Where("tenant_id = ?", tid)
			if periodID != "" {
				pid, err := uuid.Parse(periodID)
				if err != nil {
					return fmt.Errorf("invalid period id: %w", err)
				}
				query = query.Where("period_id = ?", pid)
			}
			if state != "" {
				query = query.Where("state = ?", state)
			}

			var leases []models.Lease
			if err := query.Order("granted_at DESC").Find(&leases).Error; err != nil {
				return fmt.Errorf("failed to list leases: %w", err)
			}

			if outputJSON {
				return printJSON(leases)
			}

			now := time.Now().UTC()
			w := newTabWriter()
			fmt.Fprintln(w, "ID\tPERIOD\tDATA PLANE\tSTATE\tBANDWIDTH\tTRANSFORMS\tEXPIRES")
			for _, l := range leases {
				expires := l.ExpiresAt.Format(time.RFC3339)
				if l.State == models.LeaseStateActive && l.IsExpired(now) {
					expires += " (overdue)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					l.ID, l.PeriodID, l.DataplaneID, l.State,
					l.BandwidthGrantedBytes, l.TransformsGranted, expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&periodID, "period", "", "Billing period ID")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (active, reconciled, expired)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
