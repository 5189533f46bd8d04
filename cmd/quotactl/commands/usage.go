package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/pxl8/controlplane/internal/models"
)

// NewUsageCommand creates the usage inspection command
func NewUsageCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect consumed quota",
		Long:  "Show the durable usage totals aggregated across data planes",
	}

	cmd.AddCommand(newUsageShowCommand(ctx))

	return cmd
}

func newUsageShowCommand(ctx context.Context) *cobra.Command {
	var tenantID, periodID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show usage totals",
		Long:  "Show consumed and outstanding quota for a tenant's billing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			SetOutputJSON(jsonOut)

			if tenantID == "" || periodID == "" {
				return fmt.Errorf("--tenant and --period are required")
			}
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			pid, err := uuid.Parse(periodID)
			if err != nil {
				return fmt.Errorf("invalid period id: %w", err)
			}

			database, err := openDB()
			if err != nil {
				return err
			}

			var usage models.PeriodUsage
			err = database.WithContext(ctx).
				Where("tenant_id = ? AND period_id = ?", tid, pid).
				First(&usage).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				usage = models.PeriodUsage{TenantID: tid, PeriodID: pid}
			} else if err != nil {
				return fmt.Errorf("failed to load usage: %w", err)
			}

			var leases []models.Lease
			if err := database.WithContext(ctx).
				Where("tenant_id = ? AND period_id = ? AND state = ?", tid, pid, models.LeaseStateActive).
				Find(&leases).Error; err != nil {
				return fmt.Errorf("failed to load leases: %w", err)
			}

			now := time.Now().UTC()
			var outBW, outTF int64
			for _, l := range leases {
				if l.Outstanding(now) {
					outBW += l.BandwidthGrantedBytes
					outTF += l.TransformsGranted
				}
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"tenant_id":                   tid,
					"period_id":                   pid,
					"bandwidth_used_bytes":        usage.BandwidthUsedBytes,
					"transforms_used":             usage.TransformsUsed,
					"outstanding_bandwidth_bytes": outBW,
					"outstanding_transforms":      outTF,
				})
			}

			w := newTabWriter()
			fmt.Fprintf(w, "Tenant:\t%s\n", tid)
			fmt.Fprintf(w, "Period:\t%s\n", pid)
			fmt.Fprintf(w, "Bandwidth used:\t%d bytes\n", usage.BandwidthUsedBytes)
			fmt.Fprintf(w, "Transforms used:\t%d\n", usage.TransformsUsed)
			fmt.Fprintf(w, "Outstanding bandwidth:\t%d bytes\n", outBW)
			fmt.Fprintf(w, "Outstanding transforms:\t%d\n", outTF)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&periodID, "period", "", "Billing period ID (required)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
