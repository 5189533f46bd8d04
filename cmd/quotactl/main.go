package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pxl8/controlplane/cmd/quotactl/commands"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	rootCmd := &cobra.Command{
		Use:   "quotactl",
		Short: "Control plane quota administration",
		Long:  "Inspect and maintain the quota ledger: leases, usage totals, expiry sweeps, and idempotency records",
	}

	rootCmd.AddCommand(commands.NewLeaseCommand(ctx))
	rootCmd.AddCommand(commands.NewUsageCommand(ctx))
	rootCmd.AddCommand(commands.NewSweepCommand(ctx))
	rootCmd.AddCommand(commands.NewIdempotencyCommand(ctx))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
