package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var quotaProvider string

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show provider storage usage",
		Example: `  skysync quota
  skysync quota --provider backup-minio`,
		RunE: quotaRun,
	}
	cmd.Flags().StringVar(&quotaProvider, "provider", "", "show a single provider (default: all connected)")
	return cmd
}

func quotaRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	connectEnabledProviders(cmd)

	var targets []string
	if quotaProvider != "" {
		targets = []string{quotaProvider}
	} else {
		targets = globalRegistry.Names()
	}

	for _, name := range targets {
		q, err := globalEngine.GetStorageQuota(cmd.Context(), name)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			continue
		}
		fmt.Printf("%s:\n", name)
		fmt.Printf("  Used:      %s\n", humanize.IBytes(uint64(q.UsedBytes)))
		if q.TotalBytes > 0 {
			fmt.Printf("  Total:     %s\n", humanize.IBytes(uint64(q.TotalBytes)))
			fmt.Printf("  Available: %s\n", humanize.IBytes(uint64(q.AvailableBytes)))
		} else {
			fmt.Printf("  Total:     unlimited\n")
		}
	}
	return nil
}
