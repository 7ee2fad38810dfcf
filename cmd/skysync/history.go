package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/operation"
)

var (
	historyProvider string
	historyLimit    int
	historySince    string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past and in-flight sync operations",
		Example: `  skysync history
  skysync history --provider backup-minio --limit 20
  skysync history --since 24h`,
		RunE: historyRun,
	}
	cmd.Flags().StringVar(&historyProvider, "provider", "", "filter by provider")
	cmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries to show")
	cmd.Flags().StringVar(&historySince, "since", "", "only show operations newer than this duration (e.g. 24h)")
	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	f := operation.HistoryFilter{
		Provider: historyProvider,
		Limit:    historyLimit,
	}
	if historySince != "" {
		d, err := time.ParseDuration(historySince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		f.Since = time.Now().Add(-d)
	}

	ops, err := globalEngine.GetSyncHistory(f)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(ops) == 0 {
		fmt.Println("No operations recorded.")
		return nil
	}

	for _, op := range ops {
		fmt.Printf("%s  %-8s  %-9s  %s\n", op.CreatedAt.Format(time.RFC3339), op.Type, op.Status, op.RemotePath)
		fmt.Printf("  Provider: %s, progress %.0f%%, %s", op.Provider, op.Progress*100, humanize.IBytes(uint64(op.BytesTransferred)))
		if op.TotalBytes > 0 {
			fmt.Printf(" of %s", humanize.IBytes(uint64(op.TotalBytes)))
		}
		fmt.Println()
		if op.ErrorMessage != "" {
			fmt.Printf("  Error: %s\n", op.ErrorMessage)
		}
	}
	return nil
}
