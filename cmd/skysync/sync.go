package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/engine"
)

var (
	syncProvider  string
	syncDirection string
	syncCheckOnly bool
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local files with configured providers",
		Long: `Synchronize the local sync directory with configured providers. By
default every enabled provider is synced bidirectionally.

The sync command will:
  1. Enumerate local and remote files and compare both against the last
     synced state
  2. Upload, download, or propagate deletions for cleanly ordered changes
  3. Queue a conflict for any file that diverged on both sides
  4. Print a per-provider report

Conflicting files are never overwritten; resolve them with
'skysync conflicts'.`,
		Example: `  skysync sync
  skysync sync --provider backup-minio
  skysync sync --direction upload
  skysync sync --check-only`,
		RunE: syncRun,
	}

	cmd.Flags().StringVar(&syncProvider, "provider", "", "sync a single provider (default: all enabled)")
	cmd.Flags().StringVar(&syncDirection, "direction", "bidirectional", "sync direction (upload, download, bidirectional)")
	cmd.Flags().BoolVar(&syncCheckOnly, "check-only", false, "detect conflicts without transferring anything")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	connectEnabledProviders(cmd)

	if syncCheckOnly {
		conflicts, err := globalEngine.CheckForConflicts(cmd.Context(), syncProvider)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts detected.")
			return nil
		}
		fmt.Printf("%d pending conflict(s):\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Printf("  %s  %s\n", c.ID, c.Summary())
		}
		return nil
	}

	direction := engine.Direction(syncDirection)
	reports, err := globalEngine.SyncAll(cmd.Context(), syncProvider, direction)

	totalUploaded := 0
	totalDownloaded := 0
	totalDeleted := 0
	totalSkipped := 0
	totalFailed := 0
	totalConflicts := 0
	var totalBytes int64

	for name, report := range reports {
		totalUploaded += report.Uploaded
		totalDownloaded += report.Downloaded
		totalDeleted += report.Deleted
		totalSkipped += report.Skipped
		totalFailed += report.Failed
		totalConflicts += report.Conflicts
		totalBytes += report.BytesTransferred

		fmt.Printf("\n%s:\n", name)
		fmt.Printf("  Uploaded:    %d\n", report.Uploaded)
		fmt.Printf("  Downloaded:  %d\n", report.Downloaded)
		fmt.Printf("  Deleted:     %d\n", report.Deleted)
		fmt.Printf("  Skipped:     %d\n", report.Skipped)
		fmt.Printf("  Failed:      %d\n", report.Failed)
		fmt.Printf("  Conflicts:   %d\n", report.Conflicts)
		fmt.Printf("  Transferred: %s\n", humanize.IBytes(uint64(report.BytesTransferred)))
		fmt.Printf("  Duration:    %s\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	}

	fmt.Println("\n=== SYNC SUMMARY ===")
	fmt.Printf("Uploaded:    %d\n", totalUploaded)
	fmt.Printf("Downloaded:  %d\n", totalDownloaded)
	fmt.Printf("Deleted:     %d\n", totalDeleted)
	fmt.Printf("Skipped:     %d\n", totalSkipped)
	fmt.Printf("Failed:      %d\n", totalFailed)
	fmt.Printf("Conflicts:   %d\n", totalConflicts)
	fmt.Printf("Transferred: %s\n", humanize.IBytes(uint64(totalBytes)))

	if totalConflicts > 0 {
		fmt.Println("\nRun 'skysync conflicts list' to review pending conflicts.")
	}
	return err
}
