package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-provider sync status",
		Example: `  skysync status
  skysync status --log-level debug`,
		RunE: statusRun,
	}
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	statuses := globalEngine.GetSyncStatus()
	if len(statuses) == 0 {
		fmt.Println("No providers configured.")
		return nil
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := statuses[name]
		connected := "disconnected"
		if st.Connected {
			connected = "connected"
		}
		fmt.Printf("%s:\n", name)
		fmt.Printf("  State:      %s (%s)\n", st.State, connected)
		if !st.LastSync.IsZero() {
			fmt.Printf("  Last sync:  %s\n", humanize.Time(st.LastSync))
		} else {
			fmt.Printf("  Last sync:  never\n")
		}
		if st.LastError != "" {
			fmt.Printf("  Last error: %s\n", st.LastError)
		}
		fmt.Printf("  Conflicts:  %d pending\n", st.PendingConflicts)
	}

	if globalEngine.IsSyncPaused() {
		fmt.Println("\nSync is PAUSED.")
	}
	if globalEngine.IsAutoSyncEnabled() {
		fmt.Printf("\nAuto-sync enabled, interval %s.\n", globalEngine.GetSyncInterval())
	}
	return nil
}
