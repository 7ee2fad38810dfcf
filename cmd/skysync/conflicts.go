package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skysync/skysync/internal/conflict"
	"github.com/skysync/skysync/internal/resolve"
)

var (
	conflictsProvider string
	resolveInputFile  string
	autoStrategy      string
)

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List and resolve sync conflicts",
		Long: `Manage files that diverged on both sides since the last sync. Conflicts
are queued during sync instead of being overwritten; each must be resolved
explicitly or by an auto-resolve strategy.`,
	}

	cmd.AddCommand(
		newConflictsListCmd(),
		newConflictsResolveCmd(),
		newConflictsAutoCmd(),
	)
	return cmd
}

func newConflictsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending conflicts",
		Example: `  skysync conflicts list
  skysync conflicts list --provider backup-minio`,
		RunE: conflictsListRun,
	}
	cmd.Flags().StringVar(&conflictsProvider, "provider", "", "filter by provider")
	return cmd
}

func conflictsListRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	pending := globalEngine.GetPendingConflicts(conflictsProvider)
	if len(pending) == 0 {
		fmt.Println("No pending conflicts.")
		return nil
	}

	fmt.Printf("%d pending conflict(s):\n\n", len(pending))
	for _, c := range pending {
		fmt.Printf("%s\n", c.ID)
		fmt.Printf("  Path:      %s (%s)\n", c.FilePath, c.Provider)
		fmt.Printf("  Type:      %s, severity %s\n", c.Type, c.Severity)
		fmt.Printf("  Detected:  %s\n", humanize.Time(c.DetectedAt))
		if c.Local.Exists {
			fmt.Printf("  Local:     %s, modified %s\n", humanize.IBytes(uint64(c.Local.Size)), humanize.Time(c.Local.ModifiedAt))
		} else {
			fmt.Printf("  Local:     missing\n")
		}
		if c.Remote.Exists {
			fmt.Printf("  Remote:    %s, modified %s\n", humanize.IBytes(uint64(c.Remote.Size)), humanize.Time(c.Remote.ModifiedAt))
		} else {
			fmt.Printf("  Remote:    missing\n")
		}
		fmt.Printf("  Suggested: %s\n\n", conflict.SuggestResolution(c))
	}
	return nil
}

func newConflictsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id> <resolution>",
		Short: "Resolve one conflict",
		Long: `Resolve one conflict by ID. Valid resolutions are keep_local,
keep_remote, keep_both, merge, and manual. For merge, --input-file supplies
pre-merged content; without it the two text versions are merged line-wise.`,
		Example: `  skysync conflicts resolve 4f1c9a keep_local
  skysync conflicts resolve 4f1c9a merge --input-file merged.txt`,
		Args: cobra.ExactArgs(2),
		RunE: conflictsResolveRun,
	}
	cmd.Flags().StringVar(&resolveInputFile, "input-file", "", "file with user-supplied merged content")
	return cmd
}

func conflictsResolveRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	conflictID := args[0]
	resolution := conflict.Resolution(args[1])

	var userInput string
	if resolveInputFile != "" {
		data, err := os.ReadFile(resolveInputFile)
		if err != nil {
			return fmt.Errorf("reading input file: %w", err)
		}
		userInput = string(data)
	}

	connectEnabledProviders(cmd)

	res, err := globalEngine.ResolveConflict(cmd.Context(), conflictID, resolution, userInput)
	if err != nil {
		return err
	}

	printResolveResult(res)
	if !res.Success && !res.RequiresUserInput {
		return fmt.Errorf("resolution failed")
	}
	return nil
}

func newConflictsAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Auto-resolve pending conflicts by strategy",
		Long: `Apply an auto-resolve strategy to every pending conflict. Strategies:
  conservative         resolve only low-severity conflicts, defer the rest
  favor_local          keep the local version
  favor_remote         keep the remote version
  favor_newer          keep whichever side was modified last
  keep_both_when_unsure never defer; keep both copies when in doubt`,
		Example: `  skysync conflicts auto --strategy conservative
  skysync conflicts auto --strategy favor_newer`,
		RunE: conflictsAutoRun,
	}
	cmd.Flags().StringVar(&autoStrategy, "strategy", string(resolve.StrategyConservative), "auto-resolve strategy")
	return cmd
}

func conflictsAutoRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("sync engine not initialized")
	}

	connectEnabledProviders(cmd)

	results, err := globalEngine.AutoResolveConflicts(cmd.Context(), resolve.Strategy(autoStrategy))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No pending conflicts.")
		return nil
	}

	resolved := 0
	deferred := 0
	failed := 0
	for _, res := range results {
		printResolveResult(res)
		switch {
		case res.Success:
			resolved++
		case res.RequiresUserInput:
			deferred++
		default:
			failed++
		}
	}

	fmt.Printf("\nResolved %d, deferred %d, failed %d.\n", resolved, deferred, failed)
	return nil
}

func printResolveResult(res resolve.Result) {
	switch {
	case res.Success:
		fmt.Printf("RESOLVED  %s: %s (%s)\n", res.ConflictID, res.Message, res.Action)
		for _, f := range res.AdditionalFiles {
			fmt.Printf("          created %s\n", f)
		}
	case res.RequiresUserInput:
		fmt.Printf("DEFERRED  %s: %s\n", res.ConflictID, res.Message)
	default:
		fmt.Printf("FAILED    %s: %s\n", res.ConflictID, res.Message)
	}
}
