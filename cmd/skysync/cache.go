package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the checksum cache and operation history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "clean",
		Short:   "Purge the checksum cache and prune old operations",
		Example: "  skysync cache clean",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalEngine == nil {
				return fmt.Errorf("sync engine not initialized")
			}
			evicted := globalEngine.CleanupCache()
			fmt.Printf("Evicted %d cached checksum(s).\n", evicted)
			return nil
		},
	})
	return cmd
}
