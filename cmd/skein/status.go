package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync divergence and pending local changes",
	Long: `Show how far the local sync branch is ahead of and behind the remote,
and how many records were touched since the last successful sync.

Pending conflicts are always zero: resolution is synchronous and
automatic during sync, never queued for user action.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, store, _, err := setup(false)
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := eng.Status(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("%s sync status\n", ui.RenderAccent("skein"))
		fmt.Printf("  ahead:             %d\n", st.Ahead)
		fmt.Printf("  behind:            %d\n", st.Behind)
		fmt.Printf("  dirty records:     %d\n", st.Dirty)
		fmt.Printf("  pending conflicts: %d\n", st.PendingConflicts)

		if st.Behind > 0 || st.Dirty > 0 {
			fmt.Printf("\n%s run 'skein sync' to converge\n", ui.RenderDim("hint:"))
		}
		return nil
	},
}
