package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize records with the remote sync branch",
	Long: `Run one sync cycle: fetch the remote sync branch, diff against the
last sync point, resolve divergent records deterministically, commit the
merged state, and publish it.

Divergent records are resolved last-writer-wins; the losing edit is
always preserved in the attic and reported, never silently discarded.

Use --pull-only to adopt remote changes without publishing.
Use --push-only to publish local changes without adopting remote ones
(fails if the remote advanced; run a full sync instead).
Use --dry-run to see what a full sync would do without writing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pullOnly, _ := cmd.Flags().GetBool("pull-only")
		pushOnly, _ := cmd.Flags().GetBool("push-only")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if pullOnly && pushOnly {
			return fmt.Errorf("--pull-only and --push-only are mutually exclusive")
		}
		if dryRun && (pullOnly || pushOnly) {
			return fmt.Errorf("--dry-run previews a full sync and cannot be combined with mode flags")
		}

		mode := engine.ModeFull
		if pullOnly {
			mode = engine.ModePullOnly
		}
		if pushOnly {
			mode = engine.ModePushOnly
		}

		eng, store, _, err := setup(false)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if dryRun {
			summary, err := eng.Preview(ctx)
			if err != nil {
				return err
			}
			printSummary(summary)
			fmt.Printf("%s Dry run: nothing was written\n", ui.RenderDim("·"))
			return nil
		}

		summary, err := eng.Sync(ctx, mode)
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("pull-only", false, "adopt remote changes without publishing")
	syncCmd.Flags().Bool("push-only", false, "publish local changes without adopting remote ones")
	syncCmd.Flags().Bool("dry-run", false, "preview a full sync without writing anything")
}

func printSummary(s *engine.Summary) {
	fmt.Printf("  pulled:   %d\n", s.Pulled)
	fmt.Printf("  pushed:   %d\n", s.Pushed)
	fmt.Printf("  resolved: %d\n", s.Resolved)

	for _, c := range s.Conflicts {
		fmt.Printf("  %s %s: v%d beat v%d (%s), loser archived at %s\n",
			ui.RenderWarn("⚡"), c.RecordID, c.WinnerVersion, c.LoserVersion,
			c.Reason, ui.RenderDim(c.AtticRef))
	}
	for _, e := range s.Errors {
		fmt.Printf("  %s %s: %s\n", ui.RenderErr("✗"), e.RecordID, e.Err)
	}
}
