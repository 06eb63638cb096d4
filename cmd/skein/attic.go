package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/ui"
)

var atticCmd = &cobra.Command{
	Use:   "attic",
	Short: "Inspect and restore superseded record versions",
	Long: `Every conflict resolved during sync archives the losing record version
in the attic. Nothing in the attic is ever deleted by normal operation;
restore re-issues an archived payload as a new current version.`,
}

var atticListCmd = &cobra.Command{
	Use:   "list [record-id]",
	Short: "List attic entries, oldest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, store, _, err := setup(false)
		if err != nil {
			return err
		}
		defer store.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}

		entries, err := eng.ListAttic(context.Background(), id)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("attic is empty")
			return nil
		}

		recordIDs := make([]string, 0, len(entries))
		for rid := range entries {
			recordIDs = append(recordIDs, rid)
		}
		sort.Strings(recordIDs)

		for _, rid := range recordIDs {
			fmt.Printf("%s\n", ui.RenderAccent(rid))
			for _, entry := range entries[rid] {
				fmt.Printf("  v%-3d %s  %s  %s\n",
					entry.Version,
					entry.ArchivedAt.Format("2006-01-02 15:04:05"),
					entry.Reason,
					ui.RenderDim(entry.EntryRef))
			}
		}
		return nil
	},
}

var atticRestoreCmd = &cobra.Command{
	Use:   "restore <entry-ref>",
	Short: "Restore an archived version as a new current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, store, _, err := setup(false)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := eng.RestoreAttic(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Restored %s at version %d (%q)\n",
			ui.RenderPass("✓"), rec.ID, rec.Version, rec.Title)
		fmt.Println("  run 'skein sync' to publish the restored version")
		return nil
	},
}

func init() {
	atticCmd.AddCommand(atticListCmd)
	atticCmd.AddCommand(atticRestoreCmd)
}
