package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/logging"
	"github.com/skeinhq/skein/internal/ui"
	"github.com/skeinhq/skein/internal/worktree"
)

const defaultConfigYAML = `# skein configuration
sync:
  branch: skein-sync
  remote: origin
  retries: 5
  timeout: 30s

daemon:
  debounce: 200ms
  # interval: 5m   # uncomment to enable periodic auto-sync

log:
  file: ""
  max_size_mb: 10
  max_backups: 3
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize skein in the current repository",
	Long: `Create the .skein directory with a default configuration, create the
dedicated sync branch, and materialize the private checkout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		repoRoot, err := worktree.RepoRoot(cwd)
		if err != nil {
			return err
		}

		skeinDir := filepath.Join(repoRoot, ".skein")
		if err := os.MkdirAll(skeinDir, 0755); err != nil {
			return fmt.Errorf("failed to create .skein directory: %w", err)
		}

		configPath := filepath.Join(skeinDir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), configPath)
		}

		if err := config.Init(repoRoot); err != nil {
			return err
		}

		logger := logging.New("[skein] ", logging.Options{})
		wt, err := worktree.New(cwd,
			config.GetString("sync.branch"),
			config.GetString("sync.remote"),
			logger)
		if err != nil {
			return err
		}
		if err := wt.Checkout(context.Background()); err != nil {
			return err
		}

		fmt.Printf("%s Sync branch %q checked out at %s\n",
			ui.RenderPass("✓"), wt.Branch(), ui.RenderDim(wt.Path()))
		fmt.Println("  run 'skein sync' to synchronize with the remote")
		return nil
	},
}
