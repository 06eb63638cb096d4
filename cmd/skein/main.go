// Command skein synchronizes issue records across clones of a git
// repository through a dedicated sync branch and a private checkout.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/logging"
	"github.com/skeinhq/skein/internal/state"
	"github.com/skeinhq/skein/internal/worktree"
)

var version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Sync issue records across repository clones",
	Long: `skein keeps issue records (one JSON file per record) in sync across
independent clones of a repository. Records live on a dedicated sync
branch, materialized through a private checkout so sync bookkeeping
never touches your working tree. Divergent edits are resolved
deterministically (last writer wins) and every losing edit is preserved
in the attic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the skein version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("skein %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(atticCmd)
	rootCmd.AddCommand(daemonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup wires the engine for the repository containing the working
// directory. The caller must Close() the returned store.
func setup(quiet bool) (*engine.Engine, *state.Store, *worktree.Manager, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, nil, err
	}

	repoRoot, err := worktree.RepoRoot(cwd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := config.Init(repoRoot); err != nil {
		return nil, nil, nil, err
	}

	logger := logging.New("[skein] ", logging.Options{
		File:       config.GetString("log.file"),
		MaxSizeMB:  config.GetInt("log.max_size_mb"),
		MaxBackups: config.GetInt("log.max_backups"),
		Quiet:      quiet,
	})

	wt, err := worktree.New(cwd,
		config.GetString("sync.branch"),
		config.GetString("sync.remote"),
		logger)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := state.Open(filepath.Join(repoRoot, ".skein", "state.db"))
	if err != nil {
		return nil, nil, nil, err
	}

	opts := engine.DefaultOptions()
	opts.PublishRetries = config.GetInt("sync.retries")
	opts.NetRetries = config.GetInt("sync.net_retries")
	opts.NetTimeout = config.GetDuration("sync.timeout")
	opts.Backoff = config.GetDuration("sync.backoff")
	opts.LockPath = filepath.Join(repoRoot, ".skein", "sync.lock")
	opts.Logger = logger

	return engine.New(wt, store, opts), store, wt, nil
}
