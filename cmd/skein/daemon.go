package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/daemon"
	"github.com/skeinhq/skein/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch record files and maintain the dirty set",
	Long: `Run the watch daemon in the foreground. The daemon watches the private
checkout's record directory, marks changed records dirty, and optionally
runs a periodic full sync (daemon.interval config key).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, store, wt, err := setup(true)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The checkout must exist before it can be watched.
		if err := wt.Checkout(ctx); err != nil {
			return err
		}

		cfg := daemon.DefaultConfig()
		cfg.Debounce = config.GetDuration("daemon.debounce")
		cfg.SyncInterval = config.GetDuration("daemon.interval")
		cfg.Logger = logging.New("[daemon] ", logging.Options{
			File:       config.GetString("log.file"),
			MaxSizeMB:  config.GetInt("log.max_size_mb"),
			MaxBackups: config.GetInt("log.max_backups"),
		})

		d, err := daemon.New(eng, store, wt.RecordsDir(), cfg)
		if err != nil {
			return err
		}

		return d.Start(ctx)
	},
}
