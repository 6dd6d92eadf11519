package main

import (
	"fmt"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/db"
	"lompapi/internal/logger"
	"lompapi/internal/ratewindow"
	"lompapi/internal/scheduler"

	"github.com/spf13/cobra"
)

func newWindowsCmd(load configLoader) *cobra.Command {
	windowsCmd := &cobra.Command{
		Use:   "windows",
		Short: "Maintain rate limit windows",
	}

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete rate windows that started before now minus --older-than",
		Long: `Delete stale rate windows from the database. Windows older than one minute never
affect admission. The current window is always kept. Redis windows expire on their own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Gate.WindowBackend != config.BackendSQL {
				fmt.Fprintf(cmd.OutOrStdout(), "window backend %q keeps no database rows, nothing to purge\n", cfg.Gate.WindowBackend)
				return nil
			}
			dbService, err := db.NewService(cfg.Database)
			if err != nil {
				return fmt.Errorf("error initializing database: %w", err)
			}
			defer dbService.Close()

			s := scheduler.NewScheduler(ratewindow.NewSQLStore(dbService),
				config.SchedulerConfig{PurgeOlderThan: olderThan}, logger.Console(cfg.Debug))
			n, err := s.PurgeWindows(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d rate windows\n", n)
			return nil
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Minimum age of the windows to delete")

	windowsCmd.AddCommand(purgeCmd)
	return windowsCmd
}
