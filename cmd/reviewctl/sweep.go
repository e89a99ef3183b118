package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/postreview/internal/store"
)

func newSweepCmd() *cobra.Command {
	var (
		dbPath string
		idle   time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete idle review session snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath
			}
			if idle <= 0 {
				idle = cfg.SessionIdleTimeout
			}
			before := time.Now().Add(-idle)
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would delete sessions idle since %s in %s\n", before.Format(time.RFC3339), dbPath)
				return nil
			}

			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			n, err := repo.DeleteIdleSessions(cmd.Context(), before)
			if err != nil {
				return fmt.Errorf("sweep sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d idle sessions\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (default: DB_PATH)")
	cmd.Flags().DurationVar(&idle, "idle", 0, "idle threshold (default: SESSION_IDLE_TIMEOUT)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be deleted")
	return cmd
}
