package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/postreview/internal/store"
)

func newLearnedCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "learned <field>",
		Short: "List values learned from reviewer corrections",
		Long:  "Lists the values reviewers introduced when correcting a record field (locations, people, schemes, ...), most frequent first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}

			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			values, err := repo.LearnedValues(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list learned values: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(values) == 0 {
				fmt.Fprintf(out, "nothing learned for %s\n", args[0])
				return nil
			}
			for _, v := range values {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (default: DB_PATH)")
	return cmd
}
