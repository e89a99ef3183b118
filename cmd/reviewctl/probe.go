package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/postreview/internal/app"
)

func newProbeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that configured model backends are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw, _ := app.NewGateway(cfg, app.NewLogger(os.Stderr, cfg.LogLevel))
			if !gw.Configured() {
				return fmt.Errorf("no model backend configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			results := gw.Probe(ctx)

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range names {
				r := results[name]
				if r.Available {
					fmt.Fprintf(out, "%-8s ok      %s\n", name, r.Latency.Round(time.Millisecond))
					continue
				}
				failed++
				fmt.Fprintf(out, "%-8s failed  %s\n", name, r.Error)
			}
			if failed == len(names) {
				return fmt.Errorf("no backend available")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall probe deadline")
	return cmd
}
