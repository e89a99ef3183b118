// reviewctl is the operator CLI for the post review engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/postreview/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Operate the post review engine",
		Long:          "reviewctl parses reviewer messages, probes model backends, sweeps idle review sessions and lists learned values.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newLearnedCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reviewctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

// loadConfig reads .env when present and returns the validated configuration.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

