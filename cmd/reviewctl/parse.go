package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/postreview/internal/app"
	"github.com/ashureev/postreview/internal/domain"
)

func newParseCmd() *cobra.Command {
	var (
		useBackends bool
		dual        bool
		refPath     string
	)

	cmd := &cobra.Command{
		Use:   "parse <message>",
		Short: "Print the intent parsed from a reviewer message",
		Long:  "Parses a reviewer message with the rule-based parser and prints the intent as JSON. --backends also asks the configured model backends to refine it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := strings.Join(args, " ")
			in, err := runParse(cmd, msg, useBackends, dual, refPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(in)
		},
	}

	cmd.Flags().BoolVar(&useBackends, "backends", false, "refine the intent with configured model backends")
	cmd.Flags().BoolVar(&dual, "dual", false, "query both backends (with --backends)")
	cmd.Flags().StringVar(&refPath, "reference", "", "reference data file (default: embedded catalog)")
	return cmd
}

func runParse(cmd *cobra.Command, msg string, useBackends, dual bool, refPath string) (*domain.Intent, error) {
	catalog, err := app.LoadCatalog(refPath)
	if err != nil {
		return nil, err
	}
	if !useBackends {
		return app.NewParser(catalog, nil, false, nil).ParseRules(msg), nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	gw, _ := app.NewGateway(cfg, logger)
	parser := app.NewParser(catalog, gw, true, logger)
	return parser.ParseWithRoute(cmd.Context(), msg, dual), nil
}
