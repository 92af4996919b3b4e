package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/supplier-ledger/internal/app"
)

var version = "dev"

type rootOptions struct {
	cfg    *app.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the supplier ledger: export statements and manage background jobs",
		Long: `ledgerctl talks to the same PostgreSQL, Redis and Gotenberg instances as the
API server. Configuration comes from the environment, optionally seeded from a
.env file in the working directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.AddCommand(newStatementCmd(opts), newJobsCmd(opts))
	return root
}
