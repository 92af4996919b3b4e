package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/supplier-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/supplier-ledger/internal/app"
)

func newStatementCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Supplier statements",
	}

	var export cli.ExportOptions
	var format, output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a supplier statement as JSON, HTML or PDF",
		Example: `  ledgerctl statement export --supplier 12
  ledgerctl statement export --supplier 12 --from 2025-01-01 --to 2025-03-31 --format pdf -o acme-q1.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ledger, err := app.OpenLedger(ctx, opts.cfg, opts.logger, nil)
			if err != nil {
				return err
			}
			defer ledger.Close(opts.logger)

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			export.Format = cli.StatementFormat(format)
			return cli.ExportStatement(ctx, ledger.Service, export, out)
		},
	}
	exportCmd.Flags().Int64Var(&export.SupplierID, "supplier", 0, "supplier id")
	exportCmd.Flags().StringVar(&export.From, "from", "", "first day, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&export.To, "to", "", "last day, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&format, "format", string(cli.FormatJSON), "json, html or pdf")
	exportCmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	_ = exportCmd.MarkFlagRequired("supplier")

	cmd.AddCommand(exportCmd)
	return cmd
}
