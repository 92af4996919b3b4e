package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/ap"
)

// StatementSource produces supplier statements.
type StatementSource interface {
	Statement(ctx context.Context, supplierID int64, from, to *time.Time) (ap.Statement, error)
	StatementPDF(ctx context.Context, supplierID int64, from, to *time.Time) ([]byte, error)
}

// StatementFormat selects the export encoding.
type StatementFormat string

const (
	FormatJSON StatementFormat = "json"
	FormatHTML StatementFormat = "html"
	FormatPDF  StatementFormat = "pdf"
)

// ExportOptions configures a statement export.
type ExportOptions struct {
	SupplierID int64
	From, To   string
	Format     StatementFormat
}

// ExportStatement writes the supplier's statement to out.
func ExportStatement(ctx context.Context, src StatementSource, opts ExportOptions, out io.Writer) error {
	if opts.SupplierID <= 0 {
		return fmt.Errorf("supplier id must be positive")
	}
	from, err := parseDay(opts.From)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := parseDay(opts.To)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if from != nil && to != nil && to.Before(*from) {
		return fmt.Errorf("to %s is before from %s", opts.To, opts.From)
	}

	switch StatementFormat(strings.ToLower(string(opts.Format))) {
	case FormatJSON, "":
		st, err := src.Statement(ctx, opts.SupplierID, from, to)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case FormatHTML:
		st, err := src.Statement(ctx, opts.SupplierID, from, to)
		if err != nil {
			return err
		}
		html, err := ap.RenderStatementHTML(st)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, html)
		return err
	case FormatPDF:
		pdf, err := src.StatementPDF(ctx, opts.SupplierID, from, to)
		if err != nil {
			return err
		}
		_, err = out.Write(pdf)
		return err
	default:
		return fmt.Errorf("unsupported format %q", opts.Format)
	}
}

func parseDay(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
