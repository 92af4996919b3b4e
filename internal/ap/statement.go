package ap

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// StatementSummary totals a statement.
type StatementSummary struct {
	TotalInvoiced money.Money `json:"total_invoiced"`
	TotalPaid     money.Money `json:"total_paid"`
	Balance       money.Money `json:"balance"`
	Credit        money.Money `json:"credit"`
	Owed          money.Money `json:"owed"`
	OverdueCount  int         `json:"overdue_count"`
	OverdueAmount money.Money `json:"overdue_amount"`
}

// Statement is a printable snapshot of a supplier's account.
type Statement struct {
	Supplier Supplier         `json:"supplier"`
	AsOf     time.Time        `json:"as_of"`
	DateFrom *time.Time       `json:"date_from,omitempty"`
	DateTo   *time.Time       `json:"date_to,omitempty"`
	Invoices []Invoice        `json:"invoices"`
	Payments []PaymentOrder   `json:"payments"`
	Summary  StatementSummary `json:"summary"`
}

// BuildStatement projects the session onto the date range. Credit and owed
// always reflect the whole account.
func BuildStatement(s Session, from, to *time.Time) Statement {
	invoices := s.Ledger.List(InvoiceFilter{DateFrom: from, DateTo: to}, InvoiceSort{Key: SortByDate})
	payments := s.Payments.List(PaymentFilter{DateFrom: from, DateTo: to}, PaymentSort{Key: PaymentSortByDate})

	ranged := NewLedger(invoices)
	paid := money.Zero()
	for _, p := range payments {
		paid = paid.Add(p.Total())
	}
	aging := ranged.Aging(s.Today)
	return Statement{
		Supplier: s.Supplier,
		AsOf:     s.Today,
		DateFrom: from,
		DateTo:   to,
		Invoices: invoices,
		Payments: payments,
		Summary: StatementSummary{
			TotalInvoiced: ranged.TotalInvoiced(),
			TotalPaid:     paid,
			Balance:       ranged.TotalBalance(),
			Credit:        s.Advances.Credit(),
			Owed:          s.Owed(),
			OverdueCount:  aging.OverdueCount,
			OverdueAmount: aging.OverdueAmount,
		},
	}
}

var statementTemplate = template.Must(template.New("statement").Funcs(template.FuncMap{
	"amount": money.FormatMoney,
	"date": func(t time.Time) string {
		return t.Format(dateLayout)
	},
	"due": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(dateLayout)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Statement {{.Supplier.Name}}</title>
<style>
body { font-family: sans-serif; font-size: 11px; }
table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
th, td { border-bottom: 1px solid #ccc; padding: 4px; text-align: left; }
td.num, th.num { text-align: right; }
</style>
</head>
<body>
<h1>{{.Supplier.Name}}</h1>
<p>{{if .Supplier.TaxID}}Tax ID {{.Supplier.TaxID}} &middot; {{end}}As of {{date .AsOf}}</p>
<h2>Invoices</h2>
<table>
<tr><th>Number</th><th>Type</th><th>Issued</th><th>Due</th><th>Status</th><th class="num">Total</th><th class="num">Balance</th></tr>
{{range .Invoices}}<tr><td>{{.Number}}</td><td>{{.Type}}</td><td>{{date .IssueDate}}</td><td>{{due .DueDate}}</td><td>{{.Status}}</td><td class="num">{{amount .Total}}</td><td class="num">{{amount .Balance}}</td></tr>
{{end}}</table>
<h2>Payments</h2>
<table>
<tr><th>Number</th><th>Date</th><th>Notes</th><th class="num">Amount</th><th class="num">Advance</th></tr>
{{range .Payments}}<tr><td>{{.Number}}</td><td>{{date .Date}}</td><td>{{.Notes}}</td><td class="num">{{amount .Total}}</td><td class="num">{{amount .GeneratedAdvance}}</td></tr>
{{end}}</table>
<table>
<tr><th>Total invoiced</th><td class="num">{{amount .Summary.TotalInvoiced}}</td></tr>
<tr><th>Total paid</th><td class="num">{{amount .Summary.TotalPaid}}</td></tr>
<tr><th>Balance</th><td class="num">{{amount .Summary.Balance}}</td></tr>
<tr><th>Credit on account</th><td class="num">{{amount .Summary.Credit}}</td></tr>
<tr><th>Owed</th><td class="num">{{amount .Summary.Owed}}</td></tr>
<tr><th>Overdue ({{.Summary.OverdueCount}})</th><td class="num">{{amount .Summary.OverdueAmount}}</td></tr>
</table>
</body>
</html>
`))

// RenderStatementHTML renders the printable statement.
func RenderStatementHTML(st Statement) (string, error) {
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, st); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PDFRenderer converts HTML into a PDF document.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}
