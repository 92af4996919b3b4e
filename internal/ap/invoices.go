package ap

import (
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// DueSoonWindow is the horizon for the due-soon aging bucket.
const DueSoonWindow = 7 * 24 * time.Hour

// InvoiceSortKey selects the invoice ordering.
type InvoiceSortKey string

const (
	SortByDate    InvoiceSortKey = "date"
	SortByTotal   InvoiceSortKey = "total"
	SortByBalance InvoiceSortKey = "balance"
	SortByDueDate InvoiceSortKey = "due_date"
)

// InvoiceFilter narrows the ledger view. Zero fields do not filter.
type InvoiceFilter struct {
	Search          string        `json:"search"`
	Status          InvoiceStatus `json:"status"`
	DateFrom        *time.Time    `json:"date_from"`
	DateTo          *time.Time    `json:"date_to"`
	OnlyWithBalance bool          `json:"only_with_balance"`
}

// InvoiceSort orders the ledger view. An empty key keeps fetch order.
type InvoiceSort struct {
	Key  InvoiceSortKey `json:"key"`
	Desc bool           `json:"desc"`
}

// Aging summarizes open invoices with a due date.
type Aging struct {
	OverdueCount  int         `json:"overdue_count"`
	OverdueAmount money.Money `json:"overdue_amount"`
	DueSoonCount  int         `json:"due_soon_count"`
	DueSoonAmount money.Money `json:"due_soon_amount"`
}

// AgingBuckets spreads open balances by days past due.
type AgingBuckets struct {
	Current   money.Money `json:"current"`
	Bucket30  money.Money `json:"bucket_30"`
	Bucket60  money.Money `json:"bucket_60"`
	Bucket90  money.Money `json:"bucket_90"`
	Bucket120 money.Money `json:"bucket_120"`
}

// Ledger is the supplier's invoices in fetch order.
type Ledger struct {
	invoices []Invoice
}

// NewLedger copies the invoices so later edits to the slice do not leak in.
func NewLedger(invoices []Invoice) Ledger {
	return Ledger{invoices: append([]Invoice(nil), invoices...)}
}

// Len returns the number of invoices.
func (l Ledger) Len() int {
	return len(l.invoices)
}

// All returns a copy of every invoice in fetch order.
func (l Ledger) All() []Invoice {
	return append([]Invoice(nil), l.invoices...)
}

// Get looks up an invoice by ID.
func (l Ledger) Get(id int64) (Invoice, bool) {
	for _, inv := range l.invoices {
		if inv.ID == id {
			return inv, true
		}
	}
	return Invoice{}, false
}

// TotalBalance sums every open balance.
func (l Ledger) TotalBalance() money.Money {
	total := money.Zero()
	for _, inv := range l.invoices {
		total = total.Add(inv.Balance)
	}
	return total
}

// TotalInvoiced sums invoice totals.
func (l Ledger) TotalInvoiced() money.Money {
	total := money.Zero()
	for _, inv := range l.invoices {
		total = total.Add(inv.Total)
	}
	return total
}

// List returns the filtered invoices. Ties keep fetch order.
func (l Ledger) List(filter InvoiceFilter, order InvoiceSort) []Invoice {
	out := make([]Invoice, 0, len(l.invoices))
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, inv := range l.invoices {
		if search != "" && !strings.Contains(strings.ToLower(inv.Number), search) {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.DateFrom != nil && inv.IssueDate.Before(dateOf(*filter.DateFrom)) {
			continue
		}
		if filter.DateTo != nil && inv.IssueDate.After(dateOf(*filter.DateTo)) {
			continue
		}
		if filter.OnlyWithBalance && !inv.Balance.IsPositive() {
			continue
		}
		out = append(out, inv)
	}
	if order.Key == "" {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return invoiceLess(out[i], out[j], order)
	})
	return out
}

func invoiceLess(a, b Invoice, order InvoiceSort) bool {
	var c int
	switch order.Key {
	case SortByDate:
		c = a.IssueDate.Compare(b.IssueDate)
	case SortByTotal:
		c = a.Total.Cmp(b.Total)
	case SortByBalance:
		c = a.Balance.Cmp(b.Balance)
	case SortByDueDate:
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return false
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		}
		c = a.DueDate.Compare(*b.DueDate)
	}
	if order.Desc {
		return c > 0
	}
	return c < 0
}

// Aging counts open invoices past due and due within DueSoonWindow.
func (l Ledger) Aging(today time.Time) Aging {
	today = dateOf(today)
	horizon := today.Add(DueSoonWindow)
	aging := Aging{}
	for _, inv := range l.invoices {
		if !inv.Balance.IsPositive() || inv.DueDate == nil {
			continue
		}
		due := dateOf(*inv.DueDate)
		switch {
		case due.Before(today):
			aging.OverdueCount++
			aging.OverdueAmount = aging.OverdueAmount.Add(inv.Balance)
		case !due.After(horizon):
			aging.DueSoonCount++
			aging.DueSoonAmount = aging.DueSoonAmount.Add(inv.Balance)
		}
	}
	return aging
}

// AgingBuckets returns open balances by days overdue. Invoices without a due
// date count as current.
func (l Ledger) AgingBuckets(asOf time.Time) AgingBuckets {
	asOf = dateOf(asOf)
	bucket := AgingBuckets{}
	for _, inv := range l.invoices {
		if !inv.Balance.IsPositive() {
			continue
		}
		daysOverdue := 0
		if inv.DueDate != nil {
			daysOverdue = int(asOf.Sub(dateOf(*inv.DueDate)).Hours() / 24)
		}

		if daysOverdue <= 0 {
			bucket.Current = bucket.Current.Add(inv.Balance)
		} else if daysOverdue <= 30 {
			bucket.Bucket30 = bucket.Bucket30.Add(inv.Balance)
		} else if daysOverdue <= 60 {
			bucket.Bucket60 = bucket.Bucket60.Add(inv.Balance)
		} else if daysOverdue <= 90 {
			bucket.Bucket90 = bucket.Bucket90.Add(inv.Balance)
		} else {
			bucket.Bucket120 = bucket.Bucket120.Add(inv.Balance)
		}
	}
	return bucket
}

// applyPayment returns a ledger with the order's applied amounts removed from
// the invoice balances. Balances never drop below zero.
func (l Ledger) applyPayment(order PaymentOrder, today time.Time) Ledger {
	applied := make(map[int64]money.Money, len(order.AppliedInvoices))
	for _, a := range order.AppliedInvoices {
		applied[a.InvoiceID] = applied[a.InvoiceID].Add(a.Amount)
	}
	out := make([]Invoice, len(l.invoices))
	for i, inv := range l.invoices {
		if amount, ok := applied[inv.ID]; ok {
			inv.Balance = money.Max(inv.Balance.Sub(amount), money.Zero())
			inv.Status = DeriveStatus(inv.Total, inv.Balance, inv.DueDate, today)
		}
		out[i] = inv
	}
	return Ledger{invoices: out}
}

// reversePayment returns a ledger with the order's applied amounts added
// back to the invoice balances. Balances never exceed the invoice total.
func (l Ledger) reversePayment(order PaymentOrder, today time.Time) Ledger {
	applied := make(map[int64]money.Money, len(order.AppliedInvoices))
	for _, a := range order.AppliedInvoices {
		applied[a.InvoiceID] = applied[a.InvoiceID].Add(a.Amount)
	}
	out := make([]Invoice, len(l.invoices))
	for i, inv := range l.invoices {
		if amount, ok := applied[inv.ID]; ok {
			inv.Balance = money.Min(inv.Balance.Add(amount), inv.Total)
			inv.Status = DeriveStatus(inv.Total, inv.Balance, inv.DueDate, today)
		}
		out[i] = inv
	}
	return Ledger{invoices: out}
}

// without drops one invoice.
func (l Ledger) without(id int64) Ledger {
	out := make([]Invoice, 0, len(l.invoices))
	for _, inv := range l.invoices {
		if inv.ID != id {
			out = append(out, inv)
		}
	}
	return Ledger{invoices: out}
}
