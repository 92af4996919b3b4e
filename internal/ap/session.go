package ap

import (
	"maps"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// Resource names a collaborator data set refreshed independently.
type Resource string

const (
	ResourceSupplier Resource = "supplier"
	ResourceInvoices Resource = "invoices"
	ResourcePayments Resource = "payment_orders"
	ResourceChecks   Resource = "checks"
)

// Session is the ledger state of one supplier at a point in time. It is a
// value: every With function returns a new Session and leaves the receiver
// untouched.
type Session struct {
	Supplier    Supplier
	Today       time.Time
	Ledger      Ledger
	Payments    PaymentStore
	Advances    AdvancePool
	Custody     Custody
	Composer    Composer
	Diagnostics map[Resource][]error
}

// NewSession starts an empty session for the supplier.
func NewSession(supplier Supplier, today time.Time) Session {
	return Session{
		Supplier: supplier,
		Today:    dateOf(today),
		Composer: NewComposer(supplier.ID, today),
	}
}

func (s Session) WithSupplier(supplier Supplier) Session {
	s.Supplier = supplier
	return s
}

// WithInvoices replaces the ledger.
func (s Session) WithInvoices(invoices []Invoice) Session {
	s.Ledger = NewLedger(invoices)
	return s
}

// WithPayments replaces the payment history and rebuilds the advance pool
// from it.
func (s Session) WithPayments(orders []PaymentOrder) Session {
	s.Payments = NewPaymentStore(orders)
	s.Advances = RebuildAdvancePool(s.Payments.All())
	return s
}

// WithChecks replaces the custody pool.
func (s Session) WithChecks(checks []ThirdPartyCheck) Session {
	s.Custody = NewCustody(checks)
	return s
}

func (s Session) WithComposer(c Composer) Session {
	s.Composer = c
	return s
}

// WithDiagnostics records the malformed records of the latest fetch of r.
func (s Session) WithDiagnostics(r Resource, diags []error) Session {
	next := make(map[Resource][]error, len(s.Diagnostics)+1)
	maps.Copy(next, s.Diagnostics)
	if len(diags) == 0 {
		delete(next, r)
	} else {
		next[r] = diags
	}
	s.Diagnostics = next
	return s
}

// ApplyConfirmed projects a confirmed order before the collaborator is
// re-pulled: balances drop by the applied amounts, the order joins the
// payment history, the advance pool is rebuilt and the used checks leave
// custody.
func (s Session) ApplyConfirmed(order PaymentOrder) Session {
	s.Ledger = s.Ledger.applyPayment(order, s.Today)
	s.Payments = s.Payments.with(order)
	s.Advances = RebuildAdvancePool(s.Payments.All())
	s.Custody = s.Custody.without(order.UsedCheckIDs)
	return s
}

// WithoutInvoice drops a deleted invoice.
func (s Session) WithoutInvoice(id int64) Session {
	s.Ledger = s.Ledger.without(id)
	return s
}

// WithoutPaymentOrder drops a deleted order and the advance it generated,
// and gives the invoices it paid their balance back.
func (s Session) WithoutPaymentOrder(id int64) Session {
	if order, ok := s.Payments.Get(id); ok {
		s.Ledger = s.Ledger.reversePayment(order, s.Today)
	}
	s.Payments = s.Payments.without(id)
	s.Advances = RebuildAdvancePool(s.Payments.All())
	return s
}

// Owed is the open balance net of available credit, floored at zero.
func (s Session) Owed() money.Money {
	return money.Max(s.Ledger.TotalBalance().Sub(s.Advances.Credit()), money.Zero())
}

// Quote computes the composer's totals against the session.
func (s Session) Quote() (Quote, error) {
	return s.Composer.Quote(s.Ledger, s.Advances, s.Custody)
}
