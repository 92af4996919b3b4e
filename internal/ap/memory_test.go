package ap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

var testToday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func testClock() time.Time { return testToday }

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func amt(s string) money.Money { return money.MustParse(s) }

// memoryCollaborator keeps the ledger the way the database would and lets
// tests inject failures, duplicates and delays per resource.
type memoryCollaborator struct {
	mu          sync.Mutex
	supplier    Supplier
	invoices    []Invoice
	rawInvoices []InvoiceRecord
	orders      []PaymentOrder
	checks      []ThirdPartyCheck
	usedChecks  map[int64]int64
	consumed    map[int64]int64
	keys        map[string]int64
	nextID      int64

	fetchErr    map[Resource]error
	gates       map[Resource]chan struct{}
	submitErrs  []error
	deleteErr   error
	duplicate   bool
	stubborn    bool
	submitCalls int
	fetchCalls  map[Resource]int
}

func newMemoryCollaborator(supplier Supplier) *memoryCollaborator {
	return &memoryCollaborator{
		supplier:   supplier,
		usedChecks: make(map[int64]int64),
		consumed:   make(map[int64]int64),
		keys:       make(map[string]int64),
		nextID:     100,
		fetchErr:   make(map[Resource]error),
		gates:      make(map[Resource]chan struct{}),
		fetchCalls: make(map[Resource]int),
	}
}

func (m *memoryCollaborator) addInvoice(id int64, number string, total, balance string, due *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, b := amt(total), amt(balance)
	m.invoices = append(m.invoices, Invoice{
		ID:        id,
		Number:    number,
		IssueDate: day("2025-01-15"),
		DueDate:   due,
		Type:      InvoiceTypeA,
		Total:     t,
		Balance:   b,
	})
}

func (m *memoryCollaborator) addCheck(id int64, amount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, ThirdPartyCheck{
		ID:         id,
		Number:     fmt.Sprintf("CHK-%d", id),
		Bank:       "Banco Norte",
		HolderName: "ACME",
		DueDate:    day("2025-04-01"),
		Amount:     amt(amount),
		Kind:       CheckKindPaper,
	})
}

func (m *memoryCollaborator) addOrder(o PaymentOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o)
	for _, id := range o.AppliedAdvanceIDs {
		m.consumed[id] = o.ID
	}
}

func (m *memoryCollaborator) gate(r Resource) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[r] = ch
	return ch
}

func (m *memoryCollaborator) setFetchErr(r Resource, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr[r] = err
}

func (m *memoryCollaborator) enter(ctx context.Context, r Resource) error {
	m.mu.Lock()
	m.fetchCalls[r]++
	gate := m.gates[r]
	delete(m.gates, r)
	err := m.fetchErr[r]
	stubborn := m.stubborn
	m.mu.Unlock()
	if gate != nil && stubborn {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *memoryCollaborator) FetchSupplier(ctx context.Context, id int64) (SupplierRecord, error) {
	if err := m.enter(ctx, ResourceSupplier); err != nil {
		return SupplierRecord{}, err
	}
	if id != m.supplier.ID {
		return SupplierRecord{}, ErrSupplierNotFound
	}
	return SupplierRecord{ID: m.supplier.ID, Code: m.supplier.Code, Name: m.supplier.Name, TaxID: m.supplier.TaxID}, nil
}

func (m *memoryCollaborator) FetchInvoices(ctx context.Context, supplierID int64) ([]InvoiceRecord, error) {
	m.mu.Lock()
	out := make([]InvoiceRecord, 0, len(m.invoices)+len(m.rawInvoices))
	for _, inv := range m.invoices {
		out = append(out, invoiceRecord(inv))
	}
	out = append(out, m.rawInvoices...)
	m.mu.Unlock()
	if err := m.enter(ctx, ResourceInvoices); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memoryCollaborator) FetchPaymentOrders(ctx context.Context, supplierID int64) ([]PaymentOrderRecord, error) {
	m.mu.Lock()
	var out []PaymentOrderRecord
	for _, o := range m.orders {
		out = append(out, orderRecord(o))
		if m.duplicate {
			out = append(out, orderRecord(o))
		}
	}
	m.mu.Unlock()
	if err := m.enter(ctx, ResourcePayments); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memoryCollaborator) FetchChecks(ctx context.Context) ([]CheckRecord, error) {
	m.mu.Lock()
	var out []CheckRecord
	for _, c := range m.checks {
		if _, used := m.usedChecks[c.ID]; used {
			continue
		}
		out = append(out, CheckRecord{
			ID:         c.ID,
			Number:     c.Number,
			Bank:       c.Bank,
			HolderName: c.HolderName,
			DueDate:    c.DueDate.Format(dateLayout),
			Amount:     RawAmount(c.Amount.Key()),
			Kind:       string(c.Kind),
		})
	}
	m.mu.Unlock()
	if err := m.enter(ctx, ResourceChecks); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memoryCollaborator) SubmitPaymentOrder(ctx context.Context, d PaymentOrderDraft) (PaymentOrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return PaymentOrderRecord{}, err
		}
	}
	if id, ok := m.keys[d.IdempotencyKey]; ok {
		for _, o := range m.orders {
			if o.ID == id {
				return orderRecord(o), nil
			}
		}
	}

	applied := money.Zero()
	for _, a := range d.AppliedInvoices {
		i := m.invoiceIndex(a.InvoiceID)
		if i < 0 {
			return PaymentOrderRecord{}, ErrInvoiceNotFound
		}
		if !m.invoices[i].Balance.Equal(a.Amount) {
			return PaymentOrderRecord{}, ErrStaleBalance
		}
		applied = applied.Add(a.Amount)
	}
	advances := money.Zero()
	for _, id := range d.AppliedAdvanceIDs {
		if _, used := m.consumed[id]; used {
			return PaymentOrderRecord{}, ErrAdvanceAlreadyConsumed
		}
		src := m.orderIndex(id)
		if src < 0 || !m.orders[src].GeneratedAdvance.IsPositive() {
			return PaymentOrderRecord{}, ErrAdvanceNotFound
		}
		advances = advances.Add(m.orders[src].GeneratedAdvance)
	}
	for _, id := range d.UsedCheckIDs {
		if _, used := m.usedChecks[id]; used {
			return PaymentOrderRecord{}, ErrCheckAlreadyConsumed
		}
	}
	if !d.Instruments.Total().Equal(applied.Sub(advances).Add(d.GeneratedAdvance)) {
		return PaymentOrderRecord{}, ErrInstrumentMismatch
	}

	m.nextID++
	order := d.toOrder(m.nextID, orderNumber(m.nextID))
	for _, a := range d.AppliedInvoices {
		i := m.invoiceIndex(a.InvoiceID)
		m.invoices[i].Balance = m.invoices[i].Balance.Sub(a.Amount)
	}
	for _, id := range d.AppliedAdvanceIDs {
		m.consumed[id] = order.ID
	}
	for _, id := range d.UsedCheckIDs {
		m.usedChecks[id] = order.ID
	}
	m.orders = append(m.orders, order)
	m.keys[d.IdempotencyKey] = order.ID
	return orderRecord(order), nil
}

func (m *memoryCollaborator) DeleteInvoice(ctx context.Context, id int64, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	i := m.invoiceIndex(id)
	if i < 0 {
		return fmt.Errorf("invoice %d: %w", id, ErrInvoiceNotFound)
	}
	if m.invoices[i].Balance.IsPositive() && !cascade {
		return ErrInvoiceHasBalance
	}
	m.invoices = append(m.invoices[:i], m.invoices[i+1:]...)
	return nil
}

func (m *memoryCollaborator) DeletePaymentOrder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.orderIndex(id)
	if i < 0 {
		return fmt.Errorf("payment order %d: %w", id, ErrPaymentOrderNotFound)
	}
	if _, used := m.consumed[id]; used {
		return ErrAdvanceAlreadyConsumed
	}
	order := m.orders[i]
	for _, a := range order.AppliedInvoices {
		if j := m.invoiceIndex(a.InvoiceID); j >= 0 {
			m.invoices[j].Balance = m.invoices[j].Balance.Add(a.Amount)
		}
	}
	for _, adv := range order.AppliedAdvanceIDs {
		delete(m.consumed, adv)
	}
	for _, c := range order.UsedCheckIDs {
		delete(m.usedChecks, c)
	}
	m.orders = append(m.orders[:i], m.orders[i+1:]...)
	return nil
}

func (m *memoryCollaborator) invoiceIndex(id int64) int {
	for i, inv := range m.invoices {
		if inv.ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryCollaborator) orderIndex(id int64) int {
	for i, o := range m.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryCollaborator) setBalance(id int64, balance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[m.invoiceIndex(id)].Balance = amt(balance)
}

func (m *memoryCollaborator) dropInvoice(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.invoiceIndex(id)
	m.invoices = append(m.invoices[:i], m.invoices[i+1:]...)
}

func (m *memoryCollaborator) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryCollaborator) calls(r Resource) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[r]
}

func (m *memoryCollaborator) submits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

func (m *memoryCollaborator) balance(id int64) money.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[m.invoiceIndex(id)].Balance
}

func invoiceRecord(inv Invoice) InvoiceRecord {
	rec := InvoiceRecord{
		ID:        inv.ID,
		Number:    inv.Number,
		IssueDate: inv.IssueDate.Format(dateLayout),
		Type:      string(inv.Type),
		Total:     RawAmount(inv.Total.Key()),
		Balance:   RawAmount(inv.Balance.Key()),
	}
	if inv.DueDate != nil {
		rec.DueDate = inv.DueDate.Format(dateLayout)
	}
	return rec
}

func orderRecord(o PaymentOrder) PaymentOrderRecord {
	rec := PaymentOrderRecord{
		ID:                     o.ID,
		Number:                 o.Number,
		SupplierID:             o.SupplierID,
		Date:                   o.Date.Format(dateLayout),
		Cash:                   RawAmount(o.Instruments.Cash.Key()),
		ForeignCash:            RawAmount(o.Instruments.ForeignCash.Key()),
		WireTransfer:           RawAmount(o.Instruments.WireTransfer.Key()),
		ThirdPartyChecks:       RawAmount(o.Instruments.ThirdPartyChecks.Key()),
		OwnChecksTotal:         RawAmount(o.Instruments.OwnChecks.Key()),
		WithholdingVAT:         RawAmount(o.Instruments.WithholdingVAT.Key()),
		WithholdingIncomeTax:   RawAmount(o.Instruments.WithholdingIncomeTax.Key()),
		WithholdingGrossIncome: RawAmount(o.Instruments.WithholdingGrossIncome.Key()),
		AppliedAdvanceIDs:      o.AppliedAdvanceIDs,
		UsedCheckIDs:           o.UsedCheckIDs,
		Notes:                  o.Notes,
		GeneratedAdvance:       RawAmount(o.GeneratedAdvance.Key()),
	}
	for _, a := range o.AppliedInvoices {
		rec.AppliedInvoices = append(rec.AppliedInvoices, AppliedInvoiceRecord{InvoiceID: a.InvoiceID, Amount: RawAmount(a.Amount.Key())})
	}
	for _, c := range o.OwnChecks {
		rec.OwnChecks = append(rec.OwnChecks, OwnCheckRecord{Number: c.Number, Bank: c.Bank, DueDate: c.DueDate.Format(dateLayout), Amount: RawAmount(c.Amount.Key())})
	}
	return rec
}

var errNetwork = fmt.Errorf("dial tcp 10.0.0.1:443: connect: connection refused")
