package ap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

var acme = Supplier{ID: 1, Code: "SUP-001", Name: "ACME Supplies", TaxID: "30-71234567-8"}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Invalidate(ctx context.Context, supplierID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func newTestWorkspace(t *testing.T, collab Collaborator, opts ...WorkspaceOption) *Workspace {
	t.Helper()
	base := []WorkspaceOption{WithClock(testClock), WithLogger(slog.New(slog.DiscardHandler))}
	ws := NewWorkspace(collab, acme.ID, append(base, opts...)...)
	require.NoError(t, ws.Load(context.Background()))
	return ws
}

func edit(t *testing.T, ws *Workspace, fns ...func(Composer) (Composer, error)) {
	t.Helper()
	for _, fn := range fns {
		_, err := ws.Update(fn)
		require.NoError(t, err)
	}
}

func pay(inst Instrument, amount string) func(Composer) (Composer, error) {
	return func(c Composer) (Composer, error) { return c.SetAmount(inst, amt(amount)) }
}

func pick(id int64) func(Composer) (Composer, error) {
	return func(c Composer) (Composer, error) { return c.ToggleInvoice(id) }
}

func useAdvance(id int64) func(Composer) (Composer, error) {
	return func(c Composer) (Composer, error) { return c.ToggleAdvance(id) }
}

func invoiceBalance(t *testing.T, s Session, id int64) Invoice {
	t.Helper()
	inv, ok := s.Ledger.Get(id)
	require.True(t, ok, "invoice %d", id)
	return inv
}

func TestWorkspaceLoad(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", dayPtr("2025-02-01"))
	collab.addCheck(7, "150")

	ws := newTestWorkspace(t, collab)
	s := ws.Session()
	require.Equal(t, acme, s.Supplier)
	require.Equal(t, testToday, s.Today)
	require.Equal(t, 1, s.Ledger.Len())
	require.Equal(t, InvoiceStatusOverdue, invoiceBalance(t, s, 1).Status)
	require.Len(t, s.Custody.All(), 1)
	require.Equal(t, StateDraftEmpty, s.Composer.State())
}

func TestWorkspaceLoadUnknownSupplier(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	ws := NewWorkspace(collab, 99, WithClock(testClock), WithLogger(slog.New(slog.DiscardHandler)))
	err := ws.Load(context.Background())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSubmitExactPayment(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	notifier := &countingNotifier{}
	ws := newTestWorkspace(t, collab, WithNotifier(notifier))

	edit(t, ws, pay(InstrumentCash, "1000"), pick(1))
	require.Equal(t, StateReady, ws.Session().Composer.State())

	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.True(t, order.GeneratedAdvance.IsZero())
	require.Equal(t, "OP-00000101", order.Number)

	s := ws.Session()
	inv := invoiceBalance(t, s, 1)
	require.True(t, inv.Balance.IsZero())
	require.Equal(t, InvoiceStatusPaid, inv.Status)
	require.Equal(t, 1, s.Payments.Len())
	require.True(t, s.Advances.Credit().IsZero())
	require.Equal(t, StateConfirmed, s.Composer.State())
	require.Equal(t, 1, notifier.count())

	require.NoError(t, ws.CloseReceipt())
	require.Equal(t, StateDraftEmpty, ws.Session().Composer.State())
}

func TestSubmitOverpaymentGeneratesAdvance(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "500", "500", nil)
	collab.addInvoice(2, "A-0002", "500", "500", nil)
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "1200"), pick(1), pick(2))
	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.True(t, order.GeneratedAdvance.Equal(amt("200")))

	s := ws.Session()
	require.True(t, s.Ledger.TotalBalance().IsZero())
	available := s.Advances.Available()
	require.Len(t, available, 1)
	require.Equal(t, order.ID, available[0].ID)
	require.True(t, available[0].Amount.Equal(amt("200")))
	require.True(t, s.Owed().IsZero())
}

func TestSubmitConsumesAdvance(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "800", nil)
	prior := cashOrder(50, "2025-01-10", "300")
	prior.GeneratedAdvance = amt("300")
	collab.addOrder(prior)
	ws := newTestWorkspace(t, collab)
	require.True(t, ws.Session().Owed().Equal(amt("500")))

	edit(t, ws, pay(InstrumentWireTransfer, "500"), pick(1), useAdvance(50))
	q, err := ws.Session().Quote()
	require.NoError(t, err)
	require.True(t, q.NetDue.Equal(amt("500")))
	require.True(t, q.Difference.IsZero())

	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{50}, order.AppliedAdvanceIDs)

	s := ws.Session()
	require.True(t, invoiceBalance(t, s, 1).Balance.IsZero())
	require.True(t, s.Advances.Credit().IsZero())
	require.Len(t, s.Advances.Available(), 0)
	adv := s.Advances.All()[0]
	require.Equal(t, order.ID, *adv.ConsumedBy)
}

func TestConfirmationConservesOwedAmount(t *testing.T) {
	cases := []struct {
		name      string
		setup     func(*memoryCollaborator)
		edits     []func(Composer) (Composer, error)
		owedAfter string
		generated string
	}{
		{
			name: "exact payment",
			setup: func(m *memoryCollaborator) {
				m.addInvoice(1, "A-0001", "1000", "1000", nil)
			},
			edits:     []func(Composer) (Composer, error){pay(InstrumentCash, "1000"), pick(1)},
			owedAfter: "0",
			generated: "0",
		},
		{
			name: "overpayment",
			setup: func(m *memoryCollaborator) {
				m.addInvoice(1, "A-0001", "500", "500", nil)
				m.addInvoice(2, "A-0002", "500", "500", nil)
			},
			edits:     []func(Composer) (Composer, error){pay(InstrumentCash, "1200"), pick(1), pick(2)},
			owedAfter: "0",
			generated: "200",
		},
		{
			name: "advance applied",
			setup: func(m *memoryCollaborator) {
				m.addInvoice(1, "A-0001", "1000", "800", nil)
				prior := cashOrder(50, "2025-01-10", "300")
				prior.GeneratedAdvance = amt("300")
				m.addOrder(prior)
			},
			edits:     []func(Composer) (Composer, error){pay(InstrumentWireTransfer, "500"), pick(1), useAdvance(50)},
			owedAfter: "0",
			generated: "0",
		},
		{
			name: "one of two invoices",
			setup: func(m *memoryCollaborator) {
				m.addInvoice(1, "A-0001", "300", "300", nil)
				m.addInvoice(2, "A-0002", "700", "700", nil)
			},
			edits:     []func(Composer) (Composer, error){pay(InstrumentCash, "300"), pick(1)},
			owedAfter: "700",
			generated: "0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collab := newMemoryCollaborator(acme)
			tc.setup(collab)
			ws := newTestWorkspace(t, collab)
			owedBefore := ws.Session().Owed()

			edit(t, ws, tc.edits...)
			order, err := ws.Submit(context.Background())
			require.NoError(t, err)
			require.True(t, order.GeneratedAdvance.Equal(amt(tc.generated)), "generated %s", order.GeneratedAdvance)

			owedAfter := ws.Session().Owed()
			require.True(t, owedAfter.Equal(amt(tc.owedAfter)), "owed after %s", owedAfter)
			expected := owedBefore.Sub(order.Total()).Add(order.GeneratedAdvance)
			require.True(t, expected.Equal(owedAfter), "owed before %s, tendered %s, generated %s, owed after %s",
				owedBefore, order.Total(), order.GeneratedAdvance, owedAfter)
		})
	}
}

func TestDuplicatePaymentRecordsCollapse(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "0", nil)
	order := cashOrder(50, "2025-01-10", "1000")
	order.AppliedInvoices = []AppliedInvoice{{InvoiceID: 1, Amount: amt("1000")}}
	collab.addOrder(order)
	collab.duplicate = true

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ws := newTestWorkspace(t, collab, WithMetrics(metrics))
	s := ws.Session()
	require.Equal(t, 1, s.Payments.Len())
	require.Equal(t, 1, s.Payments.Collapsed())
	require.True(t, s.Payments.TotalPaid().Equal(amt("1000")))
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_duplicate_payments_total", nil))
}

func TestSubmitNetworkFailureKeepsDraft(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	collab.submitErrs = []error{errNetwork}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ws := newTestWorkspace(t, collab, WithMetrics(metrics))

	edit(t, ws, pay(InstrumentCash, "1000"), pick(1))
	before := ws.Session().Composer.Draft()

	_, err := ws.Submit(context.Background())
	var serr *SubmitError
	require.ErrorAs(t, err, &serr)
	require.True(t, serr.Retryable)
	require.ErrorIs(t, err, shared.ErrUnavailable)

	s := ws.Session()
	require.Equal(t, StateFailed, s.Composer.State())
	require.Equal(t, before, s.Composer.Draft())
	require.True(t, invoiceBalance(t, s, 1).Balance.Equal(amt("1000")))
	require.Equal(t, 0, s.Payments.Len())

	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, collab.submits())
	require.Equal(t, 1, collab.orderCount())
	require.True(t, collab.balance(1).IsZero())
	require.Equal(t, order.ID, ws.Session().Payments.All()[0].ID)
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_submissions_total", map[string]string{"outcome": "retryable"}))
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_submissions_total", map[string]string{"outcome": "confirmed"}))
}

// lossyCollaborator commits the order and then loses the response.
type lossyCollaborator struct {
	*memoryCollaborator
	lose int
}

func (l *lossyCollaborator) SubmitPaymentOrder(ctx context.Context, d PaymentOrderDraft) (PaymentOrderRecord, error) {
	rec, err := l.memoryCollaborator.SubmitPaymentOrder(ctx, d)
	if err == nil && l.lose > 0 {
		l.lose--
		return PaymentOrderRecord{}, errNetwork
	}
	return rec, err
}

func TestResubmitAfterLostResponseIsIdempotent(t *testing.T) {
	mem := newMemoryCollaborator(acme)
	mem.addInvoice(1, "A-0001", "1000", "1000", nil)
	collab := &lossyCollaborator{memoryCollaborator: mem, lose: 1}
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "1000"), pick(1))
	_, err := ws.Submit(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, ws.Session().Composer.State())

	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, mem.orderCount(), "retry must not create a second order")
	require.True(t, mem.balance(1).IsZero())
	require.Equal(t, 1, ws.Session().Payments.Len())
	require.Equal(t, int64(101), order.ID)
}

func TestSubmitValidationSendsNothing(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "999"), pick(1))
	_, err := ws.Submit(context.Background())
	require.ErrorIs(t, err, ErrInsufficientTender)
	require.Equal(t, 0, collab.submits())
	require.Equal(t, StateReady, ws.Session().Composer.State())
}

func TestSubmitConflictRequiresRefresh(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	collab.addInvoice(2, "A-0002", "300", "300", nil)
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "1300"), pick(1), pick(2))
	collab.setBalance(2, "100")

	_, err := ws.Submit(context.Background())
	require.ErrorIs(t, err, ErrStaleBalance)
	var serr *SubmitError
	require.ErrorAs(t, err, &serr)
	require.False(t, serr.Retryable)
	require.True(t, ws.Session().Composer.NeedsRefresh())

	_, err = ws.Submit(context.Background())
	require.ErrorIs(t, err, ErrRefreshRequired)

	require.NoError(t, ws.Refresh(context.Background()))
	require.False(t, ws.Session().Composer.NeedsRefresh())
	require.True(t, invoiceBalance(t, ws.Session(), 2).Balance.Equal(amt("100")))

	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.True(t, order.GeneratedAdvance.Equal(amt("200")))
}

func TestConcurrentSessionsNeverDoubleConsume(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "500", "500", nil)
	collab.addInvoice(2, "A-0002", "500", "500", nil)
	prior := cashOrder(50, "2025-01-10", "300")
	prior.GeneratedAdvance = amt("300")
	collab.addOrder(prior)
	collab.addCheck(7, "200")

	first := newTestWorkspace(t, collab)
	second := newTestWorkspace(t, collab)
	chk, ok := first.Session().Custody.find(7)
	require.True(t, ok)
	withCheck := func(c Composer) (Composer, error) { return c.ToggleCheck(chk) }

	edit(t, first, pick(1), useAdvance(50), withCheck)
	edit(t, second, pick(2), useAdvance(50), withCheck)

	_, err := first.Submit(context.Background())
	require.NoError(t, err)
	_, err = second.Submit(context.Background())
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, second.Session().Composer.NeedsRefresh())
	require.True(t, collab.balance(2).Equal(amt("500")))

	require.NoError(t, second.Refresh(context.Background()))
	d := second.Session().Composer.Draft()
	require.Equal(t, []int64{2}, d.InvoiceIDs)
	require.Empty(t, d.AdvanceIDs)
	require.Empty(t, d.Checks)
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ws := newTestWorkspace(t, collab, WithMetrics(metrics))

	collab.stubborn = true
	gate := collab.gate(ResourceInvoices)
	done := make(chan error, 1)
	go func() { done <- ws.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return collab.calls(ResourceInvoices) == 2 }, time.Second, time.Millisecond)

	collab.setBalance(1, "400")
	require.NoError(t, ws.Refresh(context.Background()))
	require.True(t, invoiceBalance(t, ws.Session(), 1).Balance.Equal(amt("400")))

	close(gate)
	require.NoError(t, <-done)
	require.True(t, invoiceBalance(t, ws.Session(), 1).Balance.Equal(amt("400")), "late response must not overwrite newer state")
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_stale_responses_total", map[string]string{"resource": "invoices"}))
}

func TestSubmitSupersedesInflightRefresh(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	ws := newTestWorkspace(t, collab)
	edit(t, ws, pay(InstrumentCash, "1000"), pick(1))

	collab.stubborn = true
	gate := collab.gate(ResourceInvoices)
	done := make(chan error, 1)
	go func() { done <- ws.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return collab.calls(ResourceInvoices) == 2 }, time.Second, time.Millisecond)

	_, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.True(t, invoiceBalance(t, ws.Session(), 1).Balance.IsZero())

	close(gate)
	require.NoError(t, <-done)
	require.True(t, invoiceBalance(t, ws.Session(), 1).Balance.IsZero(), "pre-submit snapshot must be discarded")
}

func TestRefreshPartialFailureKeepsPreviousState(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	prior := cashOrder(50, "2025-01-10", "100")
	collab.addOrder(prior)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ws := newTestWorkspace(t, collab, WithMetrics(metrics))

	collab.setBalance(1, "600")
	collab.setFetchErr(ResourcePayments, errNetwork)
	err := ws.Refresh(context.Background())
	require.ErrorIs(t, err, shared.ErrUnavailable)

	s := ws.Session()
	require.True(t, invoiceBalance(t, s, 1).Balance.Equal(amt("600")), "healthy resources still refresh")
	require.Equal(t, 1, s.Payments.Len(), "failed resource keeps its previous state")
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_refreshes_total", map[string]string{"resource": "payment_orders", "status": "failure"}))
}

func TestMalformedRecordsBecomeDiagnostics(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	collab.rawInvoices = []InvoiceRecord{{ID: 2, Number: "A-0002", IssueDate: "2025-01-02", Type: "A", Total: "100", Balance: "500"}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ws := newTestWorkspace(t, collab, WithMetrics(metrics))

	s := ws.Session()
	require.Equal(t, 1, s.Ledger.Len())
	require.Len(t, s.Diagnostics[ResourceInvoices], 1)
	require.ErrorIs(t, s.Diagnostics[ResourceInvoices][0], shared.ErrMalformedRecord)
	require.Equal(t, float64(1), counterValue(t, reg, "supplier_ledger_malformed_records_total", map[string]string{"resource": "invoices"}))

	collab.rawInvoices = nil
	require.NoError(t, ws.Refresh(context.Background()))
	require.Empty(t, ws.Session().Diagnostics[ResourceInvoices])
}

func TestDeleteInvoice(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	collab.addInvoice(2, "A-0002", "100", "0", nil)
	ws := newTestWorkspace(t, collab)

	err := ws.DeleteInvoice(context.Background(), 1, false)
	require.ErrorIs(t, err, ErrInvoiceHasBalance)
	require.Equal(t, 2, ws.Session().Ledger.Len())

	require.NoError(t, ws.DeleteInvoice(context.Background(), 2, false))
	require.NoError(t, ws.DeleteInvoice(context.Background(), 1, true))
	require.Equal(t, 0, ws.Session().Ledger.Len())
}

func TestDeleteMissingRecordRepulls(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "0", nil)
	collab.addInvoice(2, "A-0002", "100", "100", nil)
	ws := newTestWorkspace(t, collab)

	collab.dropInvoice(1)
	collab.setBalance(2, "50")
	err := ws.DeleteInvoice(context.Background(), 1, false)
	require.ErrorIs(t, err, shared.ErrNotFound)

	s := ws.Session()
	_, ok := s.Ledger.Get(1)
	require.False(t, ok)
	require.True(t, invoiceBalance(t, s, 2).Balance.Equal(amt("50")))
}

func TestDeleteCollaboratorFailureIsUnavailable(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "100", "0", nil)
	collab.deleteErr = errNetwork
	ws := newTestWorkspace(t, collab)

	err := ws.DeleteInvoice(context.Background(), 1, false)
	require.ErrorIs(t, err, shared.ErrUnavailable)
	require.Equal(t, 1, ws.Session().Ledger.Len())
}

func TestDeletePaymentOrderRestoresBalance(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "1200"), pick(1))
	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.NoError(t, ws.CloseReceipt())

	require.NoError(t, ws.DeletePaymentOrder(context.Background(), order.ID))
	s := ws.Session()
	require.Equal(t, 0, s.Payments.Len())
	require.True(t, s.Advances.Credit().IsZero())
	require.True(t, invoiceBalance(t, s, 1).Balance.Equal(amt("1000")))
}

func TestDeletePaymentOrderProjectsBalanceWhenRepullFails(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "1000", "1000", nil)
	ws := newTestWorkspace(t, collab)
	unpaid := invoiceBalance(t, ws.Session(), 1).Status

	edit(t, ws, pay(InstrumentCash, "1000"), pick(1))
	order, err := ws.Submit(context.Background())
	require.NoError(t, err)
	require.NoError(t, ws.CloseReceipt())
	require.Equal(t, InvoiceStatusPaid, invoiceBalance(t, ws.Session(), 1).Status)

	collab.setFetchErr(ResourceInvoices, errNetwork)
	require.NoError(t, ws.DeletePaymentOrder(context.Background(), order.ID))

	s := ws.Session()
	require.Equal(t, 0, s.Payments.Len())
	inv := invoiceBalance(t, s, 1)
	require.True(t, inv.Balance.Equal(amt("1000")), "balance %s", inv.Balance)
	require.Equal(t, unpaid, inv.Status)
	require.True(t, s.Owed().Equal(amt("1000")))
}

func TestDeletePaymentOrderWithConsumedAdvance(t *testing.T) {
	collab := newMemoryCollaborator(acme)
	collab.addInvoice(1, "A-0001", "500", "500", nil)
	prior := cashOrder(50, "2025-01-10", "300")
	prior.GeneratedAdvance = amt("300")
	collab.addOrder(prior)
	ws := newTestWorkspace(t, collab)

	edit(t, ws, pay(InstrumentCash, "200"), pick(1), useAdvance(50))
	_, err := ws.Submit(context.Background())
	require.NoError(t, err)

	err = ws.DeletePaymentOrder(context.Background(), 50)
	require.ErrorIs(t, err, ErrAdvanceAlreadyConsumed)
	require.True(t, errors.Is(err, shared.ErrConflict))
	_, ok := ws.Session().Payments.Get(50)
	require.True(t, ok)
}
