package ap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

type fixture struct {
	ledger  Ledger
	pool    AdvancePool
	custody Custody
}

func newFixture() fixture {
	gen := cashOrder(50, "2025-01-10", "1300")
	gen.GeneratedAdvance = amt("300")
	return fixture{
		ledger: NewLedger([]Invoice{
			{ID: 1, Number: "A-1", IssueDate: day("2025-01-01"), Total: amt("500"), Balance: amt("500")},
			{ID: 2, Number: "A-2", IssueDate: day("2025-01-02"), Total: amt("500"), Balance: amt("500")},
			{ID: 3, Number: "A-3", IssueDate: day("2025-01-03"), Total: amt("900"), Balance: amt("800")},
			{ID: 4, Number: "A-4", IssueDate: day("2025-01-04"), Total: amt("100"), Balance: amt("0")},
		}),
		pool:    RebuildAdvancePool([]PaymentOrder{gen}),
		custody: sampleCustody(),
	}
}

func must(t *testing.T) func(Composer, error) Composer {
	return func(c Composer, err error) Composer {
		t.Helper()
		require.NoError(t, err)
		return c
	}
}

func TestComposerStates(t *testing.T) {
	ok := must(t)
	c := NewComposer(1, testToday)
	require.Equal(t, StateDraftEmpty, c.State())
	require.Equal(t, testToday, c.Draft().Date)

	c = ok(c.SetAmount(InstrumentCash, amt("100")))
	require.Equal(t, StateDraftPartial, c.State())

	c = ok(c.ToggleInvoice(1))
	require.Equal(t, StateReady, c.State())

	c = ok(c.SetAmount(InstrumentCash, amt("0")))
	require.Equal(t, StateDraftPartial, c.State())

	c = ok(c.ToggleInvoice(1))
	require.Equal(t, StateDraftEmpty, c.State())
}

func TestComposerSetAmount(t *testing.T) {
	c := NewComposer(1, testToday)

	_, err := c.SetAmount(InstrumentThirdPartyChecks, amt("10"))
	require.ErrorIs(t, err, ErrDerivedInstrument)
	_, err = c.SetAmount(InstrumentOwnChecks, amt("10"))
	require.ErrorIs(t, err, ErrDerivedInstrument)
	_, err = c.SetAmount(InstrumentCash, amt("-1"))
	require.ErrorIs(t, err, ErrNegativeAmount)
	_, err = c.SetAmount(Instrument("bitcoin"), amt("1"))
	require.ErrorIs(t, err, shared.ErrValidation)

	c, err = c.SetAmountText(InstrumentWireTransfer, "$ 1.250")
	require.NoError(t, err)
	require.True(t, c.Draft().Instruments.WireTransfer.Equal(amt("1250")))
}

func TestComposerChecksDriveDerivedBuckets(t *testing.T) {
	ok := must(t)
	f := newFixture()
	c := NewComposer(1, testToday)
	chk, _ := f.custody.find(2)

	c = ok(c.ToggleCheck(chk))
	c = ok(c.AddOwnCheck(OwnCheck{Number: "0001", Bank: "Banco Sur", DueDate: day("2025-04-01"), Amount: amt("75")}))
	c = ok(c.AddOwnCheck(OwnCheck{Number: "0002", Bank: "Banco Sur", DueDate: day("2025-04-02"), Amount: amt("25")}))
	d := c.Draft()
	require.True(t, d.Instruments.ThirdPartyChecks.Equal(amt("250")))
	require.True(t, d.Instruments.OwnChecks.Equal(amt("100")))
	require.True(t, d.Tendered().Equal(amt("350")))

	c = ok(c.RemoveOwnCheck(0))
	c = ok(c.ToggleCheck(chk))
	d = c.Draft()
	require.True(t, d.Instruments.ThirdPartyChecks.IsZero())
	require.True(t, d.Instruments.OwnChecks.Equal(amt("25")))

	_, err := c.RemoveOwnCheck(3)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = c.AddOwnCheck(OwnCheck{Number: "0003", Amount: amt("0")})
	require.ErrorIs(t, err, ErrNegativeAmount)
}

func TestComposerDraftIsACopy(t *testing.T) {
	c, err := NewComposer(1, testToday).ToggleInvoice(1)
	require.NoError(t, err)
	d := c.Draft()
	d.InvoiceIDs[0] = 99
	require.Equal(t, []int64{1}, c.Draft().InvoiceIDs)

	next, err := c.ToggleInvoice(2)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, c.Draft().InvoiceIDs, "edits return a new composer")
	require.Equal(t, []int64{1, 2}, next.Draft().InvoiceIDs)
}

func TestQuoteFormulas(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name      string
		invoices  []int64
		advances  []int64
		cash      string
		coverage  string
		netDue    string
		diff      string
		generated string
		problem   error
	}{
		{name: "exact", invoices: []int64{1}, cash: "500", coverage: "500", netDue: "500", diff: "0", generated: "0"},
		{name: "overpay", invoices: []int64{1, 2}, cash: "1200", coverage: "1000", netDue: "1000", diff: "200", generated: "200"},
		{name: "advance plus transfer", invoices: []int64{3}, advances: []int64{50}, cash: "500", coverage: "800", netDue: "500", diff: "0", generated: "0"},
		{name: "short", invoices: []int64{3}, cash: "700", coverage: "800", netDue: "800", diff: "-100", generated: "0", problem: ErrInsufficientTender},
		{name: "advance reduces net due", invoices: []int64{1}, advances: []int64{50}, cash: "10", coverage: "500", netDue: "200", diff: "-190", generated: "0", problem: ErrInsufficientTender},
		{name: "nothing tendered", invoices: []int64{1}, cash: "0", coverage: "500", netDue: "500", diff: "-500", generated: "0", problem: ErrNothingTendered},
		{name: "no invoices", cash: "100", coverage: "0", netDue: "0", diff: "100", generated: "100", problem: ErrNoInvoicesSelected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok := must(t)
			c := ok(NewComposer(1, testToday).SetAmount(InstrumentCash, amt(tc.cash)))
			for _, id := range tc.invoices {
				c = ok(c.ToggleInvoice(id))
			}
			for _, id := range tc.advances {
				c = ok(c.ToggleAdvance(id))
			}
			q, err := c.Quote(f.ledger, f.pool, f.custody)
			require.NoError(t, err)
			require.True(t, q.Coverage.Equal(amt(tc.coverage)), "coverage %s", q.Coverage)
			require.True(t, q.NetDue.Equal(amt(tc.netDue)), "net due %s", q.NetDue)
			require.True(t, q.Difference.Equal(amt(tc.diff)), "difference %s", q.Difference)
			require.True(t, q.GeneratedAdvance.Equal(amt(tc.generated)), "generated %s", q.GeneratedAdvance)
			if tc.problem != nil {
				require.ErrorIs(t, q.Validate(), tc.problem)
			} else {
				require.NoError(t, q.Validate())
			}
		})
	}
}

func TestQuoteAdvanceLargerThanCoverage(t *testing.T) {
	ok := must(t)
	f := newFixture()
	small := NewLedger([]Invoice{{ID: 9, Number: "S-1", IssueDate: day("2025-01-01"), Total: amt("100"), Balance: amt("100")}})
	c := ok(NewComposer(1, testToday).ToggleInvoice(9))
	c = ok(c.ToggleAdvance(50))
	c = ok(c.SetAmount(InstrumentCash, amt("1")))

	q, err := c.Quote(small, f.pool, f.custody)
	require.NoError(t, err)
	require.True(t, q.NetDue.IsZero())
	require.True(t, q.Difference.Equal(amt("1")))
	require.True(t, q.GeneratedAdvance.Equal(amt("201")))
	require.NoError(t, q.Validate())
}

func TestQuoteRejectsUnpayableSelections(t *testing.T) {
	f := newFixture()

	c, _ := NewComposer(1, testToday).ToggleInvoice(4)
	_, err := c.Quote(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, ErrInvoiceNotPayable)

	c, _ = NewComposer(1, testToday).ToggleInvoice(77)
	_, err = c.Quote(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, shared.ErrNotFound)

	c, _ = NewComposer(1, testToday).ToggleAdvance(77)
	_, err = c.Quote(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, ErrAdvanceNotFound)
}

func readyComposer(t *testing.T) Composer {
	ok := must(t)
	c := ok(NewComposer(1, testToday).SetAmount(InstrumentCash, amt("1200")))
	c = ok(c.ToggleInvoice(1))
	return ok(c.ToggleInvoice(2))
}

func TestBeginSubmitBuildsPayload(t *testing.T) {
	f := newFixture()
	c := readyComposer(t)

	next, payload, err := c.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.Equal(t, StateSubmitting, next.State())
	require.Equal(t, StateReady, c.State())
	require.NotEmpty(t, payload.IdempotencyKey)
	require.Equal(t, int64(1), payload.SupplierID)
	require.Len(t, payload.AppliedInvoices, 2)
	require.True(t, payload.GeneratedAdvance.Equal(amt("200")))

	_, again, err := c.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.Equal(t, payload.IdempotencyKey, again.IdempotencyKey, "unchanged draft keeps its key")

	edited := must(t)(c.SetNotes("edited"))
	_, changed, err := edited.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.NotEqual(t, payload.IdempotencyKey, changed.IdempotencyKey)

	_, err = next.SetNotes("while sending")
	require.ErrorIs(t, err, ErrComposerLocked)
	_, _, err = next.BeginSubmit(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, ErrComposerLocked)
}

func TestBeginSubmitNonce(t *testing.T) {
	f := newFixture()
	a := readyComposer(t).WithNonce("token-1")
	b := readyComposer(t).WithNonce("token-1")
	_, pa, err := a.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	_, pb, err := b.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.Equal(t, pa.IdempotencyKey, pb.IdempotencyKey)

	_, pc, err := readyComposer(t).BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.NotEqual(t, pa.IdempotencyKey, pc.IdempotencyKey)
}

func TestBeginSubmitValidates(t *testing.T) {
	f := newFixture()
	c := must(t)(NewComposer(1, testToday).ToggleInvoice(3))
	c = must(t)(c.SetAmount(InstrumentCash, amt("10")))
	next, _, err := c.BeginSubmit(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, ErrInsufficientTender)
	require.Equal(t, StateReady, next.State())
}

func TestResolveFailureKeepsDraft(t *testing.T) {
	f := newFixture()
	c := readyComposer(t)
	sending, payload, err := c.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)

	failed := sending.Resolve(PaymentOrder{}, errNetwork)
	require.Equal(t, StateFailed, failed.State())
	require.NotNil(t, failed.LastError())
	require.True(t, failed.LastError().Retryable)
	require.ErrorIs(t, failed.LastError(), shared.ErrUnavailable)
	require.False(t, failed.NeedsRefresh())
	require.Equal(t, c.Draft(), failed.Draft())

	retry, again, err := failed.BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)
	require.Equal(t, StateSubmitting, retry.State())
	require.Equal(t, payload.IdempotencyKey, again.IdempotencyKey)
}

func TestResolveConflictRequiresRefresh(t *testing.T) {
	f := newFixture()
	sending, _, err := readyComposer(t).BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)

	failed := sending.Resolve(PaymentOrder{}, fmt.Errorf("invoice 1: %w", ErrStaleBalance))
	require.Equal(t, StateFailed, failed.State())
	require.False(t, failed.LastError().Retryable)
	require.True(t, failed.NeedsRefresh())

	_, _, err = failed.BeginSubmit(f.ledger, f.pool, f.custody)
	require.ErrorIs(t, err, ErrRefreshRequired)

	paid := f.ledger.applyPayment(PaymentOrder{AppliedInvoices: []AppliedInvoice{{InvoiceID: 2, Amount: amt("500")}}}, testToday)
	refreshed := failed.Refreshed(paid, f.pool, f.custody)
	require.False(t, refreshed.NeedsRefresh())
	require.Equal(t, []int64{1}, refreshed.Draft().InvoiceIDs, "paid invoice dropped from selection")
	require.Equal(t, StateFailed, refreshed.State())

	_, _, err = refreshed.BeginSubmit(paid, f.pool, f.custody)
	require.NoError(t, err)
}

func TestRefreshedPrunesConsumedSelections(t *testing.T) {
	ok := must(t)
	f := newFixture()
	chk, _ := f.custody.find(1)
	c := ok(NewComposer(1, testToday).ToggleAdvance(50))
	c = ok(c.ToggleCheck(chk))

	pool, err := f.pool.Consume([]int64{50}, 60)
	require.NoError(t, err)
	custody := f.custody.without([]int64{1})

	refreshed := c.Refreshed(f.ledger, pool, custody)
	d := refreshed.Draft()
	require.Empty(t, d.AdvanceIDs)
	require.Empty(t, d.Checks)
	require.True(t, d.Instruments.ThirdPartyChecks.IsZero())
}

func TestConfirmAndCloseReceipt(t *testing.T) {
	f := newFixture()
	sending, payload, err := readyComposer(t).BeginSubmit(f.ledger, f.pool, f.custody)
	require.NoError(t, err)

	order := payload.toOrder(101, orderNumber(101))
	confirmed := sending.Resolve(order, nil)
	require.Equal(t, StateConfirmed, confirmed.State())
	got, ok := confirmed.Confirmed()
	require.True(t, ok)
	require.Equal(t, "OP-00000101", got.Number)

	_, err = confirmed.ToggleInvoice(3)
	require.ErrorIs(t, err, ErrComposerLocked)

	fresh, err := confirmed.CloseReceipt(testToday)
	require.NoError(t, err)
	require.Equal(t, StateDraftEmpty, fresh.State())
	_, ok = fresh.Confirmed()
	require.False(t, ok)

	_, err = fresh.CloseReceipt(testToday)
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestResolveIgnoresIdleComposer(t *testing.T) {
	c := readyComposer(t)
	require.Equal(t, c, c.Resolve(PaymentOrder{}, errNetwork))
}
