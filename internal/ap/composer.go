package ap

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

// ComposerState is the lifecycle state of a payment order draft.
type ComposerState string

const (
	StateDraftEmpty   ComposerState = "DRAFT_EMPTY"
	StateDraftPartial ComposerState = "DRAFT_PARTIAL"
	StateReady        ComposerState = "READY"
	StateSubmitting   ComposerState = "SUBMITTING"
	StateConfirmed    ComposerState = "CONFIRMED"
	StateFailed       ComposerState = "FAILED"
)

// Draft is the user-entered content of a payment order.
type Draft struct {
	Date        time.Time           `json:"date"`
	Instruments InstrumentBreakdown `json:"instruments"`
	OwnChecks   []OwnCheck          `json:"own_checks"`
	InvoiceIDs  []int64             `json:"invoice_ids"`
	AdvanceIDs  []int64             `json:"advance_ids"`
	Checks      []ThirdPartyCheck   `json:"checks"`
	Notes       string              `json:"notes"`
}

// CheckIDs lists the selected custody checks.
func (d Draft) CheckIDs() []int64 {
	ids := make([]int64, len(d.Checks))
	for i, c := range d.Checks {
		ids[i] = c.ID
	}
	return ids
}

// Tendered is the total across instruments.
func (d Draft) Tendered() money.Money {
	return d.Instruments.Total()
}

func (d Draft) clone() Draft {
	d.OwnChecks = slices.Clone(d.OwnChecks)
	d.InvoiceIDs = slices.Clone(d.InvoiceIDs)
	d.AdvanceIDs = slices.Clone(d.AdvanceIDs)
	d.Checks = slices.Clone(d.Checks)
	return d
}

// syncDerived recomputes the buckets backed by check detail.
func (d Draft) syncDerived() Draft {
	checks := money.Zero()
	for _, c := range d.Checks {
		checks = checks.Add(c.Amount)
	}
	own := money.Zero()
	for _, c := range d.OwnChecks {
		own = own.Add(c.Amount)
	}
	d.Instruments = d.Instruments.With(InstrumentThirdPartyChecks, checks).With(InstrumentOwnChecks, own)
	return d
}

// Quote is the computed outcome of a draft against the current ledger.
type Quote struct {
	Tendered         money.Money         `json:"tendered"`
	Coverage         money.Money         `json:"coverage"`
	Advances         money.Money         `json:"advances"`
	NetDue           money.Money         `json:"net_due"`
	Difference       money.Money         `json:"difference"`
	GeneratedAdvance money.Money         `json:"generated_advance"`
	Applied          []AppliedInvoice    `json:"applied"`
	Instruments      InstrumentBreakdown `json:"instruments"`
}

// Validate reports why the quote cannot be submitted.
func (q Quote) Validate() error {
	switch {
	case len(q.Applied) == 0:
		return ErrNoInvoicesSelected
	case !q.Tendered.IsPositive():
		return ErrNothingTendered
	case q.Difference.IsNegative():
		return fmt.Errorf("%w: short by %s", ErrInsufficientTender, q.Difference.Neg())
	}
	return nil
}

// Composer drives a payment order draft through submission. Every method
// returns a new value; a Composer is never mutated in place.
type Composer struct {
	supplierID   int64
	nonce        string
	draft        Draft
	stage        ComposerState
	lastErr      *SubmitError
	needsRefresh bool
	confirmed    *PaymentOrder
}

// NewComposer starts an empty draft dated today.
func NewComposer(supplierID int64, today time.Time) Composer {
	return Composer{
		supplierID: supplierID,
		nonce:      uuid.NewString(),
		draft:      Draft{Date: dateOf(today)},
	}
}

// WithNonce replaces the idempotency nonce with a caller-supplied token, so a
// client retrying the same request reuses the same key.
func (c Composer) WithNonce(nonce string) Composer {
	if nonce != "" {
		c.nonce = nonce
	}
	return c
}

// Draft returns a copy of the draft.
func (c Composer) Draft() Draft {
	return c.draft.clone()
}

// State derives the lifecycle state.
func (c Composer) State() ComposerState {
	if c.stage != "" {
		return c.stage
	}
	hasInvoices := len(c.draft.InvoiceIDs) > 0
	tendered := c.draft.Tendered().IsPositive()
	switch {
	case hasInvoices && tendered:
		return StateReady
	case hasInvoices || tendered || len(c.draft.AdvanceIDs) > 0:
		return StateDraftPartial
	}
	return StateDraftEmpty
}

// LastError is the failure of the latest submission, if any.
func (c Composer) LastError() *SubmitError {
	return c.lastErr
}

// NeedsRefresh reports whether a conflict requires a full re-pull before the
// next submission.
func (c Composer) NeedsRefresh() bool {
	return c.needsRefresh
}

// Confirmed returns the order confirmed by the latest submission.
func (c Composer) Confirmed() (PaymentOrder, bool) {
	if c.confirmed == nil {
		return PaymentOrder{}, false
	}
	return *c.confirmed, true
}

func (c Composer) edit(fn func(d Draft) (Draft, error)) (Composer, error) {
	if c.stage == StateSubmitting || c.stage == StateConfirmed {
		return c, ErrComposerLocked
	}
	d, err := fn(c.draft.clone())
	if err != nil {
		return c, err
	}
	c.draft = d.syncDerived()
	c.stage = ""
	c.lastErr = nil
	return c, nil
}

// SetAmount sets one directly entered instrument.
func (c Composer) SetAmount(inst Instrument, amount money.Money) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		if inst == InstrumentThirdPartyChecks || inst == InstrumentOwnChecks {
			return d, ErrDerivedInstrument
		}
		if !slices.Contains(Instruments, inst) {
			return d, fmt.Errorf("%w: unknown instrument %q", shared.ErrValidation, inst)
		}
		if amount.IsNegative() {
			return d, ErrNegativeAmount
		}
		d.Instruments = d.Instruments.With(inst, amount)
		return d, nil
	})
}

// SetAmountText sets an instrument from free-text input.
func (c Composer) SetAmountText(inst Instrument, text string) (Composer, error) {
	return c.SetAmount(inst, money.ParseAmountMoney(text))
}

// ToggleInvoice selects or deselects an invoice.
func (c Composer) ToggleInvoice(id int64) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		d.InvoiceIDs = toggle(d.InvoiceIDs, id)
		return d, nil
	})
}

// ToggleAdvance selects or deselects an available advance.
func (c Composer) ToggleAdvance(id int64) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		d.AdvanceIDs = toggle(d.AdvanceIDs, id)
		return d, nil
	})
}

// ToggleCheck selects or deselects a custody check.
func (c Composer) ToggleCheck(check ThirdPartyCheck) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		if i := slices.IndexFunc(d.Checks, func(x ThirdPartyCheck) bool { return x.ID == check.ID }); i >= 0 {
			d.Checks = slices.Delete(d.Checks, i, i+1)
			return d, nil
		}
		d.Checks = append(d.Checks, check)
		return d, nil
	})
}

// AddOwnCheck appends an own check.
func (c Composer) AddOwnCheck(check OwnCheck) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		if !check.Amount.IsPositive() {
			return d, ErrNegativeAmount
		}
		d.OwnChecks = append(d.OwnChecks, check)
		return d, nil
	})
}

// RemoveOwnCheck drops the own check at index i.
func (c Composer) RemoveOwnCheck(i int) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		if i < 0 || i >= len(d.OwnChecks) {
			return d, fmt.Errorf("%w: own check %d does not exist", shared.ErrValidation, i)
		}
		d.OwnChecks = slices.Delete(d.OwnChecks, i, i+1)
		return d, nil
	})
}

// SetNotes replaces the notes.
func (c Composer) SetNotes(notes string) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		d.Notes = notes
		return d, nil
	})
}

// SetDate replaces the payment date.
func (c Composer) SetDate(date time.Time) (Composer, error) {
	return c.edit(func(d Draft) (Draft, error) {
		d.Date = dateOf(date)
		return d, nil
	})
}

// Quote computes totals for the draft. Selected invoices are applied for
// their full open balance.
func (c Composer) Quote(ledger Ledger, pool AdvancePool, custody Custody) (Quote, error) {
	q := Quote{Instruments: c.draft.Instruments}
	coverage := money.Zero()
	for _, id := range c.draft.InvoiceIDs {
		inv, ok := ledger.Get(id)
		if !ok {
			return Quote{}, fmt.Errorf("invoice %d: %w", id, ErrInvoiceNotFound)
		}
		if !inv.Balance.IsPositive() {
			return Quote{}, fmt.Errorf("invoice %s: %w", inv.Number, ErrInvoiceNotPayable)
		}
		coverage = coverage.Add(inv.Balance)
		q.Applied = append(q.Applied, AppliedInvoice{InvoiceID: inv.ID, Amount: inv.Balance})
	}
	advances, err := pool.Select(c.draft.AdvanceIDs)
	if err != nil {
		return Quote{}, err
	}
	checks, err := custody.Select(c.draft.CheckIDs())
	if err != nil {
		return Quote{}, err
	}
	q.Instruments = q.Instruments.With(InstrumentThirdPartyChecks, checks)
	q.Tendered = q.Instruments.Total()
	q.Coverage = coverage
	q.Advances = advances
	q.NetDue = money.Max(coverage.Sub(advances), money.Zero())
	q.Difference = q.Tendered.Sub(q.NetDue)
	q.GeneratedAdvance = money.Max(q.Tendered.Add(advances).Sub(coverage), money.Zero())
	return q, nil
}

// BeginSubmit validates the draft and moves to SUBMITTING, returning the
// payload to send. An unchanged draft always yields the same idempotency key.
func (c Composer) BeginSubmit(ledger Ledger, pool AdvancePool, custody Custody) (Composer, PaymentOrderDraft, error) {
	if c.stage == StateSubmitting || c.stage == StateConfirmed {
		return c, PaymentOrderDraft{}, ErrComposerLocked
	}
	if c.needsRefresh {
		return c, PaymentOrderDraft{}, ErrRefreshRequired
	}
	q, err := c.Quote(ledger, pool, custody)
	if err != nil {
		return c, PaymentOrderDraft{}, err
	}
	if err := q.Validate(); err != nil {
		return c, PaymentOrderDraft{}, err
	}
	payload := PaymentOrderDraft{
		SupplierID:        c.supplierID,
		Date:              c.draft.Date,
		Instruments:       q.Instruments,
		OwnChecks:         slices.Clone(c.draft.OwnChecks),
		AppliedInvoices:   q.Applied,
		AppliedAdvanceIDs: slices.Clone(c.draft.AdvanceIDs),
		UsedCheckIDs:      c.draft.CheckIDs(),
		Notes:             c.draft.Notes,
		GeneratedAdvance:  q.GeneratedAdvance,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return c, PaymentOrderDraft{}, err
	}
	payload.IdempotencyKey = shared.IdempotencyKey([]byte(c.nonce), body)
	c.stage = StateSubmitting
	c.lastErr = nil
	return c, payload, nil
}

// Resolve records the collaborator's answer to the pending submission.
func (c Composer) Resolve(order PaymentOrder, err error) Composer {
	if c.stage != StateSubmitting {
		return c
	}
	if err == nil {
		c.stage = StateConfirmed
		c.confirmed = &order
		return c
	}
	c.stage = StateFailed
	c.lastErr = wrapSubmitError(err)
	if errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrNotFound) {
		c.needsRefresh = true
	}
	return c
}

// Refreshed clears the refresh requirement and drops selections that no
// longer exist after a full re-pull.
func (c Composer) Refreshed(ledger Ledger, pool AdvancePool, custody Custody) Composer {
	c.needsRefresh = false
	if c.stage == StateSubmitting || c.stage == StateConfirmed {
		return c
	}
	d := c.draft.clone()
	d.InvoiceIDs = slices.DeleteFunc(d.InvoiceIDs, func(id int64) bool {
		inv, ok := ledger.Get(id)
		return !ok || !inv.Balance.IsPositive()
	})
	d.AdvanceIDs = slices.DeleteFunc(d.AdvanceIDs, func(id int64) bool {
		_, err := pool.Select([]int64{id})
		return err != nil
	})
	d.Checks = slices.DeleteFunc(d.Checks, func(chk ThirdPartyCheck) bool {
		_, err := custody.Select([]int64{chk.ID})
		return err != nil
	})
	c.draft = d.syncDerived()
	return c
}

// CloseReceipt ends the receipt flow of a confirmed order, whether the user
// finished or cancelled it, and starts a fresh draft.
func (c Composer) CloseReceipt(today time.Time) (Composer, error) {
	if c.stage != StateConfirmed {
		return c, ErrNotConfirmed
	}
	return NewComposer(c.supplierID, today), nil
}

// toOrder builds the confirmed order from a payload when the collaborator's
// echo cannot be parsed.
func (d PaymentOrderDraft) toOrder(id int64, number string) PaymentOrder {
	return PaymentOrder{
		ID:                id,
		Number:            number,
		SupplierID:        d.SupplierID,
		Date:              d.Date,
		Instruments:       d.Instruments,
		OwnChecks:         slices.Clone(d.OwnChecks),
		AppliedInvoices:   slices.Clone(d.AppliedInvoices),
		AppliedAdvanceIDs: slices.Clone(d.AppliedAdvanceIDs),
		UsedCheckIDs:      slices.Clone(d.UsedCheckIDs),
		Notes:             d.Notes,
		GeneratedAdvance:  d.GeneratedAdvance,
	}
}

func toggle(ids []int64, id int64) []int64 {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return append(ids, id)
}
