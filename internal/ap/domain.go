package ap

import (
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// InvoiceType is the fiscal letter of a supplier invoice.
type InvoiceType string

const (
	InvoiceTypeA InvoiceType = "A"
	InvoiceTypeB InvoiceType = "B"
	InvoiceTypeC InvoiceType = "C"
)

// InvoiceStatus is always derived from balance, total and due date.
type InvoiceStatus string

const (
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusPending InvoiceStatus = "PENDING"
)

// Supplier identifies the counterparty of a ledger.
type Supplier struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}

// Invoice is a supplier invoice with its open balance.
type Invoice struct {
	ID        int64         `json:"id"`
	Number    string        `json:"number"`
	IssueDate time.Time     `json:"issue_date"`
	DueDate   *time.Time    `json:"due_date,omitempty"`
	Type      InvoiceType   `json:"type"`
	Total     money.Money   `json:"total"`
	Balance   money.Money   `json:"balance"`
	Status    InvoiceStatus `json:"status"`
}

// DeriveStatus computes the invoice status as of today.
func DeriveStatus(total, balance money.Money, due *time.Time, today time.Time) InvoiceStatus {
	switch {
	case balance.IsZero():
		return InvoiceStatusPaid
	case balance.LessThan(total):
		return InvoiceStatusPartial
	case due != nil && dateOf(*due).Before(dateOf(today)):
		return InvoiceStatusOverdue
	default:
		return InvoiceStatusPending
	}
}

// Instrument names a tender bucket of a payment order.
type Instrument string

const (
	InstrumentCash                   Instrument = "cash"
	InstrumentForeignCash            Instrument = "foreign_cash"
	InstrumentWireTransfer           Instrument = "wire_transfer"
	InstrumentThirdPartyChecks       Instrument = "third_party_checks"
	InstrumentOwnChecks              Instrument = "own_checks"
	InstrumentWithholdingVAT         Instrument = "withholding_vat"
	InstrumentWithholdingIncomeTax   Instrument = "withholding_income_tax"
	InstrumentWithholdingGrossIncome Instrument = "withholding_gross_income"
)

// Instruments lists every bucket in display order.
var Instruments = []Instrument{
	InstrumentCash,
	InstrumentForeignCash,
	InstrumentWireTransfer,
	InstrumentThirdPartyChecks,
	InstrumentOwnChecks,
	InstrumentWithholdingVAT,
	InstrumentWithholdingIncomeTax,
	InstrumentWithholdingGrossIncome,
}

// InstrumentBreakdown holds the amount tendered per instrument. Foreign cash
// is a parallel bucket and is never converted.
type InstrumentBreakdown struct {
	Cash                   money.Money `json:"cash"`
	ForeignCash            money.Money `json:"foreign_cash"`
	WireTransfer           money.Money `json:"wire_transfer"`
	ThirdPartyChecks       money.Money `json:"third_party_checks"`
	OwnChecks              money.Money `json:"own_checks"`
	WithholdingVAT         money.Money `json:"withholding_vat"`
	WithholdingIncomeTax   money.Money `json:"withholding_income_tax"`
	WithholdingGrossIncome money.Money `json:"withholding_gross_income"`
}

// Get returns the amount of one bucket.
func (b InstrumentBreakdown) Get(i Instrument) money.Money {
	switch i {
	case InstrumentCash:
		return b.Cash
	case InstrumentForeignCash:
		return b.ForeignCash
	case InstrumentWireTransfer:
		return b.WireTransfer
	case InstrumentThirdPartyChecks:
		return b.ThirdPartyChecks
	case InstrumentOwnChecks:
		return b.OwnChecks
	case InstrumentWithholdingVAT:
		return b.WithholdingVAT
	case InstrumentWithholdingIncomeTax:
		return b.WithholdingIncomeTax
	case InstrumentWithholdingGrossIncome:
		return b.WithholdingGrossIncome
	}
	return money.Zero()
}

// With returns a copy with one bucket replaced. Unknown instruments are ignored.
func (b InstrumentBreakdown) With(i Instrument, amount money.Money) InstrumentBreakdown {
	switch i {
	case InstrumentCash:
		b.Cash = amount
	case InstrumentForeignCash:
		b.ForeignCash = amount
	case InstrumentWireTransfer:
		b.WireTransfer = amount
	case InstrumentThirdPartyChecks:
		b.ThirdPartyChecks = amount
	case InstrumentOwnChecks:
		b.OwnChecks = amount
	case InstrumentWithholdingVAT:
		b.WithholdingVAT = amount
	case InstrumentWithholdingIncomeTax:
		b.WithholdingIncomeTax = amount
	case InstrumentWithholdingGrossIncome:
		b.WithholdingGrossIncome = amount
	}
	return b
}

// Total sums every bucket.
func (b InstrumentBreakdown) Total() money.Money {
	total := money.Zero()
	for _, i := range Instruments {
		total = total.Add(b.Get(i))
	}
	return total
}

// OwnCheck is a check issued by the company itself.
type OwnCheck struct {
	Number  string      `json:"number"`
	Bank    string      `json:"bank"`
	DueDate time.Time   `json:"due_date"`
	Amount  money.Money `json:"amount"`
}

// AppliedInvoice is the portion of a payment order applied to one invoice.
type AppliedInvoice struct {
	InvoiceID int64       `json:"invoice_id"`
	Amount    money.Money `json:"amount"`
}

// PaymentOrder is a confirmed payment to a supplier.
type PaymentOrder struct {
	ID                int64               `json:"id"`
	Number            string              `json:"number"`
	SupplierID        int64               `json:"supplier_id"`
	Date              time.Time           `json:"date"`
	Instruments       InstrumentBreakdown `json:"instruments"`
	OwnChecks         []OwnCheck          `json:"own_checks,omitempty"`
	AppliedInvoices   []AppliedInvoice    `json:"applied_invoices"`
	AppliedAdvanceIDs []int64             `json:"applied_advance_ids,omitempty"`
	UsedCheckIDs      []int64             `json:"used_check_ids,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	GeneratedAdvance  money.Money         `json:"generated_advance"`
}

// Total is the amount tendered across all instruments.
func (o PaymentOrder) Total() money.Money {
	return o.Instruments.Total()
}

// AppliedTotal is the amount applied to invoices.
func (o PaymentOrder) AppliedTotal() money.Money {
	total := money.Zero()
	for _, a := range o.AppliedInvoices {
		total = total.Add(a.Amount)
	}
	return total
}

// Identity is the composite key that collapses duplicate payment records.
type Identity struct {
	ID     int64
	Date   string
	Amount string
}

// Identity returns the dedup identity of the order.
func (o PaymentOrder) Identity() Identity {
	return Identity{
		ID:     o.ID,
		Date:   dateOf(o.Date).Format(dateLayout),
		Amount: o.Total().Key(),
	}
}

// Advance is a supplier credit generated by an overpaying order. Its ID is the
// ID of the order that generated it.
type Advance struct {
	ID            int64       `json:"id"`
	SourceOrderID int64       `json:"source_order_id"`
	Date          time.Time   `json:"date"`
	Amount        money.Money `json:"amount"`
	ConsumedBy    *int64      `json:"consumed_by,omitempty"`
}

// Consumed reports whether a later order already applied the advance.
func (a Advance) Consumed() bool {
	return a.ConsumedBy != nil
}

// CheckKind distinguishes paper checks from electronic ones.
type CheckKind string

const (
	CheckKindPaper      CheckKind = "CHECK"
	CheckKindElectronic CheckKind = "ECHEQ"
)

// ThirdPartyCheck is a negotiable instrument held in custody.
type ThirdPartyCheck struct {
	ID         int64       `json:"id"`
	Number     string      `json:"number"`
	Bank       string      `json:"bank"`
	HolderName string      `json:"holder_name"`
	DueDate    time.Time   `json:"due_date"`
	Amount     money.Money `json:"amount"`
	Kind       CheckKind   `json:"kind"`
}

// PaymentOrderDraft is the payload sent to the collaborator on submission.
type PaymentOrderDraft struct {
	IdempotencyKey    string              `json:"idempotency_key"`
	SupplierID        int64               `json:"supplier_id"`
	Date              time.Time           `json:"date"`
	Instruments       InstrumentBreakdown `json:"instruments"`
	OwnChecks         []OwnCheck          `json:"own_checks,omitempty"`
	AppliedInvoices   []AppliedInvoice    `json:"applied_invoices"`
	AppliedAdvanceIDs []int64             `json:"applied_advance_ids,omitempty"`
	UsedCheckIDs      []int64             `json:"used_check_ids,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	GeneratedAdvance  money.Money         `json:"generated_advance"`
}

const dateLayout = "2006-01-02"

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
