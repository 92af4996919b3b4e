package ap

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// RawAmount accepts amounts as JSON numbers or strings.
type RawAmount string

// UnmarshalJSON keeps the literal digits of numbers and strings alike.
func (a *RawAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = RawAmount(strings.TrimSpace(s))
		return nil
	}
	*a = RawAmount(data)
	return nil
}

// SupplierRecord is the supplier as returned by the collaborator.
type SupplierRecord struct {
	ID    int64  `json:"id" validate:"gt=0"`
	Code  string `json:"code"`
	Name  string `json:"name" validate:"required"`
	TaxID string `json:"tax_id"`
}

// InvoiceRecord is an invoice as returned by the collaborator.
type InvoiceRecord struct {
	ID        int64     `json:"id" validate:"gt=0"`
	Number    string    `json:"number" validate:"required"`
	IssueDate string    `json:"issue_date" validate:"required"`
	DueDate   string    `json:"due_date"`
	Type      string    `json:"type" validate:"required,oneof=A B C"`
	Total     RawAmount `json:"total" validate:"required"`
	Balance   RawAmount `json:"balance"`
}

// AppliedInvoiceRecord is one invoice application inside a payment order record.
type AppliedInvoiceRecord struct {
	InvoiceID int64     `json:"invoice_id" validate:"gt=0"`
	Amount    RawAmount `json:"amount" validate:"required"`
}

// OwnCheckRecord is an own check inside a payment order record.
type OwnCheckRecord struct {
	Number  string    `json:"number" validate:"required"`
	Bank    string    `json:"bank"`
	DueDate string    `json:"due_date"`
	Amount  RawAmount `json:"amount" validate:"required"`
}

// PaymentOrderRecord is a payment order as returned by the collaborator.
type PaymentOrderRecord struct {
	ID                     int64                  `json:"id" validate:"gt=0"`
	Number                 string                 `json:"number"`
	SupplierID             int64                  `json:"supplier_id"`
	Date                   string                 `json:"date" validate:"required"`
	Cash                   RawAmount              `json:"cash"`
	ForeignCash            RawAmount              `json:"foreign_cash"`
	WireTransfer           RawAmount              `json:"wire_transfer"`
	ThirdPartyChecks       RawAmount              `json:"third_party_checks"`
	OwnChecksTotal         RawAmount              `json:"own_checks_total"`
	WithholdingVAT         RawAmount              `json:"withholding_vat"`
	WithholdingIncomeTax   RawAmount              `json:"withholding_income_tax"`
	WithholdingGrossIncome RawAmount              `json:"withholding_gross_income"`
	OwnChecks              []OwnCheckRecord       `json:"own_checks" validate:"dive"`
	AppliedInvoices        []AppliedInvoiceRecord `json:"applied_invoices" validate:"dive"`
	AppliedAdvanceIDs      []int64                `json:"applied_advance_ids" validate:"dive,gt=0"`
	UsedCheckIDs           []int64                `json:"used_check_ids" validate:"dive,gt=0"`
	Notes                  string                 `json:"notes"`
	GeneratedAdvance       RawAmount              `json:"generated_advance"`
}

// CheckRecord is a custody check as returned by the collaborator.
type CheckRecord struct {
	ID         int64     `json:"id" validate:"gt=0"`
	Number     string    `json:"number" validate:"required"`
	Bank       string    `json:"bank"`
	HolderName string    `json:"holder_name"`
	DueDate    string    `json:"due_date" validate:"required"`
	Amount     RawAmount `json:"amount" validate:"required"`
	Kind       string    `json:"kind" validate:"omitempty,oneof=CHECK ECHEQ"`
}

var recordValidator = validator.New()

// ParseSupplier normalizes a supplier record.
func ParseSupplier(rec SupplierRecord) (Supplier, error) {
	if err := validateRecord("supplier", rec.ID, rec); err != nil {
		return Supplier{}, err
	}
	return Supplier{ID: rec.ID, Code: rec.Code, Name: rec.Name, TaxID: rec.TaxID}, nil
}

// ParseInvoice normalizes an invoice record. A missing or malformed due date
// leaves the invoice without one. Status is derived as of today.
func ParseInvoice(rec InvoiceRecord, today time.Time) (Invoice, error) {
	if err := validateRecord("invoice", rec.ID, rec); err != nil {
		return Invoice{}, err
	}
	issued, err := parseDate(rec.IssueDate)
	if err != nil {
		return Invoice{}, malformed("invoice", rec.ID, "issue_date", err.Error())
	}
	total, err := parseAmount(rec.Total)
	if err != nil {
		return Invoice{}, malformed("invoice", rec.ID, "total", err.Error())
	}
	balance := total
	if rec.Balance != "" {
		if balance, err = parseAmount(rec.Balance); err != nil {
			return Invoice{}, malformed("invoice", rec.ID, "balance", err.Error())
		}
	}
	if total.IsNegative() {
		return Invoice{}, malformed("invoice", rec.ID, "total", "negative amount")
	}
	if balance.IsNegative() || balance.GreaterThan(total) {
		return Invoice{}, malformed("invoice", rec.ID, "balance", "outside [0, total]")
	}
	var due *time.Time
	if d, err := parseDate(rec.DueDate); err == nil {
		due = &d
	}
	return Invoice{
		ID:        rec.ID,
		Number:    rec.Number,
		IssueDate: issued,
		DueDate:   due,
		Type:      InvoiceType(rec.Type),
		Total:     total,
		Balance:   balance,
		Status:    DeriveStatus(total, balance, due, today),
	}, nil
}

// ParsePaymentOrder normalizes a payment order record.
func ParsePaymentOrder(rec PaymentOrderRecord) (PaymentOrder, error) {
	if err := validateRecord("payment_order", rec.ID, rec); err != nil {
		return PaymentOrder{}, err
	}
	date, err := parseDate(rec.Date)
	if err != nil {
		return PaymentOrder{}, malformed("payment_order", rec.ID, "date", err.Error())
	}
	order := PaymentOrder{
		ID:                rec.ID,
		Number:            rec.Number,
		SupplierID:        rec.SupplierID,
		Date:              date,
		AppliedAdvanceIDs: append([]int64(nil), rec.AppliedAdvanceIDs...),
		UsedCheckIDs:      append([]int64(nil), rec.UsedCheckIDs...),
		Notes:             rec.Notes,
	}
	buckets := []struct {
		field string
		raw   RawAmount
		inst  Instrument
	}{
		{"cash", rec.Cash, InstrumentCash},
		{"foreign_cash", rec.ForeignCash, InstrumentForeignCash},
		{"wire_transfer", rec.WireTransfer, InstrumentWireTransfer},
		{"third_party_checks", rec.ThirdPartyChecks, InstrumentThirdPartyChecks},
		{"own_checks_total", rec.OwnChecksTotal, InstrumentOwnChecks},
		{"withholding_vat", rec.WithholdingVAT, InstrumentWithholdingVAT},
		{"withholding_income_tax", rec.WithholdingIncomeTax, InstrumentWithholdingIncomeTax},
		{"withholding_gross_income", rec.WithholdingGrossIncome, InstrumentWithholdingGrossIncome},
	}
	for _, b := range buckets {
		amount, err := parseOptionalAmount(b.raw)
		if err != nil || amount.IsNegative() {
			return PaymentOrder{}, malformed("payment_order", rec.ID, b.field, "invalid amount")
		}
		order.Instruments = order.Instruments.With(b.inst, amount)
	}
	for _, a := range rec.AppliedInvoices {
		amount, err := parseAmount(a.Amount)
		if err != nil || !amount.IsPositive() {
			return PaymentOrder{}, malformed("payment_order", rec.ID, "applied_invoices", "invalid amount")
		}
		order.AppliedInvoices = append(order.AppliedInvoices, AppliedInvoice{InvoiceID: a.InvoiceID, Amount: amount})
	}
	for _, c := range rec.OwnChecks {
		amount, err := parseAmount(c.Amount)
		if err != nil || !amount.IsPositive() {
			return PaymentOrder{}, malformed("payment_order", rec.ID, "own_checks", "invalid amount")
		}
		due, _ := parseDate(c.DueDate)
		order.OwnChecks = append(order.OwnChecks, OwnCheck{Number: c.Number, Bank: c.Bank, DueDate: due, Amount: amount})
	}
	if order.GeneratedAdvance, err = parseOptionalAmount(rec.GeneratedAdvance); err != nil || order.GeneratedAdvance.IsNegative() {
		return PaymentOrder{}, malformed("payment_order", rec.ID, "generated_advance", "invalid amount")
	}
	return order, nil
}

// ParseCheck normalizes a custody check record.
func ParseCheck(rec CheckRecord) (ThirdPartyCheck, error) {
	if err := validateRecord("check", rec.ID, rec); err != nil {
		return ThirdPartyCheck{}, err
	}
	due, err := parseDate(rec.DueDate)
	if err != nil {
		return ThirdPartyCheck{}, malformed("check", rec.ID, "due_date", err.Error())
	}
	amount, err := parseAmount(rec.Amount)
	if err != nil || !amount.IsPositive() {
		return ThirdPartyCheck{}, malformed("check", rec.ID, "amount", "invalid amount")
	}
	kind := CheckKind(rec.Kind)
	if kind == "" {
		kind = CheckKindPaper
	}
	return ThirdPartyCheck{
		ID:         rec.ID,
		Number:     rec.Number,
		Bank:       rec.Bank,
		HolderName: rec.HolderName,
		DueDate:    due,
		Amount:     amount,
		Kind:       kind,
	}, nil
}

// ParseInvoices normalizes a batch, keeping fetch order and collecting
// diagnostics for excluded records.
func ParseInvoices(recs []InvoiceRecord, today time.Time) ([]Invoice, []error) {
	out := make([]Invoice, 0, len(recs))
	var diags []error
	for _, rec := range recs {
		inv, err := ParseInvoice(rec, today)
		if err != nil {
			diags = append(diags, err)
			continue
		}
		out = append(out, inv)
	}
	return out, diags
}

// ParsePaymentOrders normalizes a batch of payment order records.
func ParsePaymentOrders(recs []PaymentOrderRecord) ([]PaymentOrder, []error) {
	out := make([]PaymentOrder, 0, len(recs))
	var diags []error
	for _, rec := range recs {
		order, err := ParsePaymentOrder(rec)
		if err != nil {
			diags = append(diags, err)
			continue
		}
		out = append(out, order)
	}
	return out, diags
}

// ParseChecks normalizes a batch of custody check records.
func ParseChecks(recs []CheckRecord) ([]ThirdPartyCheck, []error) {
	out := make([]ThirdPartyCheck, 0, len(recs))
	var diags []error
	for _, rec := range recs {
		check, err := ParseCheck(rec)
		if err != nil {
			diags = append(diags, err)
			continue
		}
		out = append(out, check)
	}
	return out, diags
}

func validateRecord(kind string, id int64, rec any) error {
	err := recordValidator.Struct(rec)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return malformed(kind, id, fe.Field(), "failed "+fe.Tag())
	}
	return malformed(kind, id, "record", err.Error())
}

func malformed(kind string, id int64, field, reason string) error {
	return &MalformedRecordError{Kind: kind, ID: id, Field: field, Reason: reason}
}

func parseAmount(raw RawAmount) (money.Money, error) {
	return money.Parse(string(raw))
}

func parseOptionalAmount(raw RawAmount) (money.Money, error) {
	if raw == "" {
		return money.Zero(), nil
	}
	return parseAmount(raw)
}

// parseDate accepts plain dates and RFC 3339 timestamps.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return dateOf(t), nil
}
