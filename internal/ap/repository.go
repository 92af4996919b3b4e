package ap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
	"github.com/odyssey-erp/supplier-ledger/internal/platform/db"
	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

const idempotencyModule = "ap.payment_order"

// errReplay aborts a submission whose idempotency key is already registered.
var errReplay = errors.New("payment order already submitted")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository is the PostgreSQL implementation of Collaborator.
type PGRepository struct {
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
	audit       *shared.AuditLogger
}

var _ Collaborator = (*PGRepository)(nil)

// NewPGRepository builds the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, idempotency: shared.NewIdempotencyStore(pool), audit: shared.NewAuditLogger(pool)}
}

func (r *PGRepository) FetchSupplier(ctx context.Context, id int64) (SupplierRecord, error) {
	var rec SupplierRecord
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, tax_id FROM suppliers WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Code, &rec.Name, &rec.TaxID)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierRecord{}, fmt.Errorf("supplier %d: %w", id, ErrSupplierNotFound)
	}
	return rec, err
}

func (r *PGRepository) FetchInvoices(ctx context.Context, supplierID int64) ([]InvoiceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, number, issue_date::text, COALESCE(due_date::text, ''), invoice_type, total::text, balance::text
		FROM supplier_invoices
		WHERE supplier_id = $1
		ORDER BY issue_date, id`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceRecord
	for rows.Next() {
		var rec InvoiceRecord
		var total, balance string
		if err := rows.Scan(&rec.ID, &rec.Number, &rec.IssueDate, &rec.DueDate, &rec.Type, &total, &balance); err != nil {
			return nil, err
		}
		rec.Total, rec.Balance = RawAmount(total), RawAmount(balance)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PGRepository) FetchPaymentOrders(ctx context.Context, supplierID int64) ([]PaymentOrderRecord, error) {
	return loadPaymentOrders(ctx, r.pool, `supplier_id = $1`, supplierID)
}

func (r *PGRepository) FetchChecks(ctx context.Context) ([]CheckRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.number, c.bank, c.holder_name, c.due_date::text, c.amount::text, c.kind
		FROM third_party_checks c
		WHERE NOT EXISTS (SELECT 1 FROM payment_order_checks pc WHERE pc.check_id = c.id)
		ORDER BY c.due_date, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CheckRecord
	for rows.Next() {
		var rec CheckRecord
		var amount string
		if err := rows.Scan(&rec.ID, &rec.Number, &rec.Bank, &rec.HolderName, &rec.DueDate, &amount, &rec.Kind); err != nil {
			return nil, err
		}
		rec.Amount = RawAmount(amount)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SubmitPaymentOrder persists the draft atomically: balances, advance
// consumption and check reservation either all commit or none do. A key that
// was already committed returns the original order.
func (r *PGRepository) SubmitPaymentOrder(ctx context.Context, draft PaymentOrderDraft) (PaymentOrderRecord, error) {
	var orderID int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.idempotency.CheckAndInsert(ctx, tx, draft.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplay
			}
			return err
		}
		id, err := insertPaymentOrder(ctx, tx, draft)
		if err != nil {
			return err
		}
		orderID = id
		return r.audit.Record(ctx, tx, shared.AuditLog{
			Action:   "payment_order.submit",
			Entity:   "payment_order",
			EntityID: strconv.FormatInt(id, 10),
			Meta: map[string]any{
				"supplier_id":       draft.SupplierID,
				"total":             draft.Instruments.Total().String(),
				"invoices":          len(draft.AppliedInvoices),
				"advances":          draft.AppliedAdvanceIDs,
				"checks":            draft.UsedCheckIDs,
				"generated_advance": draft.GeneratedAdvance.String(),
			},
		})
	})
	if errors.Is(err, errReplay) {
		return r.replay(ctx, draft.IdempotencyKey)
	}
	if err != nil {
		return PaymentOrderRecord{}, err
	}
	return r.fetchPaymentOrder(ctx, orderID)
}

func (r *PGRepository) replay(ctx context.Context, key string) (PaymentOrderRecord, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM payment_orders WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentOrderRecord{}, fmt.Errorf("%w: idempotency key registered without an order", shared.ErrConflict)
	}
	if err != nil {
		return PaymentOrderRecord{}, err
	}
	return r.fetchPaymentOrder(ctx, id)
}

func (r *PGRepository) fetchPaymentOrder(ctx context.Context, id int64) (PaymentOrderRecord, error) {
	recs, err := loadPaymentOrders(ctx, r.pool, `id = $1`, id)
	if err != nil {
		return PaymentOrderRecord{}, err
	}
	if len(recs) == 0 {
		return PaymentOrderRecord{}, fmt.Errorf("payment order %d: %w", id, ErrPaymentOrderNotFound)
	}
	return recs[0], nil
}

func insertPaymentOrder(ctx context.Context, tx pgx.Tx, d PaymentOrderDraft) (int64, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, d.SupplierID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("supplier %d: %w", d.SupplierID, ErrSupplierNotFound)
	}
	for _, inst := range Instruments {
		if d.Instruments.Get(inst).IsNegative() {
			return 0, fmt.Errorf("%s: %w", inst, ErrNegativeAmount)
		}
	}

	applied := money.Zero()
	for _, a := range d.AppliedInvoices {
		var supplierID int64
		var balanceText string
		err := tx.QueryRow(ctx, `SELECT supplier_id, balance::text FROM supplier_invoices WHERE id = $1 FOR UPDATE`, a.InvoiceID).
			Scan(&supplierID, &balanceText)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && supplierID != d.SupplierID) {
			return 0, fmt.Errorf("invoice %d: %w", a.InvoiceID, ErrInvoiceNotFound)
		}
		if err != nil {
			return 0, err
		}
		balance, err := money.Parse(balanceText)
		if err != nil {
			return 0, err
		}
		if !balance.IsPositive() || !balance.Equal(a.Amount) {
			return 0, fmt.Errorf("invoice %d: %w", a.InvoiceID, ErrStaleBalance)
		}
		applied = applied.Add(a.Amount)
	}

	advances := money.Zero()
	for _, id := range d.AppliedAdvanceIDs {
		var supplierID int64
		var amountText string
		err := tx.QueryRow(ctx, `SELECT supplier_id, generated_advance::text FROM payment_orders WHERE id = $1 FOR UPDATE`, id).
			Scan(&supplierID, &amountText)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && supplierID != d.SupplierID) {
			return 0, fmt.Errorf("advance %d: %w", id, ErrAdvanceNotFound)
		}
		if err != nil {
			return 0, err
		}
		amount, err := money.Parse(amountText)
		if err != nil {
			return 0, err
		}
		if !amount.IsPositive() {
			return 0, fmt.Errorf("advance %d: %w", id, ErrAdvanceNotFound)
		}
		advances = advances.Add(amount)
	}

	checks := money.Zero()
	for _, id := range d.UsedCheckIDs {
		var amountText string
		err := tx.QueryRow(ctx, `SELECT amount::text FROM third_party_checks WHERE id = $1 FOR UPDATE`, id).Scan(&amountText)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("check %d: %w", id, ErrCheckAlreadyConsumed)
		}
		if err != nil {
			return 0, err
		}
		amount, err := money.Parse(amountText)
		if err != nil {
			return 0, err
		}
		checks = checks.Add(amount)
	}
	if !checks.Equal(d.Instruments.ThirdPartyChecks) {
		return 0, fmt.Errorf("third party checks: %w", ErrInstrumentMismatch)
	}
	own := money.Zero()
	for _, c := range d.OwnChecks {
		own = own.Add(c.Amount)
	}
	if !own.Equal(d.Instruments.OwnChecks) {
		return 0, fmt.Errorf("own checks: %w", ErrInstrumentMismatch)
	}
	if d.GeneratedAdvance.IsNegative() || !d.Instruments.Total().Equal(applied.Sub(advances).Add(d.GeneratedAdvance)) {
		return 0, ErrInstrumentMismatch
	}

	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO payment_orders (
			supplier_id, payment_date, cash, foreign_cash, wire_transfer, third_party_checks, own_checks,
			withholding_vat, withholding_income_tax, withholding_gross_income, notes, generated_advance, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		d.SupplierID, d.Date,
		d.Instruments.Cash.Decimal(), d.Instruments.ForeignCash.Decimal(), d.Instruments.WireTransfer.Decimal(),
		d.Instruments.ThirdPartyChecks.Decimal(), d.Instruments.OwnChecks.Decimal(),
		d.Instruments.WithholdingVAT.Decimal(), d.Instruments.WithholdingIncomeTax.Decimal(), d.Instruments.WithholdingGrossIncome.Decimal(),
		d.Notes, d.GeneratedAdvance.Decimal(), d.IdempotencyKey,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE payment_orders SET number = $2 WHERE id = $1`, id, orderNumber(id)); err != nil {
		return 0, err
	}

	for _, a := range d.AppliedInvoices {
		if _, err := tx.Exec(ctx, `INSERT INTO payment_order_invoices (payment_order_id, invoice_id, amount) VALUES ($1, $2, $3)`,
			id, a.InvoiceID, a.Amount.Decimal()); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `UPDATE supplier_invoices SET balance = balance - $2 WHERE id = $1`, a.InvoiceID, a.Amount.Decimal()); err != nil {
			return 0, err
		}
	}
	for _, advID := range d.AppliedAdvanceIDs {
		_, err := tx.Exec(ctx, `INSERT INTO payment_order_advances (payment_order_id, advance_order_id) VALUES ($1, $2)`, id, advID)
		if shared.IsUniqueViolation(err) {
			return 0, fmt.Errorf("advance %d: %w", advID, ErrAdvanceAlreadyConsumed)
		}
		if err != nil {
			return 0, err
		}
	}
	for _, checkID := range d.UsedCheckIDs {
		_, err := tx.Exec(ctx, `INSERT INTO payment_order_checks (payment_order_id, check_id) VALUES ($1, $2)`, id, checkID)
		if shared.IsUniqueViolation(err) {
			return 0, fmt.Errorf("check %d: %w", checkID, ErrCheckAlreadyConsumed)
		}
		if err != nil {
			return 0, err
		}
	}
	for _, c := range d.OwnChecks {
		if _, err := tx.Exec(ctx, `INSERT INTO payment_order_own_checks (payment_order_id, number, bank, due_date, amount) VALUES ($1, $2, $3, $4, $5)`,
			id, c.Number, c.Bank, c.DueDate, c.Amount.Decimal()); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DeleteInvoice removes an invoice. Cascading also drops its payment order
// links; without it an invoice carrying a balance is refused.
func (r *PGRepository) DeleteInvoice(ctx context.Context, id int64, cascade bool) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var open bool
		err := tx.QueryRow(ctx, `SELECT balance > 0 FROM supplier_invoices WHERE id = $1 FOR UPDATE`, id).Scan(&open)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("invoice %d: %w", id, ErrInvoiceNotFound)
		}
		if err != nil {
			return err
		}
		if open && !cascade {
			return ErrInvoiceHasBalance
		}
		if cascade {
			if _, err := tx.Exec(ctx, `DELETE FROM payment_order_invoices WHERE invoice_id = $1`, id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM supplier_invoices WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit.Record(ctx, tx, shared.AuditLog{
			Action:   "invoice.delete",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"cascade": cascade, "had_balance": open},
		})
	})
}

// DeletePaymentOrder removes an order and restores the balances it paid. An
// order whose advance was already consumed by a later order is refused.
func (r *PGRepository) DeletePaymentOrder(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var found int64
		err := tx.QueryRow(ctx, `SELECT id FROM payment_orders WHERE id = $1 FOR UPDATE`, id).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment order %d: %w", id, ErrPaymentOrderNotFound)
		}
		if err != nil {
			return err
		}
		var consumed bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_order_advances WHERE advance_order_id = $1)`, id).Scan(&consumed); err != nil {
			return err
		}
		if consumed {
			return fmt.Errorf("payment order %d: %w", id, ErrAdvanceAlreadyConsumed)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE supplier_invoices si
			SET balance = si.balance + poi.amount
			FROM payment_order_invoices poi
			WHERE poi.payment_order_id = $1 AND si.id = poi.invoice_id`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payment_orders WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit.Record(ctx, tx, shared.AuditLog{
			Action:   "payment_order.delete",
			Entity:   "payment_order",
			EntityID: strconv.FormatInt(id, 10),
		})
	})
}

// CleanupIdempotencyKeys drops registered keys older than retention. Orders
// keep their own key, so a late replay still resolves.
func (r *PGRepository) CleanupIdempotencyKeys(ctx context.Context, retention time.Duration) (int64, error) {
	return r.idempotency.Cleanup(ctx, retention)
}

// ListSuppliersWithOpenBalance returns the ids of suppliers that still owe
// on at least one invoice.
func (r *PGRepository) ListSuppliersWithOpenBalance(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT supplier_id FROM supplier_invoices
		WHERE balance > 0
		ORDER BY supplier_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadPaymentOrders(ctx context.Context, q querier, where string, arg any) ([]PaymentOrderRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT id, number, supplier_id, payment_date::text,
			cash::text, foreign_cash::text, wire_transfer::text, third_party_checks::text, own_checks::text,
			withholding_vat::text, withholding_income_tax::text, withholding_gross_income::text,
			notes, generated_advance::text
		FROM payment_orders
		WHERE `+where+`
		ORDER BY payment_date, id`, arg)
	if err != nil {
		return nil, err
	}
	var out []PaymentOrderRecord
	index := make(map[int64]int)
	for rows.Next() {
		var rec PaymentOrderRecord
		var amounts [9]string
		if err := rows.Scan(&rec.ID, &rec.Number, &rec.SupplierID, &rec.Date,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4],
			&amounts[5], &amounts[6], &amounts[7], &rec.Notes, &amounts[8]); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Cash, rec.ForeignCash, rec.WireTransfer = RawAmount(amounts[0]), RawAmount(amounts[1]), RawAmount(amounts[2])
		rec.ThirdPartyChecks, rec.OwnChecksTotal = RawAmount(amounts[3]), RawAmount(amounts[4])
		rec.WithholdingVAT, rec.WithholdingIncomeTax, rec.WithholdingGrossIncome = RawAmount(amounts[5]), RawAmount(amounts[6]), RawAmount(amounts[7])
		rec.GeneratedAdvance = RawAmount(amounts[8])
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]int64, len(out))
	for i, rec := range out {
		ids[i] = rec.ID
	}

	if err := eachRow(ctx, q, `SELECT payment_order_id, invoice_id, amount::text FROM payment_order_invoices WHERE payment_order_id = ANY($1) ORDER BY payment_order_id, invoice_id`, ids,
		func(rows pgx.Rows) error {
			var orderID, invoiceID int64
			var amount string
			if err := rows.Scan(&orderID, &invoiceID, &amount); err != nil {
				return err
			}
			rec := &out[index[orderID]]
			rec.AppliedInvoices = append(rec.AppliedInvoices, AppliedInvoiceRecord{InvoiceID: invoiceID, Amount: RawAmount(amount)})
			return nil
		}); err != nil {
		return nil, err
	}
	if err := eachRow(ctx, q, `SELECT payment_order_id, advance_order_id FROM payment_order_advances WHERE payment_order_id = ANY($1) ORDER BY payment_order_id, advance_order_id`, ids,
		func(rows pgx.Rows) error {
			var orderID, advanceID int64
			if err := rows.Scan(&orderID, &advanceID); err != nil {
				return err
			}
			rec := &out[index[orderID]]
			rec.AppliedAdvanceIDs = append(rec.AppliedAdvanceIDs, advanceID)
			return nil
		}); err != nil {
		return nil, err
	}
	if err := eachRow(ctx, q, `SELECT payment_order_id, check_id FROM payment_order_checks WHERE payment_order_id = ANY($1) ORDER BY payment_order_id, check_id`, ids,
		func(rows pgx.Rows) error {
			var orderID, checkID int64
			if err := rows.Scan(&orderID, &checkID); err != nil {
				return err
			}
			rec := &out[index[orderID]]
			rec.UsedCheckIDs = append(rec.UsedCheckIDs, checkID)
			return nil
		}); err != nil {
		return nil, err
	}
	if err := eachRow(ctx, q, `SELECT payment_order_id, number, bank, due_date::text, amount::text FROM payment_order_own_checks WHERE payment_order_id = ANY($1) ORDER BY payment_order_id, id`, ids,
		func(rows pgx.Rows) error {
			var orderID int64
			var c OwnCheckRecord
			var amount string
			if err := rows.Scan(&orderID, &c.Number, &c.Bank, &c.DueDate, &amount); err != nil {
				return err
			}
			c.Amount = RawAmount(amount)
			rec := &out[index[orderID]]
			rec.OwnChecks = append(rec.OwnChecks, c)
			return nil
		}); err != nil {
		return nil, err
	}
	return out, nil
}

func eachRow(ctx context.Context, q querier, sql string, ids []int64, fn func(pgx.Rows) error) error {
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// orderNumber formats the display number of an order.
func orderNumber(id int64) string {
	s := strconv.FormatInt(id, 10)
	for len(s) < 8 {
		s = "0" + s
	}
	return "OP-" + s
}
