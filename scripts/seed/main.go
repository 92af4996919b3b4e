package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/supplier-ledger/internal/ap"
	"github.com/odyssey-erp/supplier-ledger/internal/app"
	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

type seedInvoice struct {
	number string
	issued int // days before today
	dueIn  int // days after issue, 0 for no due date
	kind   string
	total  string
}

type seedSupplier struct {
	code, name, taxID string
	invoices          []seedInvoice
}

var suppliers = []seedSupplier{
	{
		code: "SUP-001", name: "ACME Supplies", taxID: "30-71234567-8",
		invoices: []seedInvoice{
			{"A-0001-00000101", 95, 30, "A", "125000.00"},
			{"A-0001-00000118", 40, 30, "A", "48250.50"},
			{"A-0001-00000131", 12, 30, "A", "310000.00"},
		},
	},
	{
		code: "SUP-002", name: "Northwind Logistics", taxID: "30-70987654-3",
		invoices: []seedInvoice{
			{"B-0003-00004410", 65, 15, "B", "18900.00"},
			{"B-0003-00004452", 20, 0, "B", "7350.75"},
		},
	},
	{
		code: "SUP-003", name: "Globex Packaging", taxID: "33-71555222-9",
		invoices: []seedInvoice{
			{"C-0002-00000077", 150, 60, "C", "9900.00"},
		},
	},
}

var checks = []struct {
	number, bank, holder, kind string
	dueIn                      int
	amount                     string
}{
	{"00012345", "Banco Nación", "Initech SA", "CHECK", 10, "25000.00"},
	{"00012346", "Banco Galicia", "Hooli SRL", "CHECK", 25, "60000.00"},
	{"E-998877", "Banco Santander", "Umbrella SA", "ECHEQ", 45, "120000.00"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ledger, err := app.OpenLedger(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close(logger)

	today := time.Now().UTC().Truncate(24 * time.Hour)

	fmt.Println("→ Seeding suppliers and invoices...")
	ids, err := seedSuppliers(ctx, ledger.Pool, today)
	if err != nil {
		log.Fatalf("seed suppliers: %v", err)
	}

	fmt.Println("→ Seeding third-party checks...")
	if err := seedChecks(ctx, ledger.Pool, today); err != nil {
		log.Fatalf("seed checks: %v", err)
	}

	fmt.Println("→ Seeding a payment order...")
	if err := seedPayment(ctx, ledger.Service, ids["SUP-001"]); err != nil {
		log.Fatalf("seed payment order: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedSuppliers(ctx context.Context, pool *pgxpool.Pool, today time.Time) (map[string]int64, error) {
	ids := make(map[string]int64, len(suppliers))
	for _, s := range suppliers {
		var id int64
		err := pool.QueryRow(ctx, `SELECT id FROM suppliers WHERE code = $1`, s.code).Scan(&id)
		if err == nil {
			ids[s.code] = id
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if err := pool.QueryRow(ctx, `
			INSERT INTO suppliers (code, name, tax_id) VALUES ($1, $2, $3)
			RETURNING id`, s.code, s.name, s.taxID).Scan(&id); err != nil {
			return nil, err
		}
		ids[s.code] = id

		batch := &pgx.Batch{}
		for _, inv := range s.invoices {
			issued := today.AddDate(0, 0, -inv.issued)
			var due *time.Time
			if inv.dueIn > 0 {
				d := issued.AddDate(0, 0, inv.dueIn)
				due = &d
			}
			batch.Queue(`
				INSERT INTO supplier_invoices (supplier_id, number, issue_date, due_date, invoice_type, total, balance)
				VALUES ($1, $2, $3, $4, $5, $6::numeric, $6::numeric)`,
				id, inv.number, issued, due, inv.kind, inv.total)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("%s invoices: %w", s.code, err)
		}
	}
	return ids, nil
}

func seedChecks(ctx context.Context, pool *pgxpool.Pool, today time.Time) error {
	for _, c := range checks {
		_, err := pool.Exec(ctx, `
			INSERT INTO third_party_checks (number, bank, holder_name, due_date, amount, kind)
			SELECT $1, $2, $3, $4, $5::numeric, $6
			WHERE NOT EXISTS (SELECT 1 FROM third_party_checks WHERE number = $1 AND bank = $2)`,
			c.number, c.bank, c.holder, today.AddDate(0, 0, c.dueIn), c.amount, c.kind)
		if err != nil {
			return err
		}
	}
	return nil
}

// seedPayment settles the supplier's oldest invoice in cash through the
// ledger service, so the seeded order carries real links and a receipt.
func seedPayment(ctx context.Context, svc *ap.Service, supplierID int64) error {
	session, err := svc.Session(ctx, supplierID)
	if err != nil {
		return err
	}
	if session.Payments.Len() > 0 {
		return nil
	}
	open := session.Ledger.List(ap.InvoiceFilter{OnlyWithBalance: true}, ap.InvoiceSort{})
	if len(open) == 0 {
		return nil
	}
	oldest := open[0]
	order, err := svc.SubmitPaymentOrder(ctx, supplierID, ap.SubmitRequest{
		ClientToken: "seed-" + oldest.Number,
		Instruments: map[ap.Instrument]money.Money{ap.InstrumentCash: oldest.Balance},
		InvoiceIDs:  []int64{oldest.ID},
		Notes:       "opening settlement",
	})
	if err != nil {
		return err
	}
	slog.Info("seeded payment order", slog.String("number", order.Number), slog.String("amount", order.Total().String()))
	return nil
}
