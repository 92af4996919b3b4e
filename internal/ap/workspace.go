package ap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

// Collaborator is the persistence API the ledger is loaded from and payment
// orders are submitted to.
type Collaborator interface {
	FetchSupplier(ctx context.Context, id int64) (SupplierRecord, error)
	FetchInvoices(ctx context.Context, supplierID int64) ([]InvoiceRecord, error)
	FetchPaymentOrders(ctx context.Context, supplierID int64) ([]PaymentOrderRecord, error)
	FetchChecks(ctx context.Context) ([]CheckRecord, error)
	SubmitPaymentOrder(ctx context.Context, draft PaymentOrderDraft) (PaymentOrderRecord, error)
	DeleteInvoice(ctx context.Context, id int64, cascade bool) error
	DeletePaymentOrder(ctx context.Context, id int64) error
}

// ChangeNotifier is told when a supplier's confirmed state changed.
type ChangeNotifier interface {
	Invalidate(ctx context.Context, supplierID int64) error
}

// WorkspaceOption customizes a Workspace.
type WorkspaceOption func(*Workspace)

func WithLogger(logger *slog.Logger) WorkspaceOption {
	return func(w *Workspace) { w.logger = logger }
}

func WithMetrics(m *Metrics) WorkspaceOption {
	return func(w *Workspace) { w.metrics = m }
}

func WithClock(now func() time.Time) WorkspaceOption {
	return func(w *Workspace) { w.now = now }
}

func WithNotifier(n ChangeNotifier) WorkspaceOption {
	return func(w *Workspace) { w.notifier = n }
}

// Workspace owns the Session of one supplier and serializes every change to
// it. Collaborator calls run without the lock.
type Workspace struct {
	collab     Collaborator
	supplierID int64
	logger     *slog.Logger
	metrics    *Metrics
	notifier   ChangeNotifier
	now        func() time.Time

	mu      sync.Mutex
	session Session
	guard   requestGuard
}

// NewWorkspace creates an unloaded workspace.
func NewWorkspace(collab Collaborator, supplierID int64, opts ...WorkspaceOption) *Workspace {
	w := &Workspace{
		collab:     collab,
		supplierID: supplierID,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.session = NewSession(Supplier{ID: supplierID}, w.now())
	return w
}

// Session returns the current snapshot.
func (w *Workspace) Session() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Load fetches the supplier and then every ledger resource.
func (w *Workspace) Load(ctx context.Context) error {
	err := w.refreshResource(ctx, ResourceSupplier, func(ctx context.Context) (func(Session) Session, error) {
		rec, err := w.collab.FetchSupplier(ctx, w.supplierID)
		if err != nil {
			return nil, err
		}
		supplier, err := ParseSupplier(rec)
		if err != nil {
			return nil, err
		}
		return func(s Session) Session { return s.WithSupplier(supplier) }, nil
	})
	if err != nil {
		return err
	}
	return w.Refresh(ctx)
}

// Refresh re-pulls invoices, payment orders and checks concurrently. A
// resource that fails keeps its previous state; the first failure is
// returned.
func (w *Workspace) Refresh(ctx context.Context) error {
	w.mu.Lock()
	w.session.Today = dateOf(w.now())
	today := w.session.Today
	w.mu.Unlock()

	var g errgroup.Group
	var applied [3]bool
	g.Go(func() error {
		var err error
		applied[0], err = w.refreshInvoices(ctx, today)
		return err
	})
	g.Go(func() error {
		var err error
		applied[1], err = w.refreshPayments(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		applied[2], err = w.refreshChecks(ctx)
		return err
	})
	err := g.Wait()
	if err == nil && applied[0] && applied[1] && applied[2] {
		w.mu.Lock()
		s := w.session
		w.session = s.WithComposer(s.Composer.Refreshed(s.Ledger, s.Advances, s.Custody))
		w.mu.Unlock()
	}
	return err
}

func (w *Workspace) refreshInvoices(ctx context.Context, today time.Time) (bool, error) {
	applied := false
	err := w.refreshResource(ctx, ResourceInvoices, func(ctx context.Context) (func(Session) Session, error) {
		recs, err := w.collab.FetchInvoices(ctx, w.supplierID)
		if err != nil {
			return nil, err
		}
		invoices, diags := ParseInvoices(recs, today)
		w.reportMalformed(ResourceInvoices, diags)
		return func(s Session) Session {
			applied = true
			return s.WithInvoices(invoices).WithDiagnostics(ResourceInvoices, diags)
		}, nil
	})
	return applied, err
}

func (w *Workspace) refreshPayments(ctx context.Context) (bool, error) {
	applied := false
	err := w.refreshResource(ctx, ResourcePayments, func(ctx context.Context) (func(Session) Session, error) {
		recs, err := w.collab.FetchPaymentOrders(ctx, w.supplierID)
		if err != nil {
			return nil, err
		}
		orders, diags := ParsePaymentOrders(recs)
		w.reportMalformed(ResourcePayments, diags)
		return func(s Session) Session {
			applied = true
			next := s.WithPayments(orders).WithDiagnostics(ResourcePayments, diags)
			w.metrics.addCollapsed(next.Payments.Collapsed())
			if n := next.Payments.Collapsed(); n > 0 {
				w.logger.Warn("collapsed duplicate payment orders", slog.Int64("supplier_id", w.supplierID), slog.Int("count", n))
			}
			return next
		}, nil
	})
	return applied, err
}

func (w *Workspace) refreshChecks(ctx context.Context) (bool, error) {
	applied := false
	err := w.refreshResource(ctx, ResourceChecks, func(ctx context.Context) (func(Session) Session, error) {
		recs, err := w.collab.FetchChecks(ctx)
		if err != nil {
			return nil, err
		}
		checks, diags := ParseChecks(recs)
		w.reportMalformed(ResourceChecks, diags)
		return func(s Session) Session {
			applied = true
			return s.WithChecks(checks).WithDiagnostics(ResourceChecks, diags)
		}, nil
	})
	return applied, err
}

// refreshResource runs fetch under a fresh sequence token and applies its
// result only if no newer request for r started in the meantime.
func (w *Workspace) refreshResource(ctx context.Context, r Resource, fetch func(context.Context) (func(Session) Session, error)) error {
	rctx, token := w.guard.begin(ctx, r)
	defer w.guard.finish(r, token)

	apply, err := fetch(rctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.guard.current(r, token) {
		w.metrics.staleDiscarded(r)
		w.logger.Debug("discarded superseded response", slog.String("resource", string(r)), slog.Int64("supplier_id", w.supplierID))
		return nil
	}
	w.metrics.refresh(r, err)
	if err != nil {
		err = classify(err)
		w.logger.Warn("refresh failed; keeping previous state",
			slog.String("resource", string(r)),
			slog.Int64("supplier_id", w.supplierID),
			slog.Any("error", err))
		return fmt.Errorf("refresh %s: %w", r, err)
	}
	w.session = apply(w.session)
	return nil
}

func (w *Workspace) reportMalformed(r Resource, diags []error) {
	if len(diags) == 0 {
		return
	}
	w.metrics.addMalformed(r, len(diags))
	for _, d := range diags {
		w.logger.Warn("excluded malformed record", slog.String("resource", string(r)), slog.Any("error", d))
	}
}

// Update applies an edit to the composer.
func (w *Workspace) Update(fn func(Composer) (Composer, error)) (Composer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := fn(w.session.Composer)
	if err != nil {
		return w.session.Composer, err
	}
	w.session = w.session.WithComposer(next)
	return next, nil
}

// Submit sends the composed payment order. Validation failures are returned
// as is and nothing is sent. Collaborator failures leave the composer FAILED
// with its draft intact and are returned as *SubmitError. On confirmation the
// order is projected immediately, every in-flight refresh is superseded and
// the ledger is re-pulled.
func (w *Workspace) Submit(ctx context.Context) (PaymentOrder, error) {
	return w.submit(ctx, nil)
}

// SubmitComposer installs c and submits it without releasing the workspace in
// between, so a concurrent caller can neither replace c nor have its own
// draft sent by this call. It fails with ErrComposerLocked while another
// submission is pending.
func (w *Workspace) SubmitComposer(ctx context.Context, c Composer) (PaymentOrder, error) {
	return w.submit(ctx, &c)
}

func (w *Workspace) submit(ctx context.Context, install *Composer) (PaymentOrder, error) {
	w.mu.Lock()
	s := w.session
	if install != nil {
		if s.Composer.State() == StateSubmitting {
			w.mu.Unlock()
			return PaymentOrder{}, ErrComposerLocked
		}
		s = s.WithComposer(*install)
		w.session = s
	}
	composer, draft, err := s.Composer.BeginSubmit(s.Ledger, s.Advances, s.Custody)
	if err != nil {
		w.mu.Unlock()
		return PaymentOrder{}, err
	}
	w.session = s.WithComposer(composer)
	w.mu.Unlock()

	rec, err := w.collab.SubmitPaymentOrder(ctx, draft)
	var order PaymentOrder
	if err == nil {
		var perr error
		if order, perr = ParsePaymentOrder(rec); perr != nil {
			w.logger.Warn("confirmed payment order echo is malformed; projecting the draft",
				slog.Int64("payment_order_id", rec.ID), slog.Any("error", perr))
			order = draft.toOrder(rec.ID, rec.Number)
		}
	}

	w.mu.Lock()
	w.session = w.session.WithComposer(w.session.Composer.Resolve(order, err))
	if err == nil {
		w.guard.supersede(ResourceInvoices, ResourcePayments, ResourceChecks)
		w.session = w.session.ApplyConfirmed(order)
	}
	w.mu.Unlock()

	if err != nil {
		serr := wrapSubmitError(err)
		w.metrics.submission(serr)
		w.logger.Warn("payment order submission failed",
			slog.Int64("supplier_id", w.supplierID),
			slog.Bool("retryable", serr.Retryable),
			slog.Any("error", err))
		return PaymentOrder{}, serr
	}
	w.metrics.submission(nil)
	w.logger.Info("payment order confirmed",
		slog.Int64("supplier_id", w.supplierID),
		slog.Int64("payment_order_id", order.ID),
		slog.String("total", order.Total().String()))
	w.afterChange(ctx)
	return order, nil
}

// CloseReceipt ends the receipt flow and clears the draft.
func (w *Workspace) CloseReceipt() error {
	_, err := w.Update(func(c Composer) (Composer, error) {
		return c.CloseReceipt(w.now())
	})
	return err
}

// DeleteInvoice deletes an invoice. An invoice with an open balance is only
// deleted with cascade, which also removes its payment order links.
func (w *Workspace) DeleteInvoice(ctx context.Context, id int64, cascade bool) error {
	s := w.Session()
	if inv, ok := s.Ledger.Get(id); ok && inv.Balance.IsPositive() && !cascade {
		return ErrInvoiceHasBalance
	}
	return w.delete(ctx, func(ctx context.Context) error {
		return w.collab.DeleteInvoice(ctx, id, cascade)
	}, func(s Session) Session {
		return s.WithoutInvoice(id)
	})
}

// DeletePaymentOrder deletes a confirmed order; the collaborator restores the
// balances it had paid.
func (w *Workspace) DeletePaymentOrder(ctx context.Context, id int64) error {
	return w.delete(ctx, func(ctx context.Context) error {
		return w.collab.DeletePaymentOrder(ctx, id)
	}, func(s Session) Session {
		return s.WithoutPaymentOrder(id)
	})
}

func (w *Workspace) delete(ctx context.Context, call func(context.Context) error, project func(Session) Session) error {
	err := call(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		if rerr := w.Refresh(ctx); rerr != nil {
			w.logger.Warn("re-pull after missing record failed", slog.Any("error", rerr))
		}
		return err
	}
	if err != nil {
		return classify(err)
	}
	w.mu.Lock()
	w.guard.supersede(ResourceInvoices, ResourcePayments, ResourceChecks)
	w.session = project(w.session)
	w.mu.Unlock()
	w.afterChange(ctx)
	return nil
}

func (w *Workspace) afterChange(ctx context.Context) {
	if w.notifier != nil {
		if err := w.notifier.Invalidate(ctx, w.supplierID); err != nil {
			w.logger.Warn("statement cache invalidation failed", slog.Int64("supplier_id", w.supplierID), slog.Any("error", err))
		}
	}
	if err := w.Refresh(ctx); err != nil {
		w.logger.Warn("re-pull after change incomplete", slog.Int64("supplier_id", w.supplierID), slog.Any("error", err))
	}
}
