package ap

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

const submitLockTTL = 30 * time.Second

// SubmitRequest is a complete payment order composed in one call.
type SubmitRequest struct {
	ClientToken string                     `json:"client_token" validate:"required,max=64"`
	Date        *time.Time                 `json:"date"`
	Instruments map[Instrument]money.Money `json:"instruments"`
	OwnChecks   []OwnCheckInput            `json:"own_checks" validate:"dive"`
	InvoiceIDs  []int64                    `json:"invoice_ids" validate:"dive,gt=0"`
	AdvanceIDs  []int64                    `json:"advance_ids" validate:"dive,gt=0"`
	CheckIDs    []int64                    `json:"check_ids" validate:"dive,gt=0"`
	Notes       string                     `json:"notes" validate:"max=500"`
}

// OwnCheckInput is an own check in a SubmitRequest.
type OwnCheckInput struct {
	Number  string      `json:"number" validate:"required"`
	Bank    string      `json:"bank"`
	DueDate time.Time   `json:"due_date" validate:"required"`
	Amount  money.Money `json:"amount"`
}

// Preview is the outcome of composing a request without submitting it.
type Preview struct {
	State   ComposerState `json:"state"`
	Quote   Quote         `json:"quote"`
	Problem string        `json:"problem,omitempty"`
}

// Service exposes supplier ledgers to the HTTP surface, jobs and CLI. It
// keeps one Workspace per supplier.
type Service struct {
	collab   Collaborator
	cache    *StatementCache
	renderer PDFRenderer
	locker   *shared.Locker
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	workspaces map[int64]*Workspace
	loads      singleflight.Group
	statements singleflight.Group
}

// NewService wires the ledger service. cache, renderer, locker and metrics
// may be nil.
func NewService(collab Collaborator, cache *StatementCache, renderer PDFRenderer, locker *shared.Locker, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		collab:     collab,
		cache:      cache,
		renderer:   renderer,
		locker:     locker,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		workspaces: make(map[int64]*Workspace),
	}
}

func (s *Service) newWorkspace(supplierID int64) *Workspace {
	return NewWorkspace(s.collab, supplierID,
		WithLogger(s.logger.With(slog.Int64("supplier_id", supplierID))),
		WithMetrics(s.metrics),
		WithClock(s.now),
		WithNotifier(s),
	)
}

// Workspace returns the supplier's loaded workspace. Concurrent first loads
// of the same supplier share one collaborator round trip.
func (s *Service) Workspace(ctx context.Context, supplierID int64) (*Workspace, error) {
	s.mu.Lock()
	ws, ok := s.workspaces[supplierID]
	s.mu.Unlock()
	if ok {
		return ws, nil
	}
	v, err, _ := s.loads.Do(strconv.FormatInt(supplierID, 10), func() (any, error) {
		ws := s.newWorkspace(supplierID)
		if err := ws.Load(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.workspaces[supplierID] = ws
		s.mu.Unlock()
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Session returns the supplier's current session.
func (s *Service) Session(ctx context.Context, supplierID int64) (Session, error) {
	ws, err := s.Workspace(ctx, supplierID)
	if err != nil {
		return Session{}, err
	}
	return ws.Session(), nil
}

// Refresh re-pulls the supplier's ledger.
func (s *Service) Refresh(ctx context.Context, supplierID int64) (Session, error) {
	ws, err := s.Workspace(ctx, supplierID)
	if err != nil {
		return Session{}, err
	}
	err = ws.Refresh(ctx)
	return ws.Session(), err
}

// Preview composes the request against the current session and reports the
// resulting totals.
func (s *Service) Preview(ctx context.Context, supplierID int64, req SubmitRequest) (Preview, error) {
	session, err := s.Session(ctx, supplierID)
	if err != nil {
		return Preview{}, err
	}
	composer, err := composeRequest(session, req, s.now())
	if err != nil {
		return Preview{}, err
	}
	q, err := composer.Quote(session.Ledger, session.Advances, session.Custody)
	if err != nil {
		return Preview{}, err
	}
	p := Preview{State: composer.State(), Quote: q}
	if verr := q.Validate(); verr != nil {
		p.Problem = verr.Error()
	}
	return p, nil
}

// SubmitPaymentOrder composes and submits the request. The response is the
// receipt, so the receipt flow is closed on success.
func (s *Service) SubmitPaymentOrder(ctx context.Context, supplierID int64, req SubmitRequest) (PaymentOrder, error) {
	release, err := s.locker.Acquire(ctx, shared.SupplierLockKey(supplierID), submitLockTTL)
	if err != nil {
		return PaymentOrder{}, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release supplier lock", slog.Int64("supplier_id", supplierID), slog.Any("error", rerr))
		}
	}()

	ws, err := s.Workspace(ctx, supplierID)
	if err != nil {
		return PaymentOrder{}, err
	}
	if ws.Session().Composer.NeedsRefresh() {
		if err := ws.Refresh(ctx); err != nil {
			return PaymentOrder{}, err
		}
	}
	next, err := composeRequest(ws.Session(), req, s.now())
	if err != nil {
		return PaymentOrder{}, err
	}
	order, err := ws.SubmitComposer(ctx, next)
	if err != nil {
		return PaymentOrder{}, err
	}
	_, err = ws.Update(func(c Composer) (Composer, error) {
		if confirmed, ok := c.Confirmed(); !ok || confirmed.ID != order.ID {
			return c, nil
		}
		return c.CloseReceipt(s.now())
	})
	if err != nil {
		s.logger.Warn("close receipt", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
	}
	return order, nil
}

// DeleteInvoice deletes an invoice of the supplier.
func (s *Service) DeleteInvoice(ctx context.Context, supplierID, invoiceID int64, cascade bool) error {
	ws, err := s.Workspace(ctx, supplierID)
	if err != nil {
		return err
	}
	return ws.DeleteInvoice(ctx, invoiceID, cascade)
}

// DeletePaymentOrder deletes a payment order of the supplier.
func (s *Service) DeletePaymentOrder(ctx context.Context, supplierID, orderID int64) error {
	ws, err := s.Workspace(ctx, supplierID)
	if err != nil {
		return err
	}
	return ws.DeletePaymentOrder(ctx, orderID)
}

// Statement returns the supplier's statement, served from cache while the
// supplier's version is unchanged.
func (s *Service) Statement(ctx context.Context, supplierID int64, from, to *time.Time) (Statement, error) {
	key, err := s.cache.Key(ctx, supplierID, from, to)
	if err != nil {
		s.logger.Warn("statement cache unavailable", slog.Any("error", err))
		return s.buildStatement(ctx, supplierID, from, to)
	}
	ch := s.statements.DoChan(key, func() (any, error) {
		var st Statement
		err := s.cache.FetchJSON(ctx, key, &st, func(ctx context.Context) (any, error) {
			return s.buildStatement(ctx, supplierID, from, to)
		})
		return st, err
	})
	select {
	case <-ctx.Done():
		return Statement{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Statement{}, res.Err
		}
		return res.Val.(Statement), nil
	}
}

func (s *Service) buildStatement(ctx context.Context, supplierID int64, from, to *time.Time) (Statement, error) {
	ws := s.newWorkspace(supplierID)
	if err := ws.Load(ctx); err != nil {
		return Statement{}, err
	}
	return BuildStatement(ws.Session(), from, to), nil
}

// StatementPDF renders the statement through the PDF renderer.
func (s *Service) StatementPDF(ctx context.Context, supplierID int64, from, to *time.Time) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: pdf renderer not configured", shared.ErrUnavailable)
	}
	st, err := s.Statement(ctx, supplierID, from, to)
	if err != nil {
		return nil, err
	}
	html, err := RenderStatementHTML(st)
	if err != nil {
		return nil, err
	}
	pdf, err := s.renderer.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("%w: render statement: %w", shared.ErrUnavailable, err)
	}
	return pdf, nil
}

// WarmStatement preloads the full-range statement into the cache.
func (s *Service) WarmStatement(ctx context.Context, supplierID int64) error {
	_, err := s.Statement(ctx, supplierID, nil, nil)
	return err
}

// Invalidate drops the supplier's cached statements.
func (s *Service) Invalidate(ctx context.Context, supplierID int64) error {
	return s.cache.Invalidate(ctx, supplierID)
}

// composeRequest builds a fresh composer from a request.
func composeRequest(session Session, req SubmitRequest, today time.Time) (Composer, error) {
	c := NewComposer(session.Supplier.ID, today).WithNonce(req.ClientToken)
	for _, inst := range slices.Sorted(maps.Keys(req.Instruments)) {
		if !slices.Contains(Instruments, inst) {
			return c, fmt.Errorf("%q: %w", inst, ErrUnknownInstrument)
		}
	}
	var err error
	if req.Date != nil {
		if c, err = c.SetDate(*req.Date); err != nil {
			return c, err
		}
	}
	for _, inst := range Instruments {
		amount, ok := req.Instruments[inst]
		if !ok {
			continue
		}
		if c, err = c.SetAmount(inst, amount); err != nil {
			return c, fmt.Errorf("%s: %w", inst, err)
		}
	}
	for _, oc := range req.OwnChecks {
		if c, err = c.AddOwnCheck(OwnCheck{Number: oc.Number, Bank: oc.Bank, DueDate: dateOf(oc.DueDate), Amount: oc.Amount}); err != nil {
			return c, err
		}
	}
	for _, id := range uniqueIDs(req.InvoiceIDs) {
		if c, err = c.ToggleInvoice(id); err != nil {
			return c, err
		}
	}
	for _, id := range uniqueIDs(req.AdvanceIDs) {
		if c, err = c.ToggleAdvance(id); err != nil {
			return c, err
		}
	}
	for _, id := range uniqueIDs(req.CheckIDs) {
		chk, ok := session.Custody.find(id)
		if !ok {
			return c, fmt.Errorf("check %d: %w", id, ErrCheckAlreadyConsumed)
		}
		if c, err = c.ToggleCheck(chk); err != nil {
			return c, err
		}
	}
	return c.SetNotes(req.Notes)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
