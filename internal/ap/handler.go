package ap

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
	"github.com/odyssey-erp/supplier-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

// Handler exposes supplier ledgers over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	writeRate int
}

// NewHandler builds Handler instance. writeRate caps mutating requests per
// client IP and minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, writeRate int) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), writeRate: writeRate}
}

// MountRoutes registers the supplier ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/suppliers/{supplierID}", func(r chi.Router) {
		r.Get("/", h.showSummary)
		r.Get("/invoices", h.listInvoices)
		r.Get("/aging", h.showAging)
		r.Get("/payments", h.listPayments)
		r.Get("/advances", h.listAdvances)
		r.Get("/checks", h.listChecks)
		r.Get("/statement", h.showStatement)

		r.Group(func(r chi.Router) {
			if h.writeRate > 0 {
				r.Use(httprate.LimitByIP(h.writeRate, time.Minute))
			}
			r.Post("/refresh", h.refresh)
			r.Post("/payment-orders/preview", h.previewPaymentOrder)
			r.Post("/payment-orders", h.submitPaymentOrder)
			r.Delete("/payment-orders/{id}", h.deletePaymentOrder)
			r.Delete("/invoices/{id}", h.deleteInvoice)
		})
	})
}

type summaryResponse struct {
	Supplier     Supplier      `json:"supplier"`
	AsOf         time.Time     `json:"as_of"`
	Balance      money.Money   `json:"balance"`
	Credit       money.Money   `json:"credit"`
	Owed         money.Money   `json:"owed"`
	Aging        Aging         `json:"aging"`
	Invoices     int           `json:"invoices"`
	Payments     int           `json:"payments"`
	Collapsed    int           `json:"collapsed_duplicates"`
	Composer     ComposerState `json:"composer_state"`
	NeedsRefresh bool          `json:"needs_refresh"`
	Diagnostics  []string      `json:"diagnostics,omitempty"`
}

func newSummary(s Session) summaryResponse {
	resp := summaryResponse{
		Supplier:     s.Supplier,
		AsOf:         s.Today,
		Balance:      s.Ledger.TotalBalance(),
		Credit:       s.Advances.Credit(),
		Owed:         s.Owed(),
		Aging:        s.Ledger.Aging(s.Today),
		Invoices:     s.Ledger.Len(),
		Payments:     s.Payments.Len(),
		Collapsed:    s.Payments.Collapsed(),
		Composer:     s.Composer.State(),
		NeedsRefresh: s.Composer.NeedsRefresh(),
	}
	for _, r := range []Resource{ResourceInvoices, ResourcePayments, ResourceChecks} {
		for _, d := range s.Diagnostics[r] {
			resp.Diagnostics = append(resp.Diagnostics, d.Error())
		}
	}
	return resp
}

func (h *Handler) showSummary(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, newSummary(session))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	session, err := h.service.Refresh(r.Context(), supplierID)
	if err != nil {
		h.logger.Warn("supplier refresh incomplete", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSummary(session))
}

type page[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := InvoiceFilter{
		Search:          q.Get("search"),
		Status:          InvoiceStatus(strings.ToUpper(q.Get("status"))),
		OnlyWithBalance: q.Get("only_with_balance") == "true",
	}
	var err error
	if filter.DateFrom, err = queryDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateTo, err = queryDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order := InvoiceSort{Key: InvoiceSortKey(q.Get("sort")), Desc: q.Get("desc") == "true"}
	switch order.Key {
	case "", SortByDate, SortByTotal, SortByBalance, SortByDueDate:
	default:
		httpx.RespondError(w, fmt.Errorf("%w: unknown sort %q", shared.ErrValidation, order.Key))
		return
	}
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	items, p := shared.Paginate(session.Ledger.List(filter, order), queryInt(q.Get("page")), queryInt(q.Get("per_page")))
	httpx.JSON(w, http.StatusOK, page[Invoice]{Items: items, Pagination: p})
}

func (h *Handler) showAging(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	today := session.Today
	if asOf != nil {
		today = *asOf
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"as_of":   dateOf(today),
		"summary": session.Ledger.Aging(today),
		"buckets": session.Ledger.AgingBuckets(today),
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := PaymentFilter{Search: q.Get("search")}
	var err error
	if filter.DateFrom, err = queryDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DateTo, err = queryDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order := PaymentSort{Key: PaymentSortKey(q.Get("sort")), Desc: q.Get("desc") == "true"}
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	items, p := shared.Paginate(session.Payments.List(filter, order), queryInt(q.Get("page")), queryInt(q.Get("per_page")))
	httpx.JSON(w, http.StatusOK, page[PaymentOrder]{Items: items, Pagination: p})
}

func (h *Handler) listAdvances(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	advances := session.Advances.Available()
	if r.URL.Query().Get("include_consumed") == "true" {
		advances = session.Advances.All()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":  advances,
		"credit": session.Advances.Credit(),
	})
}

func (h *Handler) listChecks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := CheckFilter{Text: q.Get("text")}
	var err error
	if filter.MinAmount, err = queryMoney(q.Get("min")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.MaxAmount, err = queryMoney(q.Get("max")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DueFrom, err = queryDate(q.Get("due_from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DueTo, err = queryDate(q.Get("due_to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	selected, err := queryIDs(q.Get("selected"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view := session.Custody.View(filter, selected, q.Get("only_selected") == "true")
	total, err := session.Custody.Select(selected)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":          view,
		"selected_total": total,
	})
}

func (h *Handler) previewPaymentOrder(w http.ResponseWriter, r *http.Request) {
	supplierID, req, ok := h.decodeSubmit(w, r)
	if !ok {
		return
	}
	preview, err := h.service.Preview(r.Context(), supplierID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) submitPaymentOrder(w http.ResponseWriter, r *http.Request) {
	supplierID, req, ok := h.decodeSubmit(w, r)
	if !ok {
		return
	}
	order, err := h.service.SubmitPaymentOrder(r.Context(), supplierID, req)
	if err != nil {
		h.logger.Warn("submit payment order failed", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) deletePaymentOrder(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePaymentOrder(r.Context(), supplierID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := h.service.DeleteInvoice(r.Context(), supplierID, id, cascade); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) showStatement(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := queryDate(q.Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := queryDate(q.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if q.Get("format") == "pdf" || strings.Contains(r.Header.Get("Accept"), "application/pdf") {
		pdf, err := h.service.StatementPDF(r.Context(), supplierID, from, to)
		if err != nil {
			h.logger.Error("statement pdf failed", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=statement-%d.pdf", supplierID))
		_, _ = w.Write(pdf)
		return
	}
	st, err := h.service.Statement(r.Context(), supplierID, from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) decodeSubmit(w http.ResponseWriter, r *http.Request) (int64, SubmitRequest, bool) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return 0, SubmitRequest{}, false
	}
	var req SubmitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return 0, SubmitRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return 0, SubmitRequest{}, false
	}
	return supplierID, req, true
}

func (h *Handler) supplierID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "supplierID"))
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (Session, bool) {
	supplierID, ok := h.supplierID(w, r)
	if !ok {
		return Session{}, false
	}
	session, err := h.service.Session(r.Context(), supplierID)
	if err != nil {
		h.logger.Warn("load supplier ledger", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return Session{}, false
	}
	return session, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", shared.ErrValidation, raw)
	}
	return id, nil
}

func queryInt(raw string) int {
	v, _ := strconv.Atoi(raw)
	return v
}

func queryDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return &t, nil
}

func queryMoney(raw string) (*money.Money, error) {
	if raw == "" {
		return nil, nil
	}
	m, err := money.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", shared.ErrValidation, raw)
	}
	return &m, nil
}

func queryIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := parseID(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
