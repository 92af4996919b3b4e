package ap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger reconciliation.
type Metrics struct {
	collapsed   prometheus.Counter
	stale       *prometheus.CounterVec
	malformed   *prometheus.CounterVec
	submissions *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the ledger metrics. A nil registerer uses the default
// Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func (m *Metrics) addCollapsed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.collapsed.Add(float64(n))
}

func (m *Metrics) staleDiscarded(r Resource) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(string(r)).Inc()
}

func (m *Metrics) addMalformed(r Resource, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformed.WithLabelValues(string(r)).Add(float64(n))
}

func (m *Metrics) submission(err *SubmitError) {
	if m == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
		if err.Retryable {
			outcome = "retryable"
		}
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(r Resource, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.refreshes.WithLabelValues(string(r), status).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	collapsed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "supplier_ledger_duplicate_payments_total",
		Help: "Duplicate payment order records collapsed on ingest.",
	})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_ledger_stale_responses_total",
		Help: "Collaborator responses discarded because a newer request superseded them.",
	}, []string{"resource"})
	malformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_ledger_malformed_records_total",
		Help: "Collaborator records excluded at the parse boundary.",
	}, []string{"resource"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_ledger_submissions_total",
		Help: "Payment order submissions partitioned by outcome.",
	}, []string{"outcome"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_ledger_refreshes_total",
		Help: "Collaborator refreshes partitioned by resource and status.",
	}, []string{"resource", "status"})
	registerer.MustRegister(collapsed, stale, malformed, submissions, refreshes)
	return &Metrics{
		collapsed:   collapsed,
		stale:       stale,
		malformed:   malformed,
		submissions: submissions,
		refreshes:   refreshes,
	}
}
