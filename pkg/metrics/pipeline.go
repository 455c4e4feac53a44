package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics counts outcomes across webhook intake, the device queue,
// payouts and reconciliation. A nil receiver is a no-op.
type PipelineMetrics struct {
	webhooks       *prometheus.CounterVec
	printJobs      *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	discrepancy    prometheus.Histogram
	reconciliation *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})
	printJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "print_job_transitions_total",
		Help: "Print job lease transitions by outcome.",
	}, []string{"outcome"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_jobs_total",
		Help: "Payout job attempts by outcome.",
	}, []string{"outcome"})
	discrepancy := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payout_integrity_discrepancy_cents",
		Help:    "Absolute settlement versus ledger discrepancy when the integrity gate fails.",
		Buckets: prometheus.ExponentialBuckets(1, 10, 8),
	})
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_records_total",
		Help: "Reconciliation classifications by provider and status.",
	}, []string{"provider", "status"})
	reg.MustRegister(webhooks, printJobs, payouts, discrepancy, reconciliation)
	return &PipelineMetrics{
		webhooks:       webhooks,
		printJobs:      printJobs,
		payouts:        payouts,
		discrepancy:    discrepancy,
		reconciliation: reconciliation,
	}
}

// IncWebhook records a webhook outcome such as processed, duplicate or rejected.
func (m *PipelineMetrics) IncWebhook(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// AddPrintJobs records n print job transitions with the given outcome.
func (m *PipelineMetrics) AddPrintJobs(outcome string, n int) {
	if m == nil || m.printJobs == nil || n <= 0 {
		return
	}
	m.printJobs.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

// IncPayout records a payout attempt outcome.
func (m *PipelineMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveDiscrepancy records the size of a failed integrity check.
func (m *PipelineMetrics) ObserveDiscrepancy(cents int64) {
	if m == nil || m.discrepancy == nil {
		return
	}
	if cents < 0 {
		cents = -cents
	}
	m.discrepancy.Observe(float64(cents))
}

// IncReconciliation records one reconciliation classification.
func (m *PipelineMetrics) IncReconciliation(provider, status string) {
	if m == nil || m.reconciliation == nil {
		return
	}
	m.reconciliation.WithLabelValues(normalizeLabel(provider), normalizeLabel(status)).Inc()
}
