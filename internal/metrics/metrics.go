package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the match prediction engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Subject likelihood calculation latency by role (patient, donor)
	LikelihoodLatency *prometheus.HistogramVec

	// Candidate genotype cross join sizes
	CandidateGenotypes prometheus.Histogram

	// Patient x donor reduction latency
	ReductionLatency prometheus.Histogram

	// Donor outcomes by status
	DonorOutcome *prometheus.CounterVec

	// Overall batch latency
	BatchLatency prometheus.Histogram
}

// New creates a Metrics instance registered with the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the engine metrics with reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LikelihoodLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hla_match_likelihood_duration_seconds",
			Help:    "Duration of subject genotype likelihood calculations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"role"}), // role: "patient", "donor"

		CandidateGenotypes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hla_match_candidate_genotypes",
			Help:    "Number of candidate genotypes per subject",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		}),

		ReductionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hla_match_reduction_duration_seconds",
			Help:    "Duration of patient x donor cross product reductions",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		DonorOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hla_match_donor_outcomes_total",
			Help: "Total donor prediction outcomes by status",
		}, []string{"status"}),

		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hla_match_batch_duration_seconds",
			Help:    "Duration of full match probability requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// ObserveLikelihoodLatency records one subject likelihood calculation
func (m *Metrics) ObserveLikelihoodLatency(role string, d time.Duration) {
	if m != nil {
		m.LikelihoodLatency.WithLabelValues(role).Observe(d.Seconds())
	}
}

// ObserveCandidateGenotypes records a subject's cross join size
func (m *Metrics) ObserveCandidateGenotypes(count int64) {
	if m != nil {
		m.CandidateGenotypes.Observe(float64(count))
	}
}

// ObserveReductionLatency records one donor reduction
func (m *Metrics) ObserveReductionLatency(d time.Duration) {
	if m != nil {
		m.ReductionLatency.Observe(d.Seconds())
	}
}

// IncrementDonorOutcome records a donor outcome
func (m *Metrics) IncrementDonorOutcome(status string) {
	if m != nil {
		m.DonorOutcome.WithLabelValues(status).Inc()
	}
}

// ObserveBatchLatency records the total request duration
func (m *Metrics) ObserveBatchLatency(d time.Duration) {
	if m != nil {
		m.BatchLatency.Observe(d.Seconds())
	}
}
