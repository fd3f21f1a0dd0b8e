package metrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus collectors of a simulation run
type Registry struct {
	registry *prometheus.Registry

	// Iteration metrics
	IterationsTotal   prometheus.Counter
	IterationDuration prometheus.Histogram
	ActiveIterations  prometheus.Gauge

	// Allocator metrics
	Rebalances         *prometheus.CounterVec
	AllocatorSkips     *prometheus.CounterVec
	AllocatorHalts     *prometheus.CounterVec
	AllocationDuration *prometheus.HistogramVec

	// Estimator metrics
	EstimatorErrors *prometheus.CounterVec
}

// NewRegistry creates a registry with all simulation collectors registered on
// a fresh prometheus.Registry, so independent runs never collide.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		IterationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hrpsim_iterations_total",
				Help: "Total number of completed Monte Carlo iterations",
			},
		),

		IterationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hrpsim_iteration_duration_seconds",
				Help:    "Wall time of one Monte Carlo iteration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),

		ActiveIterations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hrpsim_active_iterations",
				Help: "Number of iterations currently running",
			},
		),

		Rebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrpsim_rebalances_total",
				Help: "Total number of recorded rebalances by allocator",
			},
			[]string{"allocator"},
		),

		AllocatorSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrpsim_allocator_skips_total",
				Help: "Rebalancing points skipped by allocator and reason",
			},
			[]string{"allocator", "reason"},
		),

		AllocatorHalts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrpsim_allocator_halts_total",
				Help: "Iterations in which an allocator stopped early",
			},
			[]string{"allocator"},
		),

		AllocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hrpsim_allocation_duration_seconds",
				Help:    "Duration of a single allocation in seconds",
				Buckets: []float64{1e-6, 1e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.01, 0.05, 0.1},
			},
			[]string{"allocator"},
		),

		EstimatorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hrpsim_estimator_errors_total",
				Help: "Covariance estimation failures by reason",
			},
			[]string{"reason"},
		),
	}

	r.registry.MustRegister(
		r.IterationsTotal,
		r.IterationDuration,
		r.ActiveIterations,
		r.Rebalances,
		r.AllocatorSkips,
		r.AllocatorHalts,
		r.AllocationDuration,
		r.EstimatorErrors,
	)

	return r
}

// AllocationTimer tracks execution time of one allocator call
type AllocationTimer struct {
	metrics   *Registry
	allocator string
	start     time.Time
}

// StartAllocation begins timing an allocator call. Safe on a nil registry.
func (r *Registry) StartAllocation(allocator string) *AllocationTimer {
	return &AllocationTimer{metrics: r, allocator: allocator, start: time.Now()}
}

// Stop records the elapsed time
func (t *AllocationTimer) Stop() {
	if t.metrics == nil {
		return
	}
	t.metrics.AllocationDuration.WithLabelValues(t.allocator).Observe(time.Since(t.start).Seconds())
}

// IterationStarted marks an iteration as running
func (r *Registry) IterationStarted() time.Time {
	if r != nil {
		r.ActiveIterations.Inc()
	}
	return time.Now()
}

// IterationFinished records a completed iteration
func (r *Registry) IterationFinished(start time.Time) {
	if r == nil {
		return
	}
	r.ActiveIterations.Dec()
	r.IterationsTotal.Inc()
	r.IterationDuration.Observe(time.Since(start).Seconds())
}

// RecordRebalance counts a recorded weight vector
func (r *Registry) RecordRebalance(allocator string) {
	if r == nil {
		return
	}
	r.Rebalances.WithLabelValues(allocator).Inc()
}

// RecordSkip counts a skipped rebalancing point
func (r *Registry) RecordSkip(allocator, reason string) {
	if r == nil {
		return
	}
	r.AllocatorSkips.WithLabelValues(allocator, reason).Inc()
}

// RecordHalt counts an allocator trajectory that stopped early
func (r *Registry) RecordHalt(allocator string) {
	if r == nil {
		return
	}
	r.AllocatorHalts.WithLabelValues(allocator).Inc()
}

// RecordEstimatorError counts a failed covariance estimate
func (r *Registry) RecordEstimatorError(reason string) {
	if r == nil {
		return
	}
	r.EstimatorErrors.WithLabelValues(reason).Inc()
}

// Handler serves this registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Snapshot flattens every counter and gauge into name{labels} -> value
func (r *Registry) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := r.registry.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather simulation metrics")
		return out
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + labelSuffix(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}

func labelSuffix(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
