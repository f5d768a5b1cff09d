package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters and histograms for slot generation,
// lifecycle operations and claims. A nil *SchedulingMetrics records nothing.
type SchedulingMetrics struct {
	claimsTotal    *prometheus.CounterVec
	claimAttempts  prometheus.Histogram
	slotsGenerated *prometheus.CounterVec
	lifecycleTotal *prometheus.CounterVec
	txDuration     *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "claims_total",
			Help:      "Slot claims by outcome",
		}, []string{"result"}),
		claimAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "claim_attempts",
			Help:      "Transaction attempts needed per claim",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		slotsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slots_generated_total",
			Help:      "Slots persisted by generation, by scheduling rule",
		}, []string{"rule"}),
		lifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "lifecycle_ops_total",
			Help:      "Availability lifecycle operations by scope and outcome",
		}, []string{"op", "scope", "result"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Latency of transactional scheduling operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.claimsTotal, m.claimAttempts, m.slotsGenerated, m.lifecycleTotal, m.txDuration)
	return m
}

func (m *SchedulingMetrics) ObserveClaim(result string, attempts int) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(result).Inc()
	if attempts > 0 {
		m.claimAttempts.Observe(float64(attempts))
	}
}

func (m *SchedulingMetrics) AddSlotsGenerated(rule string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsGenerated.WithLabelValues(rule).Add(float64(n))
}

func (m *SchedulingMetrics) ObserveLifecycle(op, scope, result string) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(op, scope, result).Inc()
}

// ObserveDuration records the time elapsed since start.
func (m *SchedulingMetrics) ObserveDuration(op string, start time.Time) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
