package install

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statexfer"

// Metrics are the install-side collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	// PartsAccepted counts parts that verified and were stored.
	PartsAccepted prometheus.Counter
	// PartsRejected counts rejected parts by reason.
	PartsRejected *prometheus.CounterVec
	// BytesAccepted counts the payload bytes of accepted parts.
	BytesAccepted prometheus.Counter
	// Transfers counts finished transfers by result.
	Transfers *prometheus.CounterVec
	// FinalizeDuration measures FinalizeTransfer latency.
	FinalizeDuration prometheus.Histogram
	// Phase tracks the guard phase as its numeric value.
	Phase prometheus.Gauge
	// MonolithicInstalls counts monolithic installs by result.
	MonolithicInstalls *prometheus.CounterVec
}

// NewMetrics registers the install collectors with reg. A nil reg
// registers nothing, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PartsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_accepted_total",
			Help:      "Total number of state parts accepted",
		}),
		PartsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_rejected_total",
			Help:      "Total number of state parts rejected",
		}, []string{"reason"}),
		BytesAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_bytes_accepted_total",
			Help:      "Total payload bytes of accepted state parts",
		}),
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total number of finished transfers",
		}, []string{"result"}), // ok/failed/cancelled
		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "FinalizeTransfer latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "install_phase",
			Help:      "Current install phase (0 Idle, 1 Receiving, 2 Finalizing, 3 Ready, 4 Failed)",
		}),
		MonolithicInstalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monolithic_installs_total",
			Help:      "Total number of monolithic install attempts",
		}, []string{"result"}),
	}
}

func (m *Metrics) accepted(n int, bytes uint64) {
	if m == nil {
		return
	}
	m.PartsAccepted.Add(float64(n))
	m.BytesAccepted.Add(float64(bytes))
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.PartsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) transfer(result string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) finalized(d time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeDuration.Observe(d.Seconds())
}

func (m *Metrics) phase(p Phase) {
	if m == nil {
		return
	}
	m.Phase.Set(float64(p))
}

func (m *Metrics) monolithic(result string) {
	if m == nil {
		return
	}
	m.MonolithicInstalls.WithLabelValues(result).Inc()
}
