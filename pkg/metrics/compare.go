package metrics

import "github.com/prometheus/client_golang/prometheus"

// CompareMetrics records compare-list mutations.
type CompareMetrics struct {
	mutations *prometheus.CounterVec
	size      prometheus.Gauge
}

// NewCompareMetrics registers the compare metrics on reg.
func NewCompareMetrics(reg prometheus.Registerer) *CompareMetrics {
	if reg == nil {
		return &CompareMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compare_mutations_total",
		Help: "Compare list operations by op and result.",
	}, []string{"op", "result"})
	size := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "compare_list_size",
		Help: "Entries currently in the compare list.",
	})
	reg.MustRegister(mutations, size)
	return &CompareMetrics{mutations: mutations, size: size}
}

// Mutation counts one op ("add", "remove", "clear") with its result.
func (m *CompareMetrics) Mutation(op, result string, size int) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
	m.size.Set(float64(size))
}
