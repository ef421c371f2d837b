package clientcache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records cache activity. A nil *Metrics records nothing.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Constructions *prometheus.CounterVec
	Evictions     prometheus.Counter
	Entries       prometheus.Gauge
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// NewMetrics registers the cache metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cosrepo_client_cache_hits_total",
			Help: "Lookups served by an existing client handle",
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "cosrepo_client_cache_misses_total",
			Help: "Lookups that found no client handle for their settings",
		}),
		Constructions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cosrepo_client_constructions_total",
			Help: "Client constructions by result",
		}, []string{"result"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "cosrepo_client_evictions_total",
			Help: "Client handles shut down and removed from the cache",
		}),
		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cosrepo_client_cache_entries",
			Help: "Live client handles in the cache",
		}),
	}
}

// DefaultMetrics returns the metrics registered with the default Prometheus
// registerer. Registration happens once per process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) constructed(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Constructions.WithLabelValues(result).Inc()
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) size(n int64) {
	if m != nil {
		m.Entries.Set(float64(n))
	}
}
