package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	prometheusCounterSuffix = "_total"
	prometheusPrefix        = "mimespool_"
)

// Prometheus vectors are process-wide, while registries are not, so vectors are cached by name.
//
//nolint:gochecknoglobals
var (
	promCacheMutex sync.Mutex
	promCounters   = map[string]*prometheus.CounterVec{}
	promGauges     = map[string]*prometheus.GaugeVec{}
)

// sortedLabels returns label names and values in a matching, deterministic order.
func sortedLabels(labels map[string]string) (names, values []string) {
	for k := range labels {
		names = append(names, k)
	}

	sort.Strings(names)

	for _, k := range names {
		values = append(values, labels[k])
	}

	return names, values
}

func getPrometheusCounter(opts prometheus.CounterOpts, labels map[string]string) prometheus.Counter {
	promCacheMutex.Lock()
	defer promCacheMutex.Unlock()

	names, values := sortedLabels(labels)

	prom := promCounters[opts.Name]
	if prom == nil {
		prom = promauto.NewCounterVec(opts, names)

		promCounters[opts.Name] = prom
	}

	return prom.WithLabelValues(values...)
}

func getPrometheusGauge(opts prometheus.GaugeOpts, labels map[string]string) prometheus.Gauge {
	promCacheMutex.Lock()
	defer promCacheMutex.Unlock()

	names, values := sortedLabels(labels)

	prom := promGauges[opts.Name]
	if prom == nil {
		prom = promauto.NewGaugeVec(opts, names)

		promGauges[opts.Name] = prom
	}

	return prom.WithLabelValues(values...)
}
