// Package metrics provides counters and gauges mirrored into Prometheus.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds a set of named metrics.
type Registry struct {
	mu sync.Mutex

	// +checklocks:mu
	allCounters map[string]*Counter
	// +checklocks:mu
	allGauges map[string]*Gauge
}

// NewRegistry returns new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		allCounters: map[string]*Counter{},
		allGauges:   map[string]*Gauge{},
	}
}

// Snapshot captures the state of all metrics in the registry.
type Snapshot struct {
	Counters map[string]int64 `json:"counters"`
	Gauges   map[string]int64 `json:"gauges"`
}

// Snapshot returns the values of all metrics, optionally resetting them.
func (r *Registry) Snapshot(reset bool) Snapshot {
	s := Snapshot{
		Counters: map[string]int64{},
		Gauges:   map[string]int64{},
	}

	if r == nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, c := range r.allCounters {
		s.Counters[k] = c.Snapshot(reset)
	}

	for k, g := range r.allGauges {
		s.Gauges[k] = g.Snapshot(reset)
	}

	return s
}

// labelsSuffix returns a stable "{k1:v1,k2:v2}" suffix used to key metrics by labels.
func labelsSuffix(l map[string]string) string {
	if len(l) == 0 {
		return ""
	}

	var params []string
	for k, v := range l {
		params = append(params, k+":"+v)
	}

	sort.Strings(params)

	return "{" + strings.Join(params, ",") + "}"
}
