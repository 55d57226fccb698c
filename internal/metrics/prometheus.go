// Package metrics implements ports.MetricsCollector against Prometheus, one
// counter/gauge/histogram per distinct metric name, lazily registered with
// the label set seen on first use (spec §4.9, §7).
package metrics

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/pipelinectl/internal/ports"
)

var _ ports.MetricsCollector = (*Prometheus)(nil)

// Prometheus implements ports.MetricsCollector, registering vectors against
// the supplied registry on first observation of a given metric name.
type Prometheus struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus returns a collector that registers its vectors with
// registry. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer-backed registry for process-wide export.
func NewPrometheus(registry *prometheus.Registry, namespace string) *Prometheus {
	return &Prometheus{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying *prometheus.Registry so callers can mount
// promhttp.HandlerFor against it.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) IncCounter(ctx context.Context, name string, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Name: name, Help: name,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Inc()
}

func (p *Prometheus) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace, Name: name, Help: name,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Set(value)
}

func (p *Prometheus) ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace, Name: name, Help: name,
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Observe(value)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
