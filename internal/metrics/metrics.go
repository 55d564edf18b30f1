// Package metrics exposes rotagate's Prometheus metrics. Key gauges are
// recomputed from the credential store on every scrape so they always match
// the stored state.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rotagate/rotagate/internal/model"
)

const namespace = "rotagate"

// scrapeTimeout bounds the aggregate query run per scrape.
const scrapeTimeout = 5 * time.Second

// StatsSource reports aggregate key counts. *config.Store satisfies it.
type StatsSource interface {
	KeyStats(ctx context.Context) (model.KeyStats, error)
}

// Metrics owns a dedicated registry with the key collector, the audit
// failure counter and the Go/process collectors.
type Metrics struct {
	registry      *prometheus.Registry
	auditFailures prometheus.Counter
}

// New builds the registry. logger may be nil.
func New(src StatsSource, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Total number of audit entries that could not be written",
		}),
	}

	m.registry.MustRegister(
		newKeyCollector(src, logger),
		m.auditFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// AuditFailures is incremented by the auditor on every lost write.
func (m *Metrics) AuditFailures() prometheus.Counter {
	return m.auditFailures
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// keyCollector runs one aggregate query per scrape.
type keyCollector struct {
	src    StatsSource
	logger *slog.Logger

	keys      *prometheus.Desc
	rotations *prometheus.Desc
}

func newKeyCollector(src StatsSource, logger *slog.Logger) *keyCollector {
	return &keyCollector{
		src:    src,
		logger: logger,
		keys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "api_keys"),
			"Number of API keys by status",
			[]string{"status"}, nil,
		),
		rotations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "api_key_rotations"),
			"Sum of rotation_count over all API keys",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *keyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.rotations
}

// Collect implements prometheus.Collector.
func (c *keyCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	stats, err := c.src.KeyStats(ctx)
	if err != nil {
		c.logger.Warn("collect key stats", "error", err)
		ch <- prometheus.NewInvalidMetric(c.keys, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(stats.Active), string(model.KeyStatusActive))
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(stats.Revoked), string(model.KeyStatusRevoked))
	ch <- prometheus.MustNewConstMetric(c.rotations, prometheus.GaugeValue, float64(stats.Rotations))
}
