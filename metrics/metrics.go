// Package metrics exposes Prometheus metrics for ingestion, index builds and
// question answering.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ask outcomes.
const (
	StatusOK             = "ok"
	StatusNotInitialized = "not_initialized"
	StatusInvalid        = "invalid"
	StatusError          = "error"
)

// Collector holds all Prometheus metrics for the application on a private
// registry, so several collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	// Ingestion
	NodesUpserted *prometheus.CounterVec
	EdgesUpserted *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec

	// Index
	InitDuration  *prometheus.HistogramVec
	IndexedChunks prometheus.Gauge

	// Question answering
	Asks        *prometheus.CounterVec
	AskDuration prometheus.Histogram
	LLMTokens   *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector whose metric names carry namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		NodesUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_upserted_total",
			Help:      "Total number of node upserts by label",
		}, []string{"label"}),
		EdgesUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_upserted_total",
			Help:      "Total number of relationship upserts by type",
		}, []string{"type"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_skipped_total",
			Help:      "Total number of input rows skipped during ingestion",
		}, []string{"kind", "reason"}),
		InitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "initialize_duration_seconds",
			Help:      "Index build duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		IndexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Number of chunks in the active vector index",
		}),
		Asks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Total number of questions by outcome",
		}, []string{"status"}),
		AskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Question answering duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of LLM tokens by kind",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.NodesUpserted,
		c.EdgesUpserted,
		c.RowsSkipped,
		c.InitDuration,
		c.IndexedChunks,
		c.Asks,
		c.AskDuration,
		c.LLMTokens,
		c.HTTPRequests,
		c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) NodeUpserted(label string) { c.NodesUpserted.WithLabelValues(label).Inc() }

func (c *Collector) EdgeUpserted(edgeType string) { c.EdgesUpserted.WithLabelValues(edgeType).Inc() }

func (c *Collector) RowSkipped(kind, reason string) {
	c.RowsSkipped.WithLabelValues(kind, reason).Inc()
}

// ObserveInitialize records an index build.
func (c *Collector) ObserveInitialize(d time.Duration, chunks int, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	} else {
		c.IndexedChunks.Set(float64(chunks))
	}
	c.InitDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveAsk records a question's outcome and latency.
func (c *Collector) ObserveAsk(d time.Duration, status string, promptTokens, completionTokens int) {
	c.Asks.WithLabelValues(status).Inc()
	c.AskDuration.Observe(d.Seconds())
	if promptTokens > 0 {
		c.LLMTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.LLMTokens.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// IndexDropped resets the indexed chunk gauge.
func (c *Collector) IndexDropped() { c.IndexedChunks.Set(0) }

// ObserveHTTP records a served request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
