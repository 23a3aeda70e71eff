// Package metrics holds the prometheus collectors of the crawler.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups every metric the crawler exports. All methods are safe to
// call on a nil *Collector, which records nothing.
type Collector struct {
	Crawls        *prometheus.CounterVec
	CrawlDuration prometheus.Histogram
	BufferedRows  *prometheus.GaugeVec
	FlushedRows   *prometheus.CounterVec
	FlushErrors   *prometheus.CounterVec
	Passes        prometheus.Counter

	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Crawls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahoy_crawls_total",
			Help: "Inverter crawls by result.",
		}, []string{"inverter", "result"}),
		CrawlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ahoy_crawl_duration_seconds",
			Help:    "Time spent reading one inverter from the device.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		BufferedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ahoy_buffered_rows",
			Help: "Rows held in memory waiting for the next flush.",
		}, []string{"inverter"}),
		FlushedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahoy_flushed_rows_total",
			Help: "Rows persisted to the sink.",
		}, []string{"inverter", "sink"}),
		FlushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ahoy_flush_errors_total",
			Help: "Inverter flushes that left at least one series with buffered rows.",
		}, []string{"inverter", "sink"}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahoy_scheduler_passes_total",
			Help: "Completed scheduler passes.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests by status code.",
		}, []string{"method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grpc_request_duration_seconds",
			Help:    "gRPC request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.Crawls,
		c.CrawlDuration,
		c.BufferedRows,
		c.FlushedRows,
		c.FlushErrors,
		c.Passes,
		c.Requests,
		c.Latency,
	)
	return c
}

func inverterLabel(id uint8) string {
	return strconv.Itoa(int(id))
}

// ObserveCrawl records one crawl of inverter id.
func (c *Collector) ObserveCrawl(id uint8, took time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Crawls.WithLabelValues(inverterLabel(id), result).Inc()
	c.CrawlDuration.Observe(took.Seconds())
}

// SetBuffered sets the number of rows buffered for inverter id.
func (c *Collector) SetBuffered(id uint8, rows int) {
	if c == nil {
		return
	}
	c.BufferedRows.WithLabelValues(inverterLabel(id)).Set(float64(rows))
}

// ObserveFlush records the outcome of flushing inverter id into sink. A
// failure counts once per inverter however many of its series failed.
func (c *Collector) ObserveFlush(id uint8, sink string, rows int, err error) {
	if c == nil {
		return
	}
	if rows > 0 {
		c.FlushedRows.WithLabelValues(inverterLabel(id), sink).Add(float64(rows))
	}
	if err != nil {
		c.FlushErrors.WithLabelValues(inverterLabel(id), sink).Inc()
	}
}

// PassCompleted counts one scheduler pass.
func (c *Collector) PassCompleted() {
	if c == nil {
		return
	}
	c.Passes.Inc()
}
