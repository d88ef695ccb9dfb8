package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// Job results
const (
	ResultCompleted = "completed"
	ResultCancelled = "cancelled"
	ResultFailed    = "failed"
	ResultEmpty     = "empty"
)

// Stats is the in-memory server counter snapshot
type Stats struct {
	TotalEmails int64 `json:"totalEmails"`
	TotalBytes  int64 `json:"totalBytes"`
}

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	messagesTotal   *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	inflightWorkers prometheus.Gauge
	activeJobs      prometheus.Gauge
	jobsTotal       *prometheus.CounterVec
	duration        prometheus.Histogram

	syncedEmails atomic.Int64
	syncedBytes  atomic.Int64
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_messages_total",
				Help: "Total number of messages processed",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsync_bytes_total",
				Help: "Total bytes appended to destination mailboxes",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_inflight_workers",
				Help: "Number of workers holding open sessions",
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailsync_active_jobs",
				Help: "Number of running sync jobs",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_jobs_total",
				Help: "Total number of finished sync jobs",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsync_message_duration_seconds",
				Help:    "Time taken to replicate a message",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.messagesTotal,
		c.bytesTotal,
		c.inflightWorkers,
		c.activeJobs,
		c.jobsTotal,
		c.duration,
	)

	return c
}

// IncSyncedWithBytes counts a message appended to the destination
func (c *Collector) IncSyncedWithBytes(bytes int64) {
	c.messagesTotal.WithLabelValues("synced").Inc()
	c.bytesTotal.Add(float64(bytes))
	c.syncedEmails.Inc()
	c.syncedBytes.Add(bytes)
}

// IncSimulated counts a dry-run message
func (c *Collector) IncSimulated() {
	c.messagesTotal.WithLabelValues("simulated").Inc()
}

// IncFailed counts a failed message
func (c *Collector) IncFailed() {
	c.messagesTotal.WithLabelValues("failed").Inc()
}

func (c *Collector) WorkerStarted() { c.inflightWorkers.Inc() }

func (c *Collector) WorkerStopped() { c.inflightWorkers.Dec() }

func (c *Collector) JobStarted() { c.activeJobs.Inc() }

// JobFinished records the job's terminal result
func (c *Collector) JobFinished(result string) {
	c.activeJobs.Dec()
	c.jobsTotal.WithLabelValues(result).Inc()
}

// ObserveDuration observes replication duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Stats returns the synced message and byte totals since start or last reset
func (c *Collector) Stats() Stats {
	return Stats{
		TotalEmails: c.syncedEmails.Load(),
		TotalBytes:  c.syncedBytes.Load(),
	}
}

// ResetStats zeroes the totals returned by Stats
func (c *Collector) ResetStats() {
	c.syncedEmails.Store(0)
	c.syncedBytes.Store(0)
}

// Handler returns the Prometheus scrape handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
