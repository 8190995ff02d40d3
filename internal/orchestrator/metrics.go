package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a prometheus.Collector that reports the orchestrator's live
// status on every scrape, grounded on the pack's custom-collector pattern
// (read MemStats/compute and push on Collect rather than updating gauges
// on every state change).
type Collector struct {
	o *Orchestrator

	workspaces *prometheus.Desc
	queueDepth *prometheus.Desc
	uptime     *prometheus.Desc
	poolTotal  *prometheus.Desc
	poolMax    *prometheus.Desc
}

// NewCollector builds a Collector reporting o's status under the given
// namespace (typically "ckbd").
func NewCollector(o *Orchestrator, namespace string) *Collector {
	return &Collector{
		o: o,
		workspaces: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "workspaces_registered"),
			"Number of workspaces currently registered with the orchestrator",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "indexing", "queue_depth"),
			"Number of analysis tasks currently queued",
			nil, nil,
		),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the orchestrator started",
			nil, nil,
		),
		poolTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server_pool", "processes_total"),
			"Number of language server processes currently tracked by the pool",
			nil, nil,
		),
		poolMax: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server_pool", "processes_max"),
			"Configured maximum number of language server processes",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workspaces
	ch <- c.queueDepth
	ch <- c.uptime
	ch <- c.poolTotal
	ch <- c.poolMax
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.o.Status()

	ch <- prometheus.MustNewConstMetric(c.workspaces, prometheus.GaugeValue, float64(status.Workspaces))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(status.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, status.Uptime.Seconds())

	if total, ok := status.ServerPool["totalProcesses"].(int); ok {
		ch <- prometheus.MustNewConstMetric(c.poolTotal, prometheus.GaugeValue, float64(total))
	}
	if max, ok := status.ServerPool["maxProcesses"].(int); ok {
		ch <- prometheus.MustNewConstMetric(c.poolMax, prometheus.GaugeValue, float64(max))
	}
}
