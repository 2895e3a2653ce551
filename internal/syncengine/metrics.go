// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "attendux_sync"

// Collector is a prometheus.Collector that collects metrics about
// sync runs.
type Collector struct {
	runs         *prometheus.CounterVec
	records      prometheus.Counter
	synced       prometheus.Counter
	deviceErrors prometheus.Counter
	duration     prometheus.Histogram
	lastRun      prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "The number of sync runs by outcome.",
			}, []string{"outcome"},
		),
		records: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "records_total",
				Help:      "The number of records uploaded in accepted batches.",
			},
		),
		synced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "records_synced_total",
				Help:      "The number of records the cloud reported as synced.",
			},
		),
		deviceErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "device_errors_total",
				Help:      "The number of devices that failed to sync.",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "The time taken by a sync run.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "When the last sync run finished.",
			},
		),
	}
}

// ObserveRun is part of the Metrics interface.
func (c *Collector) ObserveRun(outcome Outcome, report Report, duration time.Duration) {
	c.runs.WithLabelValues(string(outcome)).Inc()
	c.records.Add(float64(report.TotalRecords))
	c.synced.Add(float64(report.TotalSynced))
	c.deviceErrors.Add(float64(len(report.Errors)))
	c.duration.Observe(duration.Seconds())
	c.lastRun.Set(float64(report.Timestamp.Unix()))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.records.Describe(ch)
	c.synced.Describe(ch)
	c.deviceErrors.Describe(ch)
	c.duration.Describe(ch)
	c.lastRun.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.records.Collect(ch)
	c.synced.Collect(ch)
	c.deviceErrors.Collect(ch)
	c.duration.Collect(ch)
	c.lastRun.Collect(ch)
}
