// Package metrics exposes scan and engine counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/L1nMay/vulnorch/internal/model"
)

type Metrics struct {
	registry *prometheus.Registry

	scansStarted   prometheus.Counter
	scansFinished  *prometheus.CounterVec
	scansRunning   prometheus.Gauge
	scanDuration   prometheus.Histogram
	vulnsFound     *prometheus.CounterVec
	engineCommands *prometheus.CounterVec
	engineLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vulnorch",
			Name:      "scans_started_total",
			Help:      "Scans accepted for execution.",
		}),
		scansFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vulnorch",
			Name:      "scans_finished_total",
			Help:      "Scans that reached a terminal status.",
		}, []string{"status"}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vulnorch",
			Name:      "scans_running",
			Help:      "Scans not yet in a terminal status.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vulnorch",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock time from scan start to terminal status.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		vulnsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vulnorch",
			Name:      "vulnerabilities_found_total",
			Help:      "Vulnerabilities reported by completed scans.",
		}, []string{"severity"}),
		engineCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vulnorch",
			Name:      "engine_commands_total",
			Help:      "gvm-cli invocations by GMP command and outcome.",
		}, []string{"command", "outcome"}),
		engineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vulnorch",
			Name:      "engine_command_duration_seconds",
			Help:      "gvm-cli invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.scansStarted,
		m.scansFinished,
		m.scansRunning,
		m.scanDuration,
		m.vulnsFound,
		m.engineCommands,
		m.engineLatency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ScanStarted(*model.ScanRecord) {
	m.scansStarted.Inc()
	m.scansRunning.Inc()
}

func (m *Metrics) ScanFinished(rec *model.ScanRecord) {
	m.scansFinished.WithLabelValues(string(rec.Status)).Inc()
	m.scansRunning.Dec()

	if rec.EndTime != nil {
		m.scanDuration.Observe(rec.EndTime.Sub(rec.StartTime).Seconds())
	}
	if rec.Results != nil {
		s := rec.Results.Summary
		m.vulnsFound.WithLabelValues(string(model.SeverityCritical)).Add(float64(s.Critical))
		m.vulnsFound.WithLabelValues(string(model.SeverityHigh)).Add(float64(s.High))
		m.vulnsFound.WithLabelValues(string(model.SeverityMedium)).Add(float64(s.Medium))
		m.vulnsFound.WithLabelValues(string(model.SeverityLow)).Add(float64(s.Low))
	}
}

// ObserveCommand records one gvm-cli attempt.
func (m *Metrics) ObserveCommand(command string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.engineCommands.WithLabelValues(command, outcome).Inc()
	m.engineLatency.WithLabelValues(command).Observe(took.Seconds())
}
