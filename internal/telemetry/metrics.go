package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects per-stage counters and durations for one run.
// The collector uses its own registry so tests and multiple runs do
// not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackpilot_stage_total",
			Help: "Completed orchestration stages by outcome.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackpilot_stage_duration_seconds",
			Help:    "Stage wall-clock duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
	}
	m.registry.MustRegister(m.stageTotal, m.stageDuration)
	return m
}

// ObserveStage records one stage outcome. Status is one of "ok",
// "warning", "error".
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the collector in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Summary returns one line per recorded stage counter, sorted, for
// verbose end-of-run reporting.
func (m *Metrics) Summary() []string {
	families, err := m.registry.Gather()
	if err != nil {
		return nil
	}
	var lines []string
	for _, fam := range families {
		if fam.GetName() != "stackpilot_stage_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			stage, status := "", ""
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "stage":
					stage = l.GetValue()
				case "status":
					status = l.GetValue()
				}
			}
			lines = append(lines, fmt.Sprintf("%s %s=%d", stage, status, int64(metric.GetCounter().GetValue())))
		}
	}
	sort.Strings(lines)
	return lines
}
