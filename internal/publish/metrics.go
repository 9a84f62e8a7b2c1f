package publish

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

const namespace = "levelwatch"

// Metrics exposes the latest evaluation as Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	level       prometheus.Gauge
	ambient     prometheus.Gauge
	alert       prometheus.Gauge
	enter       prometheus.Gauge
	leave       prometheus.Gauge
	peaks       *prometheus.GaugeVec
	interval    prometheus.Gauge
	ticks       prometheus.Counter
	transitions *prometheus.CounterVec
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_dbfs",
			Help:      "Instantaneous level of the primary channel in dBFS",
		}),
		ambient: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ambient_dbfs",
			Help:      "Tracked ambient floor in dBFS",
		}),
		alert: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert",
			Help:      "1 while a loud event is in progress",
		}),
		enter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enter_threshold_dbfs",
			Help:      "Level above which an alert starts",
		}),
		leave: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leave_threshold_dbfs",
			Help:      "Level below which an alert ends",
		}),
		peaks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak",
			Help:      "Normalized peak per channel at the last tick",
		}, []string{"channel"}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interval_seconds",
			Help:      "Applied evaluation interval",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of evaluation ticks",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of alert state changes",
		}, []string{"to"}),
	}

	m.registry.MustRegister(
		m.level, m.ambient, m.alert, m.enter, m.leave, m.peaks,
		m.interval, m.ticks, m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// PublishLevel records the report.
func (m *Metrics) PublishLevel(_ context.Context, r *types.LevelReport) error {
	m.level.Set(r.LevelDBFS)
	m.ambient.Set(r.AmbientDBFS)
	m.enter.Set(r.EnterDBFS)
	m.leave.Set(r.LeaveDBFS)
	if r.State.IsAlert() {
		m.alert.Set(1)
	} else {
		m.alert.Set(0)
	}
	for i, p := range r.Peaks {
		m.peaks.WithLabelValues(channelLabel(i)).Set(p)
	}
	m.ticks.Inc()
	return nil
}

// PublishTransition counts the transition.
func (m *Metrics) PublishTransition(_ context.Context, t *types.Transition) error {
	m.transitions.WithLabelValues(string(t.To)).Inc()
	return nil
}

// SetInterval records the applied evaluation interval.
func (m *Metrics) SetInterval(seconds int) {
	m.interval.Set(float64(seconds))
}

func channelLabel(i int) string {
	switch i {
	case 0:
		return "left"
	case 1:
		return "right"
	default:
		return "other"
	}
}
