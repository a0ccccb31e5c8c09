// Package metrics exports startup progress as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kingrea/plugd/internal/lifecycle"
)

const namespace = "plugd"

// Label and result values.
const (
	LabelPlugin = "plugin"
	LabelResult = "result"
	LabelKind   = "kind"

	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
)

// Collector turns lifecycle events into metrics.
type Collector struct {
	starts    *prometheus.CounterVec
	readiness *prometheus.HistogramVec
	events    *prometheus.CounterVec
	ready     prometheus.Gauge
}

// New creates the collector and registers it with reg. A nil reg leaves the
// metrics unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_starts_total",
				Help:      "Plugin process-start outcomes",
			},
			[]string{LabelPlugin, LabelResult},
		),
		readiness: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_readiness_seconds",
				Help:      "Time from a plugin's process-start hook to readiness or failure",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{LabelPlugin},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Lifecycle events observed, by kind",
			},
			[]string{LabelKind},
		),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 once every plugin has been started",
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.starts, c.readiness, c.events, c.ready} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Observe records a single event.
func (c *Collector) Observe(evt lifecycle.Event) {
	c.events.WithLabelValues(string(evt.Kind)).Inc()
	switch evt.Kind {
	case lifecycle.KindBeforeProcessStart:
		c.ready.Set(0)
	case lifecycle.KindPluginSucceeded:
		c.starts.WithLabelValues(evt.Name, ResultSucceeded).Inc()
		c.readiness.WithLabelValues(evt.Name).Observe(evt.Elapsed.Seconds())
	case lifecycle.KindPluginFailed:
		result := ResultFailed
		if lifecycle.IsReadinessTimeout(evt.Err) {
			result = ResultTimeout
		}
		c.starts.WithLabelValues(evt.Name, result).Inc()
		c.readiness.WithLabelValues(evt.Name).Observe(evt.Elapsed.Seconds())
	case lifecycle.KindAllReady:
		c.ready.Set(1)
	}
}

// Consume observes events until the channel closes or ctx is done.
func (c *Collector) Consume(ctx context.Context, events <-chan lifecycle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Observe(evt)
		}
	}
}
