// Package metrics holds the client-side Prometheus collectors. The client is
// a short-lived process, so metrics are pushed to a Pushgateway at exit
// instead of being scraped.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Resolution paths recorded by the resolver.
const (
	PathReused = "reused"
	PathLoaded = "loaded"
)

// Outcomes recorded for loads and completions.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Client groups the collectors for one run. Each run gets its own registry so
// tests and pushes never see another run's values.
type Client struct {
	Registry *prometheus.Registry

	Resolutions        *prometheus.CounterVec
	Loads              *prometheus.CounterVec
	LoadDuration       prometheus.Histogram
	Completions        *prometheus.CounterVec
	Fragments          prometheus.Counter
	CompletionDuration prometheus.Histogram
}

// New creates and registers the client collectors.
func New() *Client {
	c := &Client{
		Registry: prometheus.NewRegistry(),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complete",
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Model resolutions by path taken (reused or loaded)",
			},
			[]string{"path"},
		),
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complete",
				Subsystem: "resolver",
				Name:      "loads_total",
				Help:      "Model load requests by outcome",
			},
			[]string{"outcome"},
		),
		LoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "complete",
				Subsystem: "resolver",
				Name:      "load_duration_seconds",
				Help:      "Duration of model loads in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		Completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "complete",
				Subsystem: "session",
				Name:      "completions_total",
				Help:      "Completion requests by outcome",
			},
			[]string{"outcome"},
		),
		Fragments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "complete",
				Subsystem: "session",
				Name:      "fragments_total",
				Help:      "Text fragments streamed to the terminal",
			},
		),
		CompletionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "complete",
				Subsystem: "session",
				Name:      "completion_duration_seconds",
				Help:      "Duration of completion streams in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	c.Registry.MustRegister(c.Resolutions, c.Loads, c.LoadDuration, c.Completions, c.Fragments, c.CompletionDuration)
	return c
}

// ObserveLoad records a finished load attempt.
func (c *Client) ObserveLoad(start time.Time, err error) {
	if c == nil {
		return
	}
	c.LoadDuration.Observe(time.Since(start).Seconds())
	c.Loads.WithLabelValues(outcome(err)).Inc()
}

// ObserveResolution records which path the resolver took.
func (c *Client) ObserveResolution(path string) {
	if c == nil {
		return
	}
	c.Resolutions.WithLabelValues(path).Inc()
}

// ObserveFragment counts one streamed fragment.
func (c *Client) ObserveFragment() {
	if c == nil {
		return
	}
	c.Fragments.Inc()
}

// ObserveCompletion records a finished completion stream.
func (c *Client) ObserveCompletion(start time.Time, err error) {
	if c == nil {
		return
	}
	c.CompletionDuration.Observe(time.Since(start).Seconds())
	c.Completions.WithLabelValues(outcome(err)).Inc()
}

// Push sends the registry to a Pushgateway under job. An empty url is a no-op.
func (c *Client) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(c.Registry).PushContext(ctx)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
