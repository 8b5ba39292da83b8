// Package metrics records node core activity for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives node core events.
type Recorder interface {
	// Call records one boundary call and the status code it returned.
	Call(op, code string)
	// CallbackDuration records how long a device callback ran.
	CallbackDuration(d time.Duration, ok bool)
	// Decision records a scheduling decision: run, throttle or pause.
	Decision(action string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Call(string, string)                   {}
func (Nop) CallbackDuration(time.Duration, bool) {}
func (Nop) Decision(string)                       {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	live func() int

	liveHandles      prometheus.Gauge
	callsTotal       *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	decisionsTotal   *prometheus.CounterVec
}

// NewPrometheus creates the collectors. live, when non-nil, is sampled on
// every scrape for the live handle gauge.
func NewPrometheus(live func() int) *Prometheus {
	return &Prometheus{
		live: live,
		liveHandles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "williw_live_handles",
				Help: "Number of node handles that have not been destroyed",
			},
		),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "williw_calls_total",
				Help: "Boundary calls by operation and status code",
			},
			[]string{"op", "code"},
		),
		callbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "williw_callback_duration_seconds",
				Help:    "Time spent inside host device callbacks",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"result"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "williw_decisions_total",
				Help: "Scheduling decisions by action",
			},
			[]string{"action"},
		),
	}
}

// Call implements Recorder.
func (p *Prometheus) Call(op, code string) {
	p.callsTotal.WithLabelValues(op, code).Inc()
}

// CallbackDuration implements Recorder.
func (p *Prometheus) CallbackDuration(d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	p.callbackDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Decision implements Recorder.
func (p *Prometheus) Decision(action string) {
	p.decisionsTotal.WithLabelValues(action).Inc()
}

// Describe implements prometheus.Collector.
func (p *Prometheus) Describe(ch chan<- *prometheus.Desc) {
	p.liveHandles.Describe(ch)
	p.callsTotal.Describe(ch)
	p.callbackDuration.Describe(ch)
	p.decisionsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	if p.live != nil {
		p.liveHandles.Set(float64(p.live()))
	}
	p.liveHandles.Collect(ch)
	p.callsTotal.Collect(ch)
	p.callbackDuration.Collect(ch)
	p.decisionsTotal.Collect(ch)
}
