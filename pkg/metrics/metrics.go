// Package metrics exposes prometheus counters for the speech pipeline.
// Collectors are package level so every component can record without plumbing;
// the binary decides where (and whether) they get registered.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const namespace = "vocode"

// Label values.
const (
	StatusOK       = "ok"
	StatusTooShort = "too_short"
	StatusError    = "error"
	StatusCanceled = "canceled"
	StatusSkipped  = "skipped"
)

var (
	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Speakable units handled by the coordinator",
		},
		[]string{"action"}, // dispatched, merged, last_resort, discarded, stall_flush
	)

	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis calls by outcome",
		},
		[]string{"status"},
	)

	synthesisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of synthesis provider calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		},
	)

	synthesisInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synthesis_in_flight",
			Help:      "Synthesis calls currently running",
		},
	)

	playbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_total",
			Help:      "Clips released by the sequencer by outcome",
		},
		[]string{"status"},
	)

	turnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Assistant turns started",
		},
	)
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		unitsTotal,
		synthesisTotal,
		synthesisDuration,
		synthesisInFlight,
		playbackTotal,
		turnsTotal,
	}
}

// NewRegistry returns a registry with the pipeline and go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Collectors()...)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func RecordUnit(action string) {
	unitsTotal.WithLabelValues(action).Inc()
}

func RecordSynthesis(status string, duration time.Duration) {
	synthesisTotal.WithLabelValues(status).Inc()
	if status == StatusOK {
		synthesisDuration.Observe(duration.Seconds())
	}
}

func SynthesisStarted() {
	synthesisInFlight.Inc()
}

func SynthesisFinished() {
	synthesisInFlight.Dec()
}

func RecordPlayback(status string) {
	playbackTotal.WithLabelValues(status).Inc()
}

func RecordTurn() {
	turnsTotal.Inc()
}
