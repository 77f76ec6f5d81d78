package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every yeet metric.
const Namespace = "yeet"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool
	// phase set before Register, replayed once registration succeeds
	lastPhase atomic.Pointer[phaseState]

	daemonPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "daemon",
			Name:      "phase",
			Help:      "Current daemon phase (1 = active phase, 0 = inactive).",
		}, []string{"phase"},
	)
	phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "daemon",
			Name:      "phase_transitions_total",
			Help:      "Number of daemon phase transitions.",
		}, []string{"from", "to"},
	)
	tunnelPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tunnel",
			Name:      "published_total",
			Help:      "Number of public URLs written to the state record.",
		},
	)
	tunnelPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "tunnel",
			Name:      "publish_duration_seconds",
			Help:      "Time from tunnel client start to the public URL being known.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	historyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "history",
			Name:      "events_total",
			Help:      "Job history events by kind and outcome.",
		}, []string{"event", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonPhase, phaseTransitions, tunnelPublished, tunnelPublishDuration, historyEvents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	if ps := lastPhase.Load(); ps != nil {
		ps.apply()
	}
	return nil
}

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

type phaseState struct {
	current string
	all     []string
}

func (ps *phaseState) apply() {
	for _, p := range ps.all {
		v := 0.0
		if p == ps.current {
			v = 1
		}
		daemonPhase.WithLabelValues(p).Set(v)
	}
}

// SetPhase marks current as the active phase among all. Unlike the other
// helpers it is remembered when called before Register.
func SetPhase(current string, all []string) {
	ps := &phaseState{current: current, all: all}
	lastPhase.Store(ps)
	if regOK.Load() {
		ps.apply()
	}
}

func RecordPhaseTransition(from, to string) {
	if regOK.Load() {
		phaseTransitions.WithLabelValues(from, to).Inc()
	}
}

func ObservePublish(seconds float64) {
	if regOK.Load() {
		tunnelPublished.Inc()
		tunnelPublishDuration.Observe(seconds)
	}
}

func IncHistoryEvent(event string, ok bool) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	historyEvents.WithLabelValues(event, result).Inc()
}
