package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "worker",
			Name:      "created_total",
			Help:      "Number of worker processes created.",
		},
	)
	workersReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "worker",
			Name:      "reaped_total",
			Help:      "Number of worker processes removed by the reaper, by state at removal.",
		}, []string{"state"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of worker state transitions.",
		}, []string{"from", "to"},
	)
	workerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "worker",
			Name:      "failures_total",
			Help:      "Number of workers that ended in the failed state, by cause.",
		}, []string{"reason"},
	)
	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskconsole",
			Subsystem: "worker",
			Name:      "registry_size",
			Help:      "Current number of worker records held by the registry.",
		},
	)

	promptsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskconsole",
			Subsystem: "prompt",
			Name:      "pending",
			Help:      "Prompts currently waiting for an answer.",
		},
	)
	promptTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "prompt",
			Name:      "timeouts_total",
			Help:      "Prompts abandoned because the owning worker went idle.",
		},
	)

	fragmentsCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskconsole",
			Subsystem: "capture",
			Name:      "fragments_total",
			Help:      "Rendered output fragments appended to capture buffers.",
		},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskconsole",
			Subsystem: "http",
			Name:      "stream_clients",
			Help:      "Open output event streams.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workersCreated, workersReaped, stateTransitions, workerFailures, registrySize,
		promptsPending, promptTimeouts, fragmentsCaptured, streamClients,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncCreated() {
	if regOK.Load() {
		workersCreated.Inc()
	}
}

func IncReaped(state string) {
	if regOK.Load() {
		workersReaped.WithLabelValues(state).Inc()
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncFailure(reason string) {
	if regOK.Load() {
		workerFailures.WithLabelValues(reason).Inc()
	}
}

func SetRegistrySize(n int) {
	if regOK.Load() {
		registrySize.Set(float64(n))
	}
}

func SetPromptsPending(n int) {
	if regOK.Load() {
		promptsPending.Set(float64(n))
	}
}

func IncPromptTimeout() {
	if regOK.Load() {
		promptTimeouts.Inc()
	}
}

func IncFragments() {
	if regOK.Load() {
		fragmentsCaptured.Inc()
	}
}

func IncStreams() {
	if regOK.Load() {
		streamClients.Inc()
	}
}

func DecStreams() {
	if regOK.Load() {
		streamClients.Dec()
	}
}
