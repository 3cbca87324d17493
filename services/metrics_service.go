package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	serviceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podfleet_service_healthy",
			Help: "1 when the service's lifecycle state is HEALTHY",
		},
		[]string{"pod", "service"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podfleet_state_transitions_total",
			Help: "Lifecycle state transitions per service",
		},
		[]string{"pod", "service", "state"},
	)

	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podfleet_service_restarts_total",
			Help: "Restarts issued by the restart policy",
		},
		[]string{"pod", "service"},
	)

	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podfleet_probe_failures_total",
			Help: "Failed health probes per service",
		},
		[]string{"pod", "service"},
	)

	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podfleet_probe_duration_seconds",
			Help:    "Duration of health probes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pod", "service"},
	)

	podOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podfleet_pod_operations_total",
			Help: "Pod operations by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(serviceHealthy)
	prometheus.MustRegister(stateTransitions)
	prometheus.MustRegister(restartsTotal)
	prometheus.MustRegister(probeFailures)
	prometheus.MustRegister(probeDuration)
	prometheus.MustRegister(podOperations)
}

func recordTransition(pod, service, state string, healthy bool) {
	stateTransitions.WithLabelValues(pod, service, state).Inc()
	if healthy {
		serviceHealthy.WithLabelValues(pod, service).Set(1)
	} else {
		serviceHealthy.WithLabelValues(pod, service).Set(0)
	}
}

func recordRestart(pod, service string) {
	restartsTotal.WithLabelValues(pod, service).Inc()
}

func observeProbe(pod, service string, elapsed time.Duration, err error) {
	probeDuration.WithLabelValues(pod, service).Observe(elapsed.Seconds())
	if err != nil {
		probeFailures.WithLabelValues(pod, service).Inc()
	}
}

func recordOperation(verb string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	podOperations.WithLabelValues(verb, outcome).Inc()
}
