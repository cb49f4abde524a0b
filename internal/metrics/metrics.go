// Package metrics registers the session's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load outcomes
const (
	OutcomeReady         = "ready"
	OutcomeResourceError = "resource_error"
	OutcomeModuleError   = "module_error"
	OutcomeInvalidID     = "invalid_id"
)

var (
	// ExperienceLoads counts finished load attempts by outcome.
	ExperienceLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skirmish_experience_loads_total",
			Help: "Finished experience load attempts by outcome.",
		},
		[]string{"experience", "outcome"},
	)

	// ExperienceLoadDuration measures request-to-ready latency.
	ExperienceLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skirmish_experience_load_duration_seconds",
			Help:    "Time from experience request to ready or failed.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// StaleCompletions counts async completions discarded after a newer request.
	StaleCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skirmish_stale_completions_total",
			Help: "Async completions discarded because a newer request superseded them.",
		},
		[]string{"stage"}, // stage: resources, module
	)

	// LoadState is 1 for the coordinator's current load state and 0 otherwise.
	LoadState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skirmish_experience_load_state",
			Help: "Current experience load state (1 = active).",
		},
		[]string{"state"},
	)

	// SpawnQueueDepth is the number of members waiting for their entity.
	SpawnQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skirmish_spawn_queue_depth",
		Help: "Entity creation requests waiting for the experience to become ready.",
	})

	// SpawnResults counts gate outcomes.
	SpawnResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skirmish_spawn_results_total",
			Help: "Entity creation requests by result.",
		},
		[]string{"result"}, // result: created, queued, dropped, failed
	)

	// PhaseTransitions counts phase entries.
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skirmish_phase_transitions_total",
			Help: "Match phase entries by phase.",
		},
		[]string{"phase"},
	)

	// StatePublishes counts replicated snapshot publishes by transport and result.
	StatePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skirmish_state_publishes_total",
			Help: "Replicated session snapshots published by transport and result.",
		},
		[]string{"transport", "result"},
	)

	// ConnectedMembers is the number of members currently in the session.
	ConnectedMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skirmish_connected_members",
		Help: "Members currently connected to the session.",
	})
)

// ObserveLoad records the outcome and latency of one load attempt.
func ObserveLoad(experience, outcome string, elapsed time.Duration) {
	ExperienceLoads.WithLabelValues(experience, outcome).Inc()
	ExperienceLoadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetLoadState marks state as the only active load state.
func SetLoadState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		LoadState.WithLabelValues(s).Set(v)
	}
}
