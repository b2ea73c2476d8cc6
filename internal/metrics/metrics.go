// Package metrics defines the prometheus collectors fleetrun records while
// orchestrating a cluster.
//
// Collectors live on a per-session registry rather than the global default
// one so tests and concurrent sessions stay isolated.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetrun"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

// Metrics groups the collectors of one orchestration session.
type Metrics struct {
	Registry *prometheus.Registry

	FanOutTotal       *prometheus.CounterVec
	FanOutDuration    *prometheus.HistogramVec
	TransfersTotal    *prometheus.CounterVec
	BroadcastRounds   prometheus.Gauge
	InstancesTotal    *prometheus.CounterVec
	PollAttemptsTotal *prometheus.CounterVec
	TeardownTotal     *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FanOutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cluster",
				Name:      "fanout_node_operations_total",
				Help:      "Per-node fan-out operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		FanOutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cluster",
				Name:      "fanout_duration_seconds",
				Help:      "Wall-clock duration of a fan-out until every worker joined",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"operation"},
		),
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cluster",
				Name:      "broadcast_transfers_total",
				Help:      "Point-to-point transfers performed by broadcast copies",
			},
			[]string{"result"},
		),
		BroadcastRounds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cluster",
				Name:      "broadcast_rounds",
				Help:      "Sequential rounds used by the last broadcast copy",
			},
		),
		InstancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provisioning",
				Name:      "instances_total",
				Help:      "Provisioned instances by backend and final state",
			},
			[]string{"backend", "state"},
		),
		PollAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provisioning",
				Name:      "poll_attempts_total",
				Help:      "Unsuccessful poll attempts by wait kind",
			},
			[]string{"wait"},
		),
		TeardownTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provisioning",
				Name:      "teardown_total",
				Help:      "Terminate/stop requests by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "commands_total",
				Help:      "Commands executed by result (zero or non-zero exit, transport error)",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.FanOutTotal,
		m.FanOutDuration,
		m.TransfersTotal,
		m.BroadcastRounds,
		m.InstancesTotal,
		m.PollAttemptsTotal,
		m.TeardownTotal,
		m.CommandsTotal,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
