// Package metrics provides Prometheus metrics for the agent provisioner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodesPlanned counts planned nodes handed back to the scheduler.
	NodesPlanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "nodes_planned_total",
			Help:      "Total number of planned nodes by cloud and image",
		},
		[]string{"cloud", "image"},
	)

	// NodesConnected counts agents whose remote connection succeeded.
	NodesConnected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "nodes_connected_total",
			Help:      "Total number of agents brought online by cloud and image",
		},
		[]string{"cloud", "image"},
	)

	// ProvisionFailures counts failed provisioning tasks by reason.
	ProvisionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "provision_failures_total",
			Help:      "Total number of failed provisioning tasks by reason",
		},
		[]string{"cloud", "reason"}, // "engine_unreachable", "container_create", "remote_connect", ...
	)

	// CycleAborts counts provisioning cycles aborted before planning anything.
	CycleAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "cycle_aborts_total",
			Help:      "Total number of provisioning cycles aborted by an engine error",
		},
		[]string{"cloud", "reason"},
	)

	// CapacityDenials counts cycles stopped by an instance cap.
	CapacityDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "capacity_denials_total",
			Help:      "Total number of provisioning cycles stopped by an instance cap",
		},
		[]string{"cloud", "image"},
	)

	// ProvisioningInFlight tracks provisioning tasks not settled yet.
	ProvisioningInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "provisioning_in_flight",
			Help:      "Number of provisioning tasks not settled yet",
		},
		[]string{"cloud"},
	)

	// ProvisionDuration tracks the time from planning to a settled node.
	ProvisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dockyard",
			Subsystem: "cloud",
			Name:      "provision_duration_seconds",
			Help:      "Time from planning a node until it is connected or failed",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"cloud", "result"}, // "connected", "failed"
	)

	// DemandTotal counts demands received by the scheduler.
	DemandTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dockyard",
			Subsystem: "scheduler",
			Name:      "demand_total",
			Help:      "Total number of demands by outcome",
		},
		[]string{"outcome"}, // "planned", "covered", "unsatisfiable"
	)
)
