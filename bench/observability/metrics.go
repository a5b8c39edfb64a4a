// Package observability holds the Prometheus collectors shared by nodes,
// the router and the collector.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodeLoad tracks the committed CPU budget of each node.
	NodeLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadbench_node_load",
		Help: "Committed CPU budget of admitted, uncompleted requests",
	}, []string{"node"})

	// NodeQueueDepth tracks requests waiting for admission.
	NodeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadbench_node_queue_depth",
		Help: "Requests received but not yet admitted",
	}, []string{"node"})

	// NodeInFlight tracks running workers.
	NodeInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadbench_node_in_flight",
		Help: "Admitted requests whose worker has not finished",
	}, []string{"node"})

	// Admissions counts admitted requests.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_node_admissions_total",
		Help: "Requests admitted by the node scheduler",
	}, []string{"node"})

	// BudgetWaits counts the times the admission loop blocked on the budget.
	BudgetWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_node_budget_waits_total",
		Help: "Times the head request did not fit the remaining budget",
	}, []string{"node"})

	// AdmissionWait tracks time spent between receipt and dispatch.
	AdmissionWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loadbench_node_admission_wait_seconds",
		Help:    "Time a request spent queued before its worker started",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"node"})

	// StatusBatchesDropped counts batches the sampler could not hand to its sender.
	StatusBatchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_status_batches_dropped_total",
		Help: "Status batches dropped because the sender was backed up",
	}, []string{"node"})

	// StatusPersistFailures counts failed status writes.
	StatusPersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_status_persist_failures_total",
		Help: "Status batches that could not be persisted",
	}, []string{"node"})

	// RoutingDecisions counts routing decisions by policy and target.
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_routing_decisions_total",
		Help: "Routing decisions made, by policy and chosen node",
	}, []string{"policy", "node"})

	// RoutingFailures counts requests for which no node was available.
	RoutingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_routing_no_available_node_total",
		Help: "Routing attempts that found no eligible node",
	}, []string{"policy"})

	// ActiveSessions tracks the collector's active client sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loadbench_collector_active_sessions",
		Help: "Client sessions started and not yet finished",
	})

	// ReportsGenerated counts aggregation runs.
	ReportsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loadbench_collector_reports_total",
		Help: "Statistics reports generated",
	})

	// ConnectionErrors counts handler exits caused by transport or decode failures.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadbench_connection_errors_total",
		Help: "Connections aborted by transport, decode or protocol errors",
	}, []string{"endpoint", "kind"})

	// RequestLatency tracks client-observed end-to-end latency.
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loadbench_client_request_latency_seconds",
		Help:    "Time between a client sending a request and receiving its reply",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
	}, []string{"node"})
)
