// Package metrics exposes the Prometheus collectors shared by the runtime.
// Collectors are registered once on the default registry; tests interact with
// them through the exported vars.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events accepted by the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events accepted by the bus.",
	}, []string{"type"})

	// EventsDropped counts backpressure drops: queue high-water, full
	// subscriber channels and full per-user mailboxes.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Events dropped under backpressure.",
	}, []string{"where"})

	// HandlerFailures counts subscriber handlers that returned an error.
	HandlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "bus",
		Name:      "handler_failures_total",
		Help:      "Subscriber handler errors (isolated, non-fatal).",
	})

	// WebsocketClients gauges currently connected event-stream sockets.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tenantguard",
		Subsystem: "stream",
		Name:      "websocket_clients",
		Help:      "Connected websocket clients.",
	})

	// VaultDecisions counts access decisions by outcome.
	VaultDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "vault",
		Name:      "decisions_total",
		Help:      "Vault access decisions.",
	}, []string{"decision"})

	// StorageRetries counts retried provider calls.
	StorageRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "storage",
		Name:      "retries_total",
		Help:      "Storage provider calls retried after transient failure.",
	})

	// ActiveContexts gauges user contexts currently held in memory.
	ActiveContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tenantguard",
		Subsystem: "contextloop",
		Name:      "active_contexts",
		Help:      "User contexts resident in the loop.",
	})

	// ReducerFailures counts reducer errors; the affected event is marked
	// unprocessed and the context left unchanged.
	ReducerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tenantguard",
		Subsystem: "contextloop",
		Name:      "reducer_failures_total",
		Help:      "Reducer errors.",
	})
)
