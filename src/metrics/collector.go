// Package metrics collects the prometheus metrics of a node.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the metrics of one node, registered with a registry of its
// own so that several nodes can live in the same process. All methods are
// safe to call on a nil Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	// routing service
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	forwardsTotal   *prometheus.CounterVec

	// topology
	graphRebuilds  prometheus.Counter
	reachableNodes prometheus.Gauge

	// properties
	propertyChanges *prometheus.CounterVec

	// channels
	openChannels      prometheus.Gauge
	heartbeatFailures prometheus.Counter

	// rpc
	callbackBindings prometheus.Gauge
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routed_requests_total",
			Help:      "Total number of requests sent through the routing service",
		},
		[]string{"type", "code"},
	)

	c.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routed_request_duration_seconds",
			Help:      "Time until the response of a routed request arrived",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"type"},
	)

	c.forwardsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_requests_total",
			Help:      "Total number of requests forwarded on behalf of other nodes",
		},
		[]string{"code"},
	)

	c.graphRebuilds = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_rebuilds_total",
			Help:      "Number of network graph snapshots built",
		},
	)

	c.reachableNodes = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_reachable_nodes",
			Help:      "Number of nodes in the reachable network graph",
		},
	)

	c.propertyChanges = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_changes_total",
			Help:      "Node property merge outcomes",
		},
		[]string{"outcome"}, // added, updated, removed, discarded
	)

	c.openChannels = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_channels",
			Help:      "Number of registered message channels",
		},
	)

	c.heartbeatFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_failures_total",
			Help:      "Number of channel heartbeats that did not succeed",
		},
	)

	c.callbackBindings = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "callback_bindings",
			Help:      "Number of live callback object bindings",
		},
	)

	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRequest records the outcome of a routed request.
func (c *Collector) RecordRequest(messageType string, code string, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(messageType, code).Inc()
	c.requestDuration.WithLabelValues(messageType).Observe(d.Seconds())
}

// RecordForward records the outcome of a forwarded request.
func (c *Collector) RecordForward(code string) {
	if c == nil {
		return
	}
	c.forwardsTotal.WithLabelValues(code).Inc()
}

// RecordGraphRebuild records a new network graph snapshot.
func (c *Collector) RecordGraphRebuild(reachable int) {
	if c == nil {
		return
	}
	c.graphRebuilds.Inc()
	c.reachableNodes.Set(float64(reachable))
}

// RecordPropertyChanges records the outcome of a property merge.
func (c *Collector) RecordPropertyChanges(added, updated, removed, discarded int) {
	if c == nil {
		return
	}
	c.propertyChanges.WithLabelValues("added").Add(float64(added))
	c.propertyChanges.WithLabelValues("updated").Add(float64(updated))
	c.propertyChanges.WithLabelValues("removed").Add(float64(removed))
	c.propertyChanges.WithLabelValues("discarded").Add(float64(discarded))
}

// SetOpenChannels sets the number of registered channels.
func (c *Collector) SetOpenChannels(n int) {
	if c == nil {
		return
	}
	c.openChannels.Set(float64(n))
}

// RecordHeartbeatFailure counts a failed heartbeat.
func (c *Collector) RecordHeartbeatFailure() {
	if c == nil {
		return
	}
	c.heartbeatFailures.Inc()
}

// SetCallbackBindings sets the number of live callback bindings.
func (c *Collector) SetCallbackBindings(n int) {
	if c == nil {
		return
	}
	c.callbackBindings.Set(float64(n))
}
