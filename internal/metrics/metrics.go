// Package metrics exposes router and name-service counters through
// VictoriaMetrics/metrics: a lazily-initialized *metrics.Set holding one
// field per counter, each constructed with a Prometheus label-style
// metric name, exposed via WritePrometheus.
package metrics

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Registry holds every counter the daemon core exports. Fields are
// initialized once, on first use, by New.
type Registry struct {
	set *metrics.Set

	// name service
	NameserviceAdvertisedTotal   *metrics.Counter
	NameserviceDiscoveredTotal   struct {
		found *metrics.Counter
		lost  *metrics.Counter
	}
	NameserviceDatagramsTotal struct {
		sent     *metrics.Counter
		received *metrics.Counter
	}
	NameserviceRetransmitsTotal *metrics.Counter
	NameserviceQuestionsTotal   *metrics.Counter

	// router
	RouterDispatchedTotal *metrics.Counter
	RouterDroppedTotal    *metrics.Counter

	// interface monitor
	IfmonitorLiveInterfaces *metrics.Counter
}

var (
	once     sync.Once
	registry *Registry
)

// New lazily constructs the process-wide Registry. Calling it more than
// once returns the same instance, so every metric is registered exactly
// once regardless of caller count.
func New() *Registry {
	once.Do(func() {
		r := &Registry{set: metrics.NewSet()}
		r.NameserviceAdvertisedTotal = r.set.NewCounter(`busd_nameservice_advertised_total`)
		r.NameserviceDiscoveredTotal.found = r.set.NewCounter(`busd_nameservice_discovered_total{event="found"}`)
		r.NameserviceDiscoveredTotal.lost = r.set.NewCounter(`busd_nameservice_discovered_total{event="lost"}`)
		r.NameserviceDatagramsTotal.sent = r.set.NewCounter(`busd_nameservice_datagrams_total{direction="sent"}`)
		r.NameserviceDatagramsTotal.received = r.set.NewCounter(`busd_nameservice_datagrams_total{direction="received"}`)
		r.NameserviceRetransmitsTotal = r.set.NewCounter(`busd_nameservice_retransmits_total`)
		r.NameserviceQuestionsTotal = r.set.NewCounter(`busd_nameservice_questions_total`)

		r.RouterDispatchedTotal = r.set.NewCounter(`busd_router_dispatched_total`)
		r.RouterDroppedTotal = r.set.NewCounter(`busd_router_dropped_total`)

		r.IfmonitorLiveInterfaces = r.set.NewCounter(`busd_ifmonitor_live_interfaces`)

		metrics.RegisterSet(r.set)
		registry = r
	})
	return registry
}

// DiscoveredFound increments the found-event counter.
func (r *Registry) DiscoveredFound() { r.NameserviceDiscoveredTotal.found.Inc() }

// DiscoveredLost increments the lost-event counter.
func (r *Registry) DiscoveredLost() { r.NameserviceDiscoveredTotal.lost.Inc() }

// DatagramSent increments the sent-datagram counter.
func (r *Registry) DatagramSent() { r.NameserviceDatagramsTotal.sent.Inc() }

// DatagramReceived increments the received-datagram counter.
func (r *Registry) DatagramReceived() { r.NameserviceDatagramsTotal.received.Inc() }

// WritePrometheus writes every metric in Prometheus exposition format.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
