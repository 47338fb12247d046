// Package router implements the router core: dispatch of an inbound
// message either to its explicit destination or, absent one, fanned out
// to every endpoint with a matching rule in the match-rule table.
// Delivery uses per-endpoint outbound queues with flow-control signaling
// instead of a blocking send.
package router

import (
	"fmt"
	"sync"

	"github.com/alljoyn-go/coredaemon/internal/metrics"
	"github.com/alljoyn-go/coredaemon/internal/rule"
)

// outboundQueueDepth bounds each endpoint's outbound queue; a full queue
// means that endpoint is slow and its message is dropped rather than
// blocking the router; delivery is best-effort, not guaranteed.
const outboundQueueDepth = 64

// Endpoint is a routable destination: its bus name and the channel the
// router delivers to.
type Endpoint struct {
	name       string
	outbound   chan rule.Message
	registered bool
}

// UniqueName implements rule.Endpoint.
func (e *Endpoint) UniqueName() string { return e.name }

// Outbound returns the channel callers read delivered messages from.
func (e *Endpoint) Outbound() <-chan rule.Message { return e.outbound }

// Registry tracks connected endpoints by unique name, safe for use from
// many transport goroutines at once.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewRegistry constructs an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Register adds a new endpoint under name, returning an error if that
// name is already registered.
func (r *Registry) Register(name string) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[name]; exists {
		return nil, fmt.Errorf("router: endpoint %q already registered", name)
	}
	ep := &Endpoint{name: name, outbound: make(chan rule.Message, outboundQueueDepth), registered: true}
	r.endpoints[name] = ep
	return ep, nil
}

// Get looks up a registered endpoint by name.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Remove unregisters an endpoint and removes every rule it had installed.
func (r *Registry) Remove(name string, table *rule.Table) error {
	r.mu.Lock()
	ep, ok := r.endpoints[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("router: no endpoint %q", name)
	}
	delete(r.endpoints, name)
	r.mu.Unlock()

	table.RemoveAllRules(ep)
	close(ep.outbound)
	return nil
}

// SessionlessStore receives a copy of every sessionless message the
// router handles. The store itself is an external
// collaborator; the router only needs somewhere to hand the copy off.
type SessionlessStore interface {
	Push(msg rule.Message)
}

// Router dispatches messages either to an explicit destination or, when
// absent, to every endpoint with a matching rule.
type Router struct {
	registry    *Registry
	rules       *rule.Table
	metrics     *metrics.Registry
	sessionless SessionlessStore

	mu      sync.Mutex
	dropped uint64
}

// New constructs a Router over registry and table.
func New(registry *Registry, table *rule.Table) *Router {
	return &Router{registry: registry, rules: table}
}

// WithMetrics attaches a metrics registry that Dispatch reports
// dispatched/dropped counts to. Passing nil disables reporting.
func (rt *Router) WithMetrics(m *metrics.Registry) *Router {
	rt.metrics = m
	return rt
}

// WithSessionlessStore attaches the sessionless store that receives a
// copy of every sessionless message dispatched. Passing nil disables the
// hand-off.
func (rt *Router) WithSessionlessStore(s SessionlessStore) *Router {
	rt.sessionless = s
	return rt
}

// Dispatch delivers msg: if Destination is set, it goes to that endpoint
// alone, and a Destination that names no registered endpoint is an error;
// otherwise every endpoint with a matching rule —
// excluding the sender — receives it at most once. Delivery to any one
// endpoint is non-blocking — a full outbound queue counts as dropped
// rather than stalling the router.
func (rt *Router) Dispatch(msg rule.Message) (delivered int, err error) {
	if msg.IsSessionless && rt.sessionless != nil {
		rt.sessionless.Push(msg)
	}
	if msg.Destination != "" {
		ep, ok := rt.registry.Get(msg.Destination)
		if !ok {
			return 0, fmt.Errorf("router: no such destination %q", msg.Destination)
		}
		if rt.deliver(ep, msg) {
			return 1, nil
		}
		return 0, nil
	}

	endpoints := rt.rules.MatchingEndpoints(msg)
	for _, e := range endpoints {
		ep, ok := e.(*Endpoint)
		if !ok || ep.name == msg.Sender {
			continue
		}
		if rt.deliver(ep, msg) {
			delivered++
		}
	}
	return delivered, nil
}

func (rt *Router) deliver(ep *Endpoint, msg rule.Message) bool {
	select {
	case ep.outbound <- msg:
		if rt.metrics != nil {
			rt.metrics.RouterDispatchedTotal.Inc()
		}
		return true
	default:
		rt.mu.Lock()
		rt.dropped++
		rt.mu.Unlock()
		if rt.metrics != nil {
			rt.metrics.RouterDroppedTotal.Inc()
		}
		return false
	}
}

// Dropped returns the number of messages dropped so far due to a full
// outbound queue (flow-control signal for metrics).
func (rt *Router) Dropped() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.dropped
}
