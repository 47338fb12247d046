// Package bundlerouter implements the bundled router launcher: the
// singleton that brings an in-process router up when a client library
// cannot reach an external one. Construction is an explicit, once-guarded
// step that takes the null-transport registry as a parameter instead of
// reaching for a process-wide global.
package bundlerouter

import (
	"sync"
	"time"

	"github.com/alljoyn-go/coredaemon/internal/busconfig"
	"github.com/alljoyn-go/coredaemon/internal/nulltransport"
)

// pollInterval is how often Start's busy-wait re-checks the stopping
// flag.
const pollInterval = 5 * time.Millisecond

// Daemon is the subset of the daemon core the bundled router brings up
// and tears down on demand.
type Daemon interface {
	Start() error
	Stop() error
	Join()
}

// Router is the bundled router launcher: on first in-process Connect it
// brings the daemon core up, and on last Disconnect it tears it down.
type Router struct {
	mu       sync.Mutex
	daemon   Daemon
	config   string
	stopping bool
	conns    map[string]*nulltransport.Connection
}

// New constructs a Router bound to daemon and registers it with registry
// as the router launcher. Callers wanting singleton semantics use
// NewOnce.
func New(daemon Daemon, registry *nulltransport.Registry) *Router {
	r := &Router{
		daemon: daemon,
		config: busconfig.Embedded,
		conns:  make(map[string]*nulltransport.Connection),
	}
	registry.RegisterRouterLauncher(r)
	return r
}

var (
	onceMu  sync.Mutex
	onceMap = make(map[*nulltransport.Registry]*Router)
)

// NewOnce returns the Router previously constructed for registry, or
// constructs and registers one if this is the first call.
func NewOnce(daemon Daemon, registry *nulltransport.Registry) *Router {
	onceMu.Lock()
	defer onceMu.Unlock()
	if r, ok := onceMap[registry]; ok {
		return r
	}
	r := New(daemon, registry)
	onceMap[registry] = r
	return r
}

// Start brings up the daemon core the first time it is called while no
// stop is in flight; if a Stop is still draining, it busy-waits until the
// drain completes before (re)starting.
func (r *Router) Start(conn *nulltransport.Connection) error {
	r.mu.Lock()
	for r.stopping {
		r.mu.Unlock()
		time.Sleep(pollInterval)
		r.mu.Lock()
	}
	first := len(r.conns) == 0
	r.conns[conn.Name] = conn
	r.mu.Unlock()

	if !first {
		return nil
	}
	return r.daemon.Start()
}

// Stop removes conn from the tracked set and, once the set is empty,
// marks the router as stopping and tears the daemon core down.
func (r *Router) Stop(conn *nulltransport.Connection) error {
	r.mu.Lock()
	delete(r.conns, conn.Name)
	if len(r.conns) > 0 {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	r.mu.Unlock()

	err := r.daemon.Stop()

	r.mu.Lock()
	r.stopping = false
	r.mu.Unlock()
	return err
}

// Join waits for the daemon core to finish shutting down.
func (r *Router) Join() {
	r.daemon.Join()
}

// Config returns the embedded bundled-router configuration fragment this
// launcher was built with.
func (r *Router) Config() string { return r.config }
