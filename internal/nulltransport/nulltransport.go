// Package nulltransport implements the in-process transport used by the
// bundled router launcher: a pair of buffered Go channels multiplexed by
// endpoint name links a client-library side to a co-located router with
// no socket in between.
package nulltransport

import (
	"fmt"
	"sync"
)

// RouterLauncher is the callback surface a bundled router registers with
// the null transport: Start is called for every Connect, Stop for every
// Disconnect, and Join once the last connection is gone. The launcher
// itself decides when the router comes up and goes down.
type RouterLauncher interface {
	Start(conn *Connection) error
	Stop(conn *Connection) error
	Join()
}

// Connection is one in-process client-to-router link: messages written to
// Outbound are read by the router side via Inbound, and vice versa from
// the router's perspective.
type Connection struct {
	Name     string
	Inbound  chan []byte
	Outbound chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(name string) *Connection {
	return &Connection{
		Name:     name,
		Inbound:  make(chan []byte, 32),
		Outbound: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

// Closed returns a channel closed once the connection is torn down.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Registry multiplexes in-process connections by endpoint name and holds
// the registered router launcher.
type Registry struct {
	mu       sync.Mutex
	launcher RouterLauncher
	conns    map[string]*Connection
}

// NewRegistry constructs an empty null-transport registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// RegisterRouterLauncher installs the launcher that Connect and
// Disconnect notify.
func (r *Registry) RegisterRouterLauncher(launcher RouterLauncher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launcher = launcher
}

// Connect opens a named connection and hands it to the registered router
// launcher's Start.
func (r *Registry) Connect(name string) (*Connection, error) {
	r.mu.Lock()
	if _, exists := r.conns[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("nulltransport: connection %q already exists", name)
	}
	conn := newConnection(name)
	r.conns[name] = conn
	launcher := r.launcher
	r.mu.Unlock()

	if launcher != nil {
		if err := launcher.Start(conn); err != nil {
			r.mu.Lock()
			delete(r.conns, name)
			r.mu.Unlock()
			return nil, err
		}
	}
	return conn, nil
}

// Disconnect tears down a named connection, hands it to the launcher's
// Stop, and joins the launcher once the last connection is gone.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	conn, exists := r.conns[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("nulltransport: no connection %q", name)
	}
	delete(r.conns, name)
	last := len(r.conns) == 0
	launcher := r.launcher
	r.mu.Unlock()

	conn.close()

	if launcher == nil {
		return nil
	}
	if err := launcher.Stop(conn); err != nil {
		return err
	}
	if last {
		launcher.Join()
	}
	return nil
}

// Connections returns the currently open connection names, used by tests
// and by the bundled router's shutdown path to drain outstanding links.
func (r *Registry) Connections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	return names
}
