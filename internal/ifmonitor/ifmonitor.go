// Package ifmonitor implements the interface monitor: it enumerates host
// network interfaces, tracks which ones a caller has asked to use, and
// reconciles the desired set against the live set on a 5-15s cadence.
// The socket-opening step is pluggable (SocketOpener) so the monitor can
// track many transports across many interfaces without depending on a
// concrete transport implementation.
package ifmonitor

import (
	"net"
	"sync"
	"time"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
)

// LazyUpdateMin and LazyUpdateMax bound the reconciliation cadence.
const (
	LazyUpdateMin = 5 * time.Second
	LazyUpdateMax = 15 * time.Second
)

// IfConfigEntry describes one host network interface as observed by
// ListInterfaces.
type IfConfigEntry struct {
	Name      string
	Index     int
	Address   net.IP
	PrefixLen int
	MTU       int
	Flags     net.Flags
}

func (e IfConfigEntry) isUp() bool { return e.Flags&net.FlagUp != 0 }

// BroadcastAddr computes the IPv4 subnet-directed broadcast address for
// this interface (host bits all set), used for the optional broadcast
// fallback alongside multicast. Returns nil for an IPv6
// address or an unset prefix length.
func (e IfConfigEntry) BroadcastAddr() net.IP {
	ip4 := e.Address.To4()
	if ip4 == nil || e.PrefixLen <= 0 || e.PrefixLen >= 32 {
		return nil
	}
	mask := net.CIDRMask(e.PrefixLen, 32)
	bcast := make(net.IP, 4)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// InterfaceRequest is what a caller asked for via Open — it may not yet
// correspond to a LiveInterface if the named/addressed interface isn't up.
// Name "*" requests every up interface, matching the busconfig
// ip_name_service.interfaces="*" default.
type InterfaceRequest struct {
	Name          string
	TransportMask uint16
	Address       net.IP
}

func (r InterfaceRequest) matches(e IfConfigEntry) bool {
	if r.Name == "*" {
		return true
	}
	if r.Name != "" {
		return r.Name == e.Name
	}
	if r.Address != nil {
		return r.Address.Equal(e.Address)
	}
	return false
}

func (r InterfaceRequest) key() string {
	if r.Name != "" {
		return "name:" + r.Name
	}
	if r.Address != nil {
		return "addr:" + r.Address.String()
	}
	return ""
}

// Socket is the live-socket handle the monitor attaches to a reconciled
// interface. Concrete transports (internal/nstransport) implement this;
// the monitor only needs to be able to close it.
type Socket interface {
	Close() error
}

// SocketOpener opens whatever per-interface sockets a transport needs
// (multicast receive, optional broadcast) for one live interface.
type SocketOpener func(entry IfConfigEntry, mask uint16) (Socket, error)

// LiveInterface is a reconciled, currently-open interface.
type LiveInterface struct {
	Entry         IfConfigEntry
	Socket        Socket
	TransportMask uint16
}

// ListInterfaces enumerates the host's network interfaces.
func ListInterfaces() ([]IfConfigEntry, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &bderrors.NetworkError{Operation: "list interfaces", Err: err}
	}
	var out []IfConfigEntry
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			prefixLen, _ := ipnet.Mask.Size()
			out = append(out, IfConfigEntry{
				Name:      iface.Name,
				Index:     iface.Index,
				Address:   ipnet.IP,
				PrefixLen: prefixLen,
				MTU:       iface.MTU,
				Flags:     iface.Flags,
			})
		}
	}
	return out, nil
}

// Monitor tracks the desired interface set and reconciles it against the
// live set, opening and closing per-interface sockets as interfaces come
// up and down, and releasing everything on process suspend.
type Monitor struct {
	opener SocketOpener
	lister func() ([]IfConfigEntry, error)

	lazyMin time.Duration
	lazyMax time.Duration

	mu         sync.Mutex
	requests   map[string]InterfaceRequest
	virtual    map[string]IfConfigEntry
	live       map[string]*LiveInterface
	suspended  bool
	lastUpdate time.Time
	dirty      bool
}

// NewMonitor constructs a Monitor. opener is used to bring up sockets for
// reconciled interfaces; pass a fake in tests to avoid real sockets.
func NewMonitor(opener SocketOpener) *Monitor {
	return &Monitor{
		opener:   opener,
		lister:   ListInterfaces,
		lazyMin:  LazyUpdateMin,
		lazyMax:  LazyUpdateMax,
		requests: make(map[string]InterfaceRequest),
		virtual:  make(map[string]IfConfigEntry),
		live:     make(map[string]*LiveInterface),
	}
}

// WithLazyWindow overrides the default reconciliation cadence bounds
// (LazyUpdateMin/LazyUpdateMax) for this monitor.
func (m *Monitor) WithLazyWindow(min, max time.Duration) *Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyMin = min
	m.lazyMax = max
	return m
}

// SetLister overrides how Reconcile enumerates host interfaces; the
// default is ListInterfaces. Tests substitute a fixed interface set here
// instead of depending on the host's real network configuration.
func (m *Monitor) SetLister(lister func() ([]IfConfigEntry, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lister = lister
}

// Open records a request for transport on the named or addressed
// interface; either Name or Address (not both) identifies it.
func (m *Monitor) Open(req InterfaceRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.key()+"#"+maskKey(req.TransportMask)] = req
	m.dirty = true
}

// Close removes a previously-opened request; the next reconciliation
// closes any live socket that is no longer wanted by any request.
func (m *Monitor) Close(req InterfaceRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, req.key()+"#"+maskKey(req.TransportMask))
	m.dirty = true
}

// CreateVirtual registers an externally-fabricated interface (used where
// the host stack hides a soft-AP) so it participates in reconciliation as
// if ListInterfaces had reported it.
func (m *Monitor) CreateVirtual(entry IfConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.virtual[entry.Name]; exists {
		return &bderrors.InterfaceAlreadyExistsError{Name: entry.Name}
	}
	m.virtual[entry.Name] = entry
	m.dirty = true
	return nil
}

// DeleteVirtual removes a previously-created virtual interface.
func (m *Monitor) DeleteVirtual(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.virtual, name)
	m.dirty = true
}

func maskKey(mask uint16) string {
	return string(rune('A' + mask%26))
}

// ShouldReconcile reports whether the lazy-update window has opened: at
// least LazyUpdateMin has elapsed and either the request set is dirty or
// LazyUpdateMax has elapsed.
func (m *Monitor) ShouldReconcile(now time.Time, forced bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if forced {
		return true
	}
	elapsed := now.Sub(m.lastUpdate)
	if elapsed < m.lazyMin {
		return false
	}
	if m.dirty {
		return true
	}
	return elapsed >= m.lazyMax
}

// Reconcile compares the desired interface set against the live set:
// interfaces that are now up and wanted get sockets opened; interfaces
// that are down, closed, or no longer wanted get their sockets closed.
func (m *Monitor) Reconcile(now time.Time) error {
	entries, err := m.lister()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUpdate = now
	m.dirty = false

	if m.suspended {
		return nil
	}

	all := append(append([]IfConfigEntry{}, entries...), virtualList(m.virtual)...)

	wanted := make(map[string]InterfaceRequest)
	for _, entry := range all {
		if !entry.isUp() {
			continue
		}
		for _, req := range m.requests {
			if req.matches(entry) {
				key := liveKey(entry, req.TransportMask)
				wanted[key] = req
				if _, exists := m.live[key]; exists {
					continue
				}
				sock, err := m.opener(entry, req.TransportMask)
				if err != nil {
					// BadInterface: the failure is not reported to the
					// caller or logged; the request stays queued and is
					// retried on the next Reconcile.
					continue
				}
				m.live[key] = &LiveInterface{Entry: entry, Socket: sock, TransportMask: req.TransportMask}
			}
		}
	}

	for key, live := range m.live {
		if _, stillWanted := wanted[key]; !stillWanted {
			_ = live.Socket.Close()
			delete(m.live, key)
		}
	}

	return nil
}

func liveKey(entry IfConfigEntry, mask uint16) string {
	return entry.Name + "|" + entry.Address.String() + "|" + maskKey(mask)
}

func virtualList(m map[string]IfConfigEntry) []IfConfigEntry {
	out := make([]IfConfigEntry, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Suspend releases all live sockets, as on process suspend.
func (m *Monitor) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = true
	for key, live := range m.live {
		_ = live.Socket.Close()
		delete(m.live, key)
	}
}

// Resume clears the suspended flag; the next Reconcile reopens sockets
// for any interface still matching a live request.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = false
	m.dirty = true
}

// LiveInterfaces returns a snapshot of the currently-open interfaces.
func (m *Monitor) LiveInterfaces() []LiveInterface {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LiveInterface, 0, len(m.live))
	for _, live := range m.live {
		out = append(out, *live)
	}
	return out
}
