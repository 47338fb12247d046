package nameservice

import (
	"context"
	"fmt"
	"net"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alljoyn-go/coredaemon/internal/buslog"
	"github.com/alljoyn-go/coredaemon/internal/guid"
	"github.com/alljoyn-go/coredaemon/internal/ifmonitor"
	"github.com/alljoyn-go/coredaemon/internal/metrics"
	"github.com/alljoyn-go/coredaemon/internal/nsproto"
	"github.com/alljoyn-go/coredaemon/internal/nstransport"
)

// sender is the subset of nstransport.Listener the engine needs to send a
// datagram back out the interface it arrived on or was advertised on.
type sender interface {
	Send(ctx context.Context, datagram []byte, dest net.Addr) error
}

// Engine drives name advertisement and discovery over one or more
// transports: the goroutine-owned run loop reconciles interfaces, retires
// expired found names, and retransmits active advertisements/questions,
// while Advertise/FindAdvertisedName/etc. are safe to call from any
// goroutine and only ever touch state under mu.
type Engine struct {
	guid    guid.GUID128
	log     buslog.Logger
	monitor *ifmonitor.Monitor
	packets <-chan nstransport.Packet
	version nsproto.Version
	metrics *metrics.Registry

	directedBroadcast bool
	loopback          bool

	mu          sync.Mutex
	params      criticalParameters
	ports       map[uint16]TransportPorts
	advertised  map[string]*advertisement
	discovering map[string]*discoverRequest
	found       map[string]*foundEntry
	foundExpiry map[string]time.Time

	state     atomic.Int32
	events    chan DiscoveryEvent
	cbDone    chan struct{}
	cbCancel  context.CancelFunc
	stopCh    chan struct{}
	loopDone  chan struct{}
	lastRetx  time.Time
	tickCount uint64
}

// New constructs an Engine in state INVALID. Init must be called before
// Start.
func New(id guid.GUID128, monitor *ifmonitor.Monitor, packets <-chan nstransport.Packet, log buslog.Logger) *Engine {
	if log == nil {
		log = buslog.Discard()
	}
	e := &Engine{
		guid:        id,
		log:         log,
		monitor:     monitor,
		packets:     packets,
		version:     nsproto.V1,
		params:      defaultParameters(),
		ports:       make(map[uint16]TransportPorts),
		advertised:  make(map[string]*advertisement),
		discovering: make(map[string]*discoverRequest),
		found:       make(map[string]*foundEntry),
		foundExpiry: make(map[string]time.Time),
		events:      make(chan DiscoveryEvent, 64),
	}
	e.state.Store(int32(StateInvalid))
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// WithMetrics attaches a metrics registry that the engine reports
// advertised/discovered/datagram counts to. Passing nil disables
// reporting.
func (e *Engine) WithMetrics(m *metrics.Registry) *Engine {
	e.metrics = m
	return e
}

// WithDirectedBroadcast enables sending a copy of every active
// advertisement/question to the interface's IPv4 subnet-directed
// broadcast address alongside the multicast group, matching the
// busconfig ip_name_service.disable_directed_broadcast="false" default.
func (e *Engine) WithDirectedBroadcast(enabled bool) *Engine {
	e.directedBroadcast = enabled
	return e
}

// Init validates configuration and transitions INVALID -> INITIALIZING.
// loopback makes the engine deliver its own transmissions back to itself,
// a test hook for single-host discovery.
func (e *Engine) Init(loopback bool) error {
	if e.State() != StateInvalid {
		return fmt.Errorf("nameservice: Init called in state %s, want INVALID", e.State())
	}
	e.loopback = loopback
	e.state.Store(int32(StateInitializing))
	return nil
}

// SetCriticalParameters overrides the protocol timers. Zero
// values leave the corresponding parameter unchanged.
func (e *Engine) SetCriticalParameters(duration, retransmit, question, retryInterval time.Duration, retries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if duration > 0 {
		e.params.duration = duration
	}
	if retransmit > 0 {
		e.params.retransmit = retransmit
	}
	if question > 0 {
		e.params.question = question
	}
	if retryInterval > 0 {
		e.params.retryInterval = retryInterval
	}
	if retries > 0 {
		e.params.retries = retries
	}
}

// Start transitions INITIALIZING -> RUNNING and launches the 1 Hz run
// loop.
func (e *Engine) Start() error {
	if e.State() != StateInitializing {
		return fmt.Errorf("nameservice: Start called in state %s, want INITIALIZING", e.State())
	}
	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.lastRetx = time.Now()
	e.state.Store(int32(StateRunning))
	go e.runLoop()
	return nil
}

// Stop sends the terminal burst (TTL=0 IsAt for every advertised name),
// transitions RUNNING -> STOPPING -> SHUTDOWN, and stops the run loop.
func (e *Engine) Stop() error {
	if e.State() != StateRunning {
		return fmt.Errorf("nameservice: Stop called in state %s, want RUNNING", e.State())
	}
	e.state.Store(int32(StateStopping))
	e.sendTerminalBurst()
	close(e.stopCh)
	<-e.loopDone
	e.state.Store(int32(StateShutdown))
	e.ClearCallbacks()
	close(e.events)
	return nil
}

func (e *Engine) runLoop() {
	defer close(e.loopDone)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		case pkt, ok := <-e.packets:
			if !ok {
				continue
			}
			e.handlePacket(pkt)
		}
	}
}

// SetCallback starts (or replaces) the dispatcher goroutine that invokes
// fn for every event delivered on the events channel, with the engine
// mutex released for the duration of the call.
func (e *Engine) SetCallback(fn func(DiscoveryEvent)) {
	e.ClearCallbacks()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cbCancel = cancel
	e.cbDone = done
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-e.events:
				if !ok {
					return
				}
				fn(ev)
			}
		}
	}()
}

// ClearCallbacks stops the dispatcher goroutine started by SetCallback,
// if any.
func (e *Engine) ClearCallbacks() {
	if e.cbCancel == nil {
		return
	}
	e.cbCancel()
	<-e.cbDone
	e.cbCancel = nil
	e.cbDone = nil
}

// Advertise registers name as reachable over the single transport in
// mask. Unless quietly is set, it immediately bursts an IsAt.
func (e *Engine) Advertise(name string, mask uint16, quietly bool) error {
	if err := TransportMask(mask).RequireSingleBit(); err != nil {
		return err
	}
	e.mu.Lock()
	e.advertised[name] = &advertisement{mask: mask, quietly: quietly}
	ttl := uint8(e.params.duration / time.Second)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.NameserviceAdvertisedTotal.Inc()
	}
	if !quietly {
		e.broadcastIsAt([]string{name}, mask, ttl)
	}
	return nil
}

// CancelAdvertise withdraws a previously advertised name, bursting a
// TTL=0 IsAt so peers drop it immediately rather than waiting for expiry.
func (e *Engine) CancelAdvertise(name string, mask uint16) error {
	e.mu.Lock()
	delete(e.advertised, name)
	e.mu.Unlock()
	e.broadcastIsAt([]string{name}, mask, 0)
	return nil
}

// FindAdvertisedName begins discovery for pattern (a literal name or a
// shell-style wildcard pattern), sending an immediate WhoHas and arming
// up to Retries follow-up questions spaced RetryInterval apart. policy
// governs when the retransmission schedule short-circuits in response to
// observed answers.
func (e *Engine) FindAdvertisedName(pattern string, mask uint16, policy LocatePolicy) error {
	if err := TransportMask(mask).RequireSingleBit(); err != nil {
		return err
	}
	e.mu.Lock()
	e.discovering[pattern] = &discoverRequest{
		mask:        mask,
		policy:      policy,
		retriesLeft: e.params.retries,
		nextRetry:   time.Now().Add(e.params.retryInterval),
	}
	e.mu.Unlock()
	e.broadcastWhoHas([]string{pattern}, mask)
	return nil
}

// CancelFindAdvertisedName stops discovery for a previously requested
// pattern.
func (e *Engine) CancelFindAdvertisedName(pattern string) error {
	e.mu.Lock()
	delete(e.discovering, pattern)
	e.mu.Unlock()
	return nil
}

// Enable tells the engine which ports the transport in mask listens on
// and which protocol families are enabled. Transports
// listen on the any-address; the engine fills in each outgoing
// interface's own address at send time.
func (e *Engine) Enable(mask uint16, ports TransportPorts) error {
	if err := TransportMask(mask).RequireSingleBit(); err != nil {
		return err
	}
	e.mu.Lock()
	e.ports[mask] = ports
	e.mu.Unlock()
	return nil
}

// Suspend releases every live socket ahead of process suspend; the run
// loop's reconciliation is a no-op until Resume.
func (e *Engine) Suspend() { e.monitor.Suspend() }

// Resume re-arms interface reconciliation so the sockets released by
// Suspend are reopened on the next lazy-update cycle.
func (e *Engine) Resume() { e.monitor.Resume() }

// OpenInterface requests the transport in mask on the named interface
// ("*" for all), delegating to the interface monitor.
func (e *Engine) OpenInterface(mask uint16, ifaceName string) {
	e.monitor.Open(ifmonitor.InterfaceRequest{Name: ifaceName, TransportMask: mask})
}

// CloseInterface withdraws a previously opened interface request.
func (e *Engine) CloseInterface(mask uint16, ifaceName string) {
	e.monitor.Close(ifmonitor.InterfaceRequest{Name: ifaceName, TransportMask: mask})
}

func (e *Engine) sendTerminalBurst() {
	e.mu.Lock()
	byMask := make(map[uint16][]string)
	for name, adv := range e.advertised {
		byMask[adv.mask] = append(byMask[adv.mask], name)
	}
	e.mu.Unlock()
	for mask, names := range byMask {
		e.broadcastIsAt(names, mask, 0)
	}
}

// matchPattern tests a shell-style pattern (`*`, `?`, character classes)
// against a well-known name. A malformed pattern falls back to literal
// comparison rather than matching nothing.
func matchPattern(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}
