// Package nameservice implements the discovery engine: the state
// machine, timers, and WhoHas/IsAt handling that turn the wire codec
// (internal/nsproto) and the interface monitor (internal/ifmonitor) into
// name advertisement and discovery. All engine state is owned by a
// single run goroutine; public methods only touch it under the engine
// mutex.
package nameservice

import (
	"fmt"
	"time"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
	"github.com/alljoyn-go/coredaemon/internal/guid"
)

// TransportMask identifies one or more transports a name is advertised or
// discovered over. Most operations here require exactly one bit set.
type TransportMask uint16

// PopCount returns the number of set bits.
func (m TransportMask) PopCount() int {
	n := 0
	for v := uint16(m); v != 0; v &= v - 1 {
		n++
	}
	return n
}

// RequireSingleBit reports an error unless exactly one transport bit is
// set, matching the wire protocol's single-transport-per-record rule.
func (m TransportMask) RequireSingleBit() error {
	if m.PopCount() != 1 {
		return &bderrors.ValidationError{Field: "transport_mask", Value: fmt.Sprintf("%#x", uint16(m)), Message: fmt.Sprintf("expected exactly one bit set, got %d", m.PopCount())}
	}
	return nil
}

// State is the engine lifecycle state.
type State int32

const (
	StateInvalid State = iota
	StateInitializing
	StateRunning
	StateStopping
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// EventKind distinguishes a name coming into view from going out of it.
type EventKind int

const (
	EventFound EventKind = iota
	EventLost
)

func (k EventKind) String() string {
	if k == EventFound {
		return "found"
	}
	return "lost"
}

// DiscoveryEvent is delivered to subscribers over a channel rather than
// invoked as a callback under the engine lock, so a slow subscriber can
// never deadlock the engine.
type DiscoveryEvent struct {
	Kind          EventKind
	Name          string
	TransportMask uint16
	BusAddress    string
	GUID          guid.GUID128
}

type advertisement struct {
	mask    uint16
	quietly bool
}

// LocatePolicy chooses when a FindAdvertisedName's WhoHas retransmission
// stops in response to observed IsAt answers.
type LocatePolicy int

const (
	// AlwaysRetry ignores answers for retry purposes: every retry fires
	// regardless of what has already been heard.
	AlwaysRetry LocatePolicy = iota
	// RetryUntilPartial stops retrying once any one matching name has
	// been heard.
	RetryUntilPartial
	// RetryUntilComplete stops retrying once a matching IsAt arrives that
	// carries the Complete flag; matching answers without the flag do not
	// stop it.
	RetryUntilComplete
)

func (p LocatePolicy) String() string {
	switch p {
	case RetryUntilPartial:
		return "RETRY_UNTIL_PARTIAL"
	case RetryUntilComplete:
		return "RETRY_UNTIL_COMPLETE"
	default:
		return "ALWAYS_RETRY"
	}
}

// TransportPorts records which ports a transport listens on and which
// protocol families are enabled. A port of 0 means "not
// listening" on that (family, reliability) tuple; the enable bits gate
// whether advertisements carry a family even when its port is set.
type TransportPorts struct {
	ReliableIPv4   uint16
	ReliableIPv6   uint16
	UnreliableIPv4 uint16
	UnreliableIPv6 uint16
	EnableIPv4     bool
	EnableIPv6     bool
}

type discoverRequest struct {
	mask        uint16
	policy      LocatePolicy
	retriesLeft int
	nextRetry   time.Time
	satisfied   bool
}

type foundEntry struct {
	mask       uint16
	busAddress string
	guid       guid.GUID128
	ttl        time.Duration
}
