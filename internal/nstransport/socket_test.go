package nstransport

import (
	"net"
	"testing"
)

func loopbackInterface(t *testing.T) *net.Interface {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("cannot list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 && iface.Flags&net.FlagMulticast != 0 {
			return &iface
		}
	}
	t.Skip("no multicast-capable loopback interface available")
	return nil
}

// TestNewIPv4Multicast_BindsLoopback exercises the socket-open path on
// whatever multicast-capable loopback interface the test host provides.
// Environments without one (or without permission to join) skip instead
// of failing.
func TestNewIPv4Multicast_BindsLoopback(t *testing.T) {
	iface := loopbackInterface(t)
	sock, err := NewIPv4Multicast(iface)
	if err != nil {
		t.Skipf("multicast join not permitted in this environment: %v", err)
	}
	defer func() { _ = sock.Close() }()

	if sock.family != "ip4" {
		t.Errorf("family = %q, want ip4", sock.family)
	}
	if sock.ifIndex != iface.Index {
		t.Errorf("ifIndex = %d, want %d", sock.ifIndex, iface.Index)
	}
}

// TestNewIPv4Multicast_InvalidInterface validates that a nil control-path
// failure surfaces as a NetworkError, not a panic.
func TestNewIPv4Multicast_InvalidInterface(t *testing.T) {
	bogus := &net.Interface{Name: "nonexistent0", Index: 999999}
	_, err := NewIPv4Multicast(bogus)
	if err == nil {
		t.Fatal("expected error opening multicast socket on nonexistent interface")
	}
}
