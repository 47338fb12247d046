package ifmonitor

import (
	"net"
	"testing"
	"time"
)

type fakeSocket struct {
	closed bool
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

func fakeLister(entries []IfConfigEntry) func() ([]IfConfigEntry, error) {
	return func() ([]IfConfigEntry, error) { return entries, nil }
}

func upEntry(name string, addr net.IP) IfConfigEntry {
	return IfConfigEntry{Name: name, Address: addr, Flags: net.FlagUp}
}

// TestReconcile_OpensSocketForMatchingUpInterface validates the core
// reconciliation rule: a request naming an up interface gets a socket.
func TestReconcile_OpensSocketForMatchingUpInterface(t *testing.T) {
	var opened []string
	opener := func(entry IfConfigEntry, mask uint16) (Socket, error) {
		opened = append(opened, entry.Name)
		return &fakeSocket{}, nil
	}
	m := NewMonitor(opener)
	m.lister = fakeLister([]IfConfigEntry{upEntry("eth0", net.IPv4(192, 168, 1, 2))})
	m.Open(InterfaceRequest{Name: "eth0", TransportMask: 1})

	if err := m.Reconcile(time.Now()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(opened) != 1 || opened[0] != "eth0" {
		t.Fatalf("expected socket opened for eth0, got %v", opened)
	}
	if len(m.LiveInterfaces()) != 1 {
		t.Fatalf("expected 1 live interface, got %d", len(m.LiveInterfaces()))
	}
}

// TestReconcile_ClosesSocketWhenInterfaceGoesDown validates that a live
// socket is closed once its interface no longer appears up.
func TestReconcile_ClosesSocketWhenInterfaceGoesDown(t *testing.T) {
	var sock *fakeSocket
	opener := func(entry IfConfigEntry, mask uint16) (Socket, error) {
		sock = &fakeSocket{}
		return sock, nil
	}
	m := NewMonitor(opener)
	entries := []IfConfigEntry{upEntry("eth0", net.IPv4(192, 168, 1, 2))}
	m.lister = fakeLister(entries)
	m.Open(InterfaceRequest{Name: "eth0", TransportMask: 1})
	if err := m.Reconcile(time.Now()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if sock == nil || sock.closed {
		t.Fatalf("expected socket open after first reconcile")
	}

	m.lister = fakeLister(nil) // interface disappeared
	if err := m.Reconcile(time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !sock.closed {
		t.Error("expected socket closed once interface went away")
	}
	if len(m.LiveInterfaces()) != 0 {
		t.Errorf("expected 0 live interfaces, got %d", len(m.LiveInterfaces()))
	}
}

// TestReconcile_CloseRequestReleasesSocket validates that removing a
// request (not just losing the interface) also tears down its socket.
func TestReconcile_CloseRequestReleasesSocket(t *testing.T) {
	var sock *fakeSocket
	opener := func(entry IfConfigEntry, mask uint16) (Socket, error) {
		sock = &fakeSocket{}
		return sock, nil
	}
	m := NewMonitor(opener)
	m.lister = fakeLister([]IfConfigEntry{upEntry("eth0", net.IPv4(192, 168, 1, 2))})
	req := InterfaceRequest{Name: "eth0", TransportMask: 1}
	m.Open(req)
	_ = m.Reconcile(time.Now())

	m.Close(req)
	_ = m.Reconcile(time.Now().Add(time.Minute))
	if sock == nil || !sock.closed {
		t.Error("expected socket closed after Close()")
	}
}

// TestShouldReconcile_RespectsLazyUpdateWindow validates the 5-15s lazy
// update bound: no reconcile before the
// minimum, reconcile once dirty and past the minimum, unconditional past
// the max.
func TestShouldReconcile_RespectsLazyUpdateWindow(t *testing.T) {
	m := NewMonitor(func(IfConfigEntry, uint16) (Socket, error) { return &fakeSocket{}, nil })
	m.lister = fakeLister(nil)
	base := time.Now()
	_ = m.Reconcile(base)

	if m.ShouldReconcile(base.Add(2*time.Second), false) {
		t.Error("expected no reconcile before LazyUpdateMin elapses")
	}

	m.Open(InterfaceRequest{Name: "eth0", TransportMask: 1})
	if !m.ShouldReconcile(base.Add(6*time.Second), false) {
		t.Error("expected reconcile once dirty and past LazyUpdateMin")
	}

	m2 := NewMonitor(func(IfConfigEntry, uint16) (Socket, error) { return &fakeSocket{}, nil })
	m2.lister = fakeLister(nil)
	_ = m2.Reconcile(base)
	if !m2.ShouldReconcile(base.Add(20*time.Second), false) {
		t.Error("expected reconcile past LazyUpdateMax even when not dirty")
	}
}

// TestSuspendResume_ReleasesAndReopensSockets validates process-suspend
// handling: Suspend tears every socket down; Resume marks the monitor
// dirty so the next Reconcile reopens whatever is still wanted.
func TestSuspendResume_ReleasesAndReopensSockets(t *testing.T) {
	m := NewMonitor(func(IfConfigEntry, uint16) (Socket, error) { return &fakeSocket{}, nil })
	m.lister = fakeLister([]IfConfigEntry{upEntry("eth0", net.IPv4(192, 168, 1, 2))})
	m.Open(InterfaceRequest{Name: "eth0", TransportMask: 1})
	_ = m.Reconcile(time.Now())
	if len(m.LiveInterfaces()) != 1 {
		t.Fatalf("expected 1 live interface before suspend")
	}

	m.Suspend()
	if len(m.LiveInterfaces()) != 0 {
		t.Errorf("expected 0 live interfaces after Suspend, got %d", len(m.LiveInterfaces()))
	}
	if err := m.Reconcile(time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(m.LiveInterfaces()) != 0 {
		t.Error("expected Reconcile to be a no-op while suspended")
	}

	m.Resume()
	if err := m.Reconcile(time.Now().Add(2 * time.Minute)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(m.LiveInterfaces()) != 1 {
		t.Errorf("expected socket reopened after Resume, got %d live", len(m.LiveInterfaces()))
	}
}

// TestReconcile_WildcardRequestOpensEveryUpInterface validates the "*"
// request form used by the busconfig ip_name_service.interfaces="*"
// default: one request yields a socket per up interface.
func TestReconcile_WildcardRequestOpensEveryUpInterface(t *testing.T) {
	var opened []string
	opener := func(entry IfConfigEntry, mask uint16) (Socket, error) {
		opened = append(opened, entry.Name)
		return &fakeSocket{}, nil
	}
	m := NewMonitor(opener)
	m.lister = fakeLister([]IfConfigEntry{
		upEntry("eth0", net.IPv4(192, 168, 1, 2)),
		upEntry("wlan0", net.IPv4(10, 0, 0, 2)),
		{Name: "eth1", Address: net.IPv4(172, 16, 0, 2)}, // down: no socket
	})
	m.Open(InterfaceRequest{Name: "*", TransportMask: 1})

	if err := m.Reconcile(time.Now()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(opened) != 2 {
		t.Fatalf("expected sockets for the 2 up interfaces, got %v", opened)
	}
}

// TestCreateVirtual_DuplicateNameRejected validates the virtual-interface
// creation path used when the host stack hides a soft-AP.
func TestCreateVirtual_DuplicateNameRejected(t *testing.T) {
	m := NewMonitor(func(IfConfigEntry, uint16) (Socket, error) { return &fakeSocket{}, nil })
	entry := IfConfigEntry{Name: "wlan-ap0", Address: net.IPv4(10, 1, 1, 1), Flags: net.FlagUp}
	if err := m.CreateVirtual(entry); err != nil {
		t.Fatalf("CreateVirtual() error = %v", err)
	}
	if err := m.CreateVirtual(entry); err == nil {
		t.Error("expected error creating duplicate virtual interface")
	}
}
