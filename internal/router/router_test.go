package router

import (
	"testing"

	"github.com/alljoyn-go/coredaemon/internal/rule"
)

func TestRegistry_DuplicateRegisterIsRejected(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Register(":1.1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Register(":1.1"); err == nil {
		t.Fatal("expected error registering duplicate endpoint name")
	}
}

func TestDispatch_ExplicitDestination(t *testing.T) {
	reg := NewRegistry()
	table := rule.NewTable()
	dest, _ := reg.Register(":1.2")
	other, _ := reg.Register(":1.3")
	_ = other
	rt := New(reg, table)

	n, err := rt.Dispatch(rule.Message{Destination: ":1.2"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	select {
	case <-dest.Outbound():
	default:
		t.Error("expected message queued on destination endpoint")
	}
}

func TestDispatch_ExplicitDestination_UnknownNameErrors(t *testing.T) {
	rt := New(NewRegistry(), rule.NewTable())
	if _, err := rt.Dispatch(rule.Message{Destination: ":1.99"}); err == nil {
		t.Fatal("expected error dispatching to an unregistered destination")
	}
}

// TestDispatch_RuleFanOut validates rule fan-out: with no explicit
// destination, every endpoint with a matching rule receives the message.
func TestDispatch_RuleFanOut(t *testing.T) {
	reg := NewRegistry()
	table := rule.NewTable()
	a, _ := reg.Register(":1.1")
	b, _ := reg.Register(":1.2")
	ra, _ := rule.Parse("interface='org.example.Iface'")
	rb, _ := rule.Parse("interface='org.example.Other'")
	table.AddRule(a, ra)
	table.AddRule(b, rb)

	rt := New(reg, table)
	n, err := rt.Dispatch(rule.Message{Interface: "org.example.Iface"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	select {
	case <-a.Outbound():
	default:
		t.Error("expected message delivered to endpoint a")
	}
	select {
	case <-b.Outbound():
		t.Error("did not expect message delivered to endpoint b")
	default:
	}
}

// TestDispatch_FanOutSkipsSender validates that a message is never
// fanned back to its own sender even when the sender's rules match it.
func TestDispatch_FanOutSkipsSender(t *testing.T) {
	reg := NewRegistry()
	table := rule.NewTable()
	a, _ := reg.Register(":1.1")
	b, _ := reg.Register(":1.2")
	r, _ := rule.Parse("interface='org.example.Iface'")
	table.AddRule(a, r)
	table.AddRule(b, r)

	rt := New(reg, table)
	n, err := rt.Dispatch(rule.Message{Sender: ":1.1", Interface: "org.example.Iface"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	select {
	case <-a.Outbound():
		t.Error("did not expect message delivered back to its sender")
	default:
	}
	select {
	case <-b.Outbound():
	default:
		t.Error("expected message delivered to the non-sender endpoint")
	}
}

type fakeSessionlessStore struct {
	pushed []rule.Message
}

func (s *fakeSessionlessStore) Push(msg rule.Message) { s.pushed = append(s.pushed, msg) }

// TestDispatch_SessionlessMessagesReachStore validates the sessionless
// store hand-off: sessionless messages are copied to the store in
// addition to normal rule fan-out.
func TestDispatch_SessionlessMessagesReachStore(t *testing.T) {
	store := &fakeSessionlessStore{}
	rt := New(NewRegistry(), rule.NewTable()).WithSessionlessStore(store)

	if _, err := rt.Dispatch(rule.Message{IsSessionless: true, Member: "Announce"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := rt.Dispatch(rule.Message{Member: "NotSessionless"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(store.pushed) != 1 || store.pushed[0].Member != "Announce" {
		t.Fatalf("sessionless store received %v, want exactly the Announce message", store.pushed)
	}
}

// TestDispatch_FullQueueCountsAsDropped validates the non-blocking
// flow-control behavior: a full outbound queue drops the message instead
// of blocking the router.
func TestDispatch_FullQueueCountsAsDropped(t *testing.T) {
	reg := NewRegistry()
	table := rule.NewTable()
	ep, _ := reg.Register(":1.1")
	r, _ := rule.Parse("member='Tick'")
	table.AddRule(ep, r)
	rt := New(reg, table)

	for i := 0; i < outboundQueueDepth; i++ {
		if _, err := rt.Dispatch(rule.Message{Member: "Tick"}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	if _, err := rt.Dispatch(rule.Message{Member: "Tick"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := rt.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}
