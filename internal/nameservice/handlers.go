package nameservice

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/alljoyn-go/coredaemon/internal/ifmonitor"
	"github.com/alljoyn-go/coredaemon/internal/nsproto"
	"github.com/alljoyn-go/coredaemon/internal/nstransport"
)

// tick runs one iteration of the 1 Hz engine loop: it
// reconciles the interface set on its own lazy-update cadence, retires
// expired found names, and retransmits active advertisements/questions.
func (e *Engine) tick(now time.Time) {
	e.tickCount++

	if e.monitor.ShouldReconcile(now, false) {
		if err := e.monitor.Reconcile(now); err != nil {
			e.log.Warn("interface reconcile failed", "error", err)
		}
		if e.metrics != nil {
			e.metrics.IfmonitorLiveInterfaces.Set(uint64(len(e.monitor.LiveInterfaces())))
		}
	}

	e.expireFound(now)
	e.retryQuestions(now)

	e.mu.Lock()
	retransmit := e.params.retransmit
	modulus := e.params.questionModulus
	e.mu.Unlock()

	if now.Sub(e.lastRetx) >= retransmit {
		e.lastRetx = now
		e.retransmitAdvertisements()
	}
	if modulus > 0 && e.tickCount%modulus == 0 {
		e.probeSilentRemotes(now)
	}
}

func (e *Engine) retransmitAdvertisements() {
	e.mu.Lock()
	byMask := make(map[uint16][]string)
	for name, adv := range e.advertised {
		if adv.quietly {
			continue
		}
		byMask[adv.mask] = append(byMask[adv.mask], name)
	}
	ttl := uint8(e.params.duration / time.Second)
	e.mu.Unlock()
	for mask, names := range byMask {
		e.broadcastIsAt(names, mask, ttl)
		if e.metrics != nil {
			e.metrics.NameserviceRetransmitsTotal.Inc()
		}
	}
}

// retryQuestions ages the WhoHas retry list: each unanswered
// request is retransmitted once its deadline passes, RetryInterval apart,
// until its counter reaches zero or a matching answer satisfied it.
func (e *Engine) retryQuestions(now time.Time) {
	e.mu.Lock()
	byMask := make(map[uint16][]string)
	for pattern, req := range e.discovering {
		if req.retriesLeft <= 0 || req.satisfied || now.Before(req.nextRetry) {
			continue
		}
		req.retriesLeft--
		req.nextRetry = now.Add(e.params.retryInterval)
		byMask[req.mask] = append(byMask[req.mask], pattern)
	}
	e.mu.Unlock()
	for mask, patterns := range byMask {
		e.broadcastWhoHas(patterns, mask)
		if e.metrics != nil {
			e.metrics.NameserviceQuestionsTotal.Inc()
		}
	}
}

// probeSilentRemotes re-asks for names whose remote has been silent
// longer than the question window but has not yet expired, so a vanished
// remote is noticed well before its full TTL elapses.
func (e *Engine) probeSilentRemotes(now time.Time) {
	e.mu.Lock()
	byMask := make(map[uint16][]string)
	for key, entry := range e.found {
		expiry, ok := e.foundExpiry[key]
		if !ok {
			continue
		}
		lastHeard := expiry.Add(-entry.ttl)
		if now.Sub(lastHeard) >= e.params.question {
			byMask[entry.mask] = append(byMask[entry.mask], nameFromKey(key))
		}
	}
	e.mu.Unlock()
	for mask, names := range byMask {
		e.broadcastWhoHas(names, mask)
	}
}

// expireFound drops found entries whose TTL has elapsed and emits a Lost
// event for each, matching the semantics of a peer's own TTL=0 burst
// arriving too late or being lost in transit.
func (e *Engine) expireFound(now time.Time) {
	e.mu.Lock()
	var lost []DiscoveryEvent
	for key, expiry := range e.foundExpiry {
		if now.Before(expiry) {
			continue
		}
		entry := e.found[key]
		delete(e.found, key)
		delete(e.foundExpiry, key)
		if entry != nil {
			lost = append(lost, DiscoveryEvent{Kind: EventLost, Name: nameFromKey(key), TransportMask: entry.mask, BusAddress: entry.busAddress, GUID: entry.guid})
		}
	}
	e.mu.Unlock()
	for _, ev := range lost {
		e.emit(ev)
	}
}

func (e *Engine) handlePacket(pkt nstransport.Packet) {
	msg, err := nsproto.Decode(pkt.Datagram)
	if err != nil {
		e.log.Debug("dropping malformed NS datagram", "error", err, "interface", pkt.IfIndex)
		return
	}
	if e.metrics != nil {
		e.metrics.DatagramReceived()
	}
	for i := range msg.WhoHas {
		e.handleWhoHas(&msg.WhoHas[i], pkt.Src)
	}
	for i := range msg.IsAt {
		e.handleIsAt(&msg.IsAt[i])
	}
}

// handleWhoHas answers a discovery query when any advertised name —
// including those advertised quietly, which are answered on demand but
// never spontaneously emitted — matches one of the query's patterns. The
// answer carries the full advertised set for the queried transport and is
// addressed unicast back to the query source.
func (e *Engine) handleWhoHas(q *nsproto.WhoHas, src net.Addr) {
	e.mu.Lock()
	mask := q.TransportMask
	anyMatch := false
	var full []string
	for name, adv := range e.advertised {
		if adv.mask&mask == 0 {
			continue
		}
		full = append(full, name)
		for _, pattern := range q.Names {
			if matchPattern(pattern, name) {
				anyMatch = true
				break
			}
		}
	}
	ttl := uint8(e.params.duration / time.Second)
	e.mu.Unlock()
	if !anyMatch {
		return
	}
	e.sendIsAt(full, mask, ttl, src)
}

// handleIsAt reconciles an incoming answer against active discovery
// requests, emitting Found when a previously-unseen match appears and
// Lost when its TTL reaches zero.
func (e *Engine) handleIsAt(a *nsproto.IsAt) {
	e.mu.Lock()
	var toEmit []DiscoveryEvent
	for _, name := range a.Names {
		matched := false
		for pattern, req := range e.discovering {
			if req.mask&a.TransportMask == 0 || !matchPattern(pattern, name) {
				continue
			}
			matched = true
			switch req.policy {
			case RetryUntilPartial:
				req.satisfied = true
			case RetryUntilComplete:
				if a.Complete {
					req.satisfied = true
				}
			}
		}
		if !matched {
			continue
		}
		key := foundKey(name, a.GUID)
		if a.TTL == 0 {
			if entry, ok := e.found[key]; ok {
				delete(e.found, key)
				delete(e.foundExpiry, key)
				toEmit = append(toEmit, DiscoveryEvent{Kind: EventLost, Name: name, TransportMask: entry.mask, BusAddress: entry.busAddress, GUID: entry.guid})
			}
			continue
		}
		ttl := time.Duration(a.TTL) * time.Second
		addr := busAddress(a)
		_, alreadyFound := e.found[key]
		e.found[key] = &foundEntry{mask: a.TransportMask, busAddress: addr, guid: a.GUID, ttl: ttl}
		if a.TTL == nsproto.DurationInfinite {
			e.foundExpiry[key] = time.Now().Add(100 * 365 * 24 * time.Hour)
		} else {
			e.foundExpiry[key] = time.Now().Add(ttl)
		}
		if !alreadyFound {
			toEmit = append(toEmit, DiscoveryEvent{Kind: EventFound, Name: name, TransportMask: a.TransportMask, BusAddress: addr, GUID: a.GUID})
		}
	}
	e.mu.Unlock()
	for _, ev := range toEmit {
		e.emit(ev)
	}
}

func (e *Engine) emit(ev DiscoveryEvent) {
	if e.metrics != nil {
		if ev.Kind == EventFound {
			e.metrics.DiscoveredFound()
		} else {
			e.metrics.DiscoveredLost()
		}
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn("discovery event dropped, subscriber too slow", "name", ev.Name, "kind", ev.Kind.String())
	}
}

// busAddress renders an IsAt's first populated endpoint as a
// transport-prefixed bus address string, e.g. "tcp:addr=10.0.0.1,port=9955".
// Reliable endpoints map to tcp, unreliable to udp.
func busAddress(a *nsproto.IsAt) string {
	switch {
	case a.ReliableIPv4 != nil:
		return fmt.Sprintf("tcp:addr=%s,port=%d", a.ReliableIPv4.Addr, a.ReliableIPv4.Port)
	case a.ReliableIPv6 != nil:
		return fmt.Sprintf("tcp:addr=%s,port=%d", a.ReliableIPv6.Addr, a.ReliableIPv6.Port)
	case a.UnreliableIPv4 != nil:
		return fmt.Sprintf("udp:addr=%s,port=%d", a.UnreliableIPv4.Addr, a.UnreliableIPv4.Port)
	case a.UnreliableIPv6 != nil:
		return fmt.Sprintf("udp:addr=%s,port=%d", a.UnreliableIPv6.Addr, a.UnreliableIPv6.Port)
	default:
		return ""
	}
}

func foundKey(name string, g [16]byte) string {
	return name + "|" + string(g[:])
}

func nameFromKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i]
		}
	}
	return key
}

// broadcastIsAt encodes and sends an IsAt burst for names on every live
// interface whose transport mask overlaps mask.
func (e *Engine) broadcastIsAt(names []string, mask uint16, ttl uint8) {
	e.sendIsAt(names, mask, ttl, nil)
}

// sendIsAt composes an IsAt per matching live interface, rewriting the
// address fields to the outgoing interface's own address,
// and sends it to dest when set (a quiet unicast answer) or to the
// interface's multicast group otherwise.
func (e *Engine) sendIsAt(names []string, mask uint16, ttl uint8, dest net.Addr) {
	e.mu.Lock()
	ports, enabled := e.ports[mask]
	e.mu.Unlock()
	for _, live := range e.monitor.LiveInterfaces() {
		if live.TransportMask&mask == 0 {
			continue
		}
		isAt := nsproto.IsAt{TransportMask: mask, TTL: ttl, GUID: e.guid, Names: names, Complete: true}
		e.attachEndpoints(&isAt, live, ports, enabled)
		datagrams, err := nsproto.Encode(&nsproto.Message{Version: e.version, IsAt: []nsproto.IsAt{isAt}})
		if err != nil {
			e.log.Warn("failed to encode IsAt burst", "error", err)
			continue
		}
		e.sendAll(live, datagrams, dest)
	}
}

// broadcastWhoHas encodes and sends a WhoHas query for patterns on every
// live interface whose transport mask overlaps mask.
func (e *Engine) broadcastWhoHas(patterns []string, mask uint16) {
	for _, live := range e.monitor.LiveInterfaces() {
		if live.TransportMask&mask == 0 {
			continue
		}
		wh := nsproto.WhoHas{TransportMask: mask, IPv4: live.Entry.Address.To4() != nil, IPv6: live.Entry.Address.To4() == nil, Reliable: true, Names: patterns}
		datagrams, err := nsproto.Encode(&nsproto.Message{Version: e.version, WhoHas: []nsproto.WhoHas{wh}})
		if err != nil {
			e.log.Warn("failed to encode WhoHas query", "error", err)
			continue
		}
		e.sendAll(live, datagrams, nil)
	}
}

// attachEndpoints fills in the IsAt's per-family endpoint fields using the
// outgoing interface's own address and the ports the transport was
// Enabled with, so remote receivers see a reachable address.
// A transport never Enabled falls back to announcing the NS port itself
// on the interface's family.
func (e *Engine) attachEndpoints(isAt *nsproto.IsAt, live ifmonitor.LiveInterface, ports TransportPorts, enabled bool) {
	if !enabled {
		if ipv4 := live.Entry.Address.To4(); ipv4 != nil {
			isAt.ReliableIPv4 = &nsproto.Endpoint4{Addr: ipv4, Port: nsproto.Port}
		} else {
			isAt.ReliableIPv6 = &nsproto.Endpoint6{Addr: live.Entry.Address, Port: nsproto.Port}
		}
		return
	}
	if ipv4 := live.Entry.Address.To4(); ipv4 != nil && ports.EnableIPv4 {
		if ports.ReliableIPv4 != 0 {
			isAt.ReliableIPv4 = &nsproto.Endpoint4{Addr: ipv4, Port: ports.ReliableIPv4}
		}
		if ports.UnreliableIPv4 != 0 {
			isAt.UnreliableIPv4 = &nsproto.Endpoint4{Addr: ipv4, Port: ports.UnreliableIPv4}
		}
	} else if live.Entry.Address.To4() == nil && ports.EnableIPv6 {
		if ports.ReliableIPv6 != 0 {
			isAt.ReliableIPv6 = &nsproto.Endpoint6{Addr: live.Entry.Address, Port: ports.ReliableIPv6}
		}
		if ports.UnreliableIPv6 != 0 {
			isAt.UnreliableIPv6 = &nsproto.Endpoint6{Addr: live.Entry.Address, Port: ports.UnreliableIPv6}
		}
	}
}

// sendAll transmits datagrams out one live interface: to dest when set,
// otherwise to the multicast group plus the optional subnet-directed
// broadcast address. With loopback enabled the engine also hands each
// datagram straight back to its own receive path (the loopback hook).
func (e *Engine) sendAll(live ifmonitor.LiveInterface, datagrams [][]byte, dest net.Addr) {
	s, ok := live.Socket.(sender)
	if !ok {
		return
	}
	targets := []net.Addr{dest}
	if dest == nil {
		targets = []net.Addr{multicastDest(live.Entry.Address.To4() != nil)}
		if e.directedBroadcast {
			if bcast := live.Entry.BroadcastAddr(); bcast != nil {
				targets = append(targets, &net.UDPAddr{IP: bcast, Port: nsproto.Port})
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, d := range datagrams {
		for _, target := range targets {
			if err := s.Send(ctx, d, target); err != nil {
				e.log.Debug("send failed", "error", err, "interface", live.Entry.Name)
				continue
			}
			if e.metrics != nil {
				e.metrics.DatagramSent()
			}
		}
		if e.loopback {
			e.handlePacket(nstransport.Packet{Datagram: d, Src: loopbackSrc(live), IfIndex: live.Entry.Index, Mask: live.TransportMask})
		}
	}
}

func loopbackSrc(live ifmonitor.LiveInterface) net.Addr {
	return &net.UDPAddr{IP: live.Entry.Address, Port: nsproto.Port}
}

func multicastDest(v4 bool) net.Addr {
	if v4 {
		return &net.UDPAddr{IP: net.ParseIP(nsproto.MulticastAddrIPv4), Port: nsproto.Port}
	}
	return &net.UDPAddr{IP: net.ParseIP(nsproto.MulticastAddrIPv6), Port: nsproto.Port}
}
