// Package nstransport implements the per-interface multicast sockets the
// name service sends WhoHas/IsAt datagrams over: one socket per
// (interface, address family), opened and closed by internal/ifmonitor
// as interfaces come and go, covering both the IPv4 and IPv6 multicast
// groups, with interface-index control messages and pooled receive
// buffers.
package nstransport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
	"github.com/alljoyn-go/coredaemon/internal/nsproto"
)

// Transport abstracts sending and receiving raw NS datagrams on
// whichever group/interface a MulticastSocket was opened against.
type Transport interface {
	Send(ctx context.Context, datagram []byte, dest net.Addr) error
	Receive(ctx context.Context) (datagram []byte, src net.Addr, ifIndex int, err error)
	Close() error
}

// MulticastSocket is one NS multicast socket bound to a single network
// interface and address family.
type MulticastSocket struct {
	family  string // "ip4" or "ip6"
	ifIndex int
	conn    net.PacketConn
	p4      *ipv4.PacketConn
	p6      *ipv6.PacketConn
	dest    *net.UDPAddr
}

// listenConfig binds with SO_REUSEADDR/SO_REUSEPORT (platform-gated, see
// sockopts_unix.go / sockopts_windows.go) so more than one live-interface
// binding can share the NS discovery port.
var listenConfig = net.ListenConfig{Control: controlWithSocketOptions}

// NewIPv4Multicast opens the 224.0.0.113:9956 multicast group on iface. The
// socket is bound to the wildcard address (rather than passed to
// net.ListenMulticastUDP, which accepts no Control hook) so SO_REUSEPORT can
// be set before the group join.
func NewIPv4Multicast(iface *net.Interface) (*MulticastSocket, error) {
	group := net.ParseIP(nsproto.MulticastAddrIPv4)
	addr := &net.UDPAddr{IP: group, Port: nsproto.Port}

	pc, err := listenConfig.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", nsproto.Port))
	if err != nil {
		return nil, &bderrors.NetworkError{
			Operation: "open ipv4 multicast socket",
			Err:       err,
			Details:   fmt.Sprintf("interface %s, group %s:%d", iface.Name, nsproto.MulticastAddrIPv4, nsproto.Port),
		}
	}
	conn := pc.(*net.UDPConn)

	p4 := ipv4.NewPacketConn(conn)
	if err := p4.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{Operation: "enable ipv4 control messages", Err: err}
	}
	if err := p4.JoinGroup(iface, addr); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{
			Operation: "join ipv4 multicast group",
			Err:       err,
			Details:   fmt.Sprintf("interface %s, group %s:%d", iface.Name, nsproto.MulticastAddrIPv4, nsproto.Port),
		}
	}
	if err := p4.SetMulticastInterface(iface); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{Operation: "set ipv4 multicast interface", Err: err}
	}

	return &MulticastSocket{
		family:  "ip4",
		ifIndex: iface.Index,
		conn:    conn,
		p4:      p4,
		dest:    addr,
	}, nil
}

// NewIPv6Multicast opens the [ff02::13a]:9956 multicast group on iface.
func NewIPv6Multicast(iface *net.Interface) (*MulticastSocket, error) {
	group := net.ParseIP(nsproto.MulticastAddrIPv6)
	addr := &net.UDPAddr{IP: group, Port: nsproto.Port, Zone: iface.Name}

	pc, err := listenConfig.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", nsproto.Port))
	if err != nil {
		return nil, &bderrors.NetworkError{
			Operation: "open ipv6 multicast socket",
			Err:       err,
			Details:   fmt.Sprintf("interface %s, group [%s]:%d", iface.Name, nsproto.MulticastAddrIPv6, nsproto.Port),
		}
	}
	conn := pc.(*net.UDPConn)

	p6 := ipv6.NewPacketConn(conn)
	if err := p6.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{Operation: "enable ipv6 control messages", Err: err}
	}
	if err := p6.JoinGroup(iface, addr); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{
			Operation: "join ipv6 multicast group",
			Err:       err,
			Details:   fmt.Sprintf("interface %s, group [%s]:%d", iface.Name, nsproto.MulticastAddrIPv6, nsproto.Port),
		}
	}
	if err := p6.SetMulticastInterface(iface); err != nil {
		_ = conn.Close()
		return nil, &bderrors.NetworkError{Operation: "set ipv6 multicast interface", Err: err}
	}

	return &MulticastSocket{
		family:  "ip6",
		ifIndex: iface.Index,
		conn:    conn,
		p6:      p6,
		dest:    addr,
	}, nil
}

// Send transmits a datagram to dest when dest is a non-nil *net.UDPAddr
// (a unicast answer or a subnet-directed broadcast address), and to the
// socket's own multicast group otherwise.
func (s *MulticastSocket) Send(ctx context.Context, datagram []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &bderrors.NetworkError{Operation: "send", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	target := s.dest
	if udpAddr, ok := dest.(*net.UDPAddr); ok && udpAddr != nil {
		target = udpAddr
	}

	n, err := s.conn.WriteTo(datagram, target)
	if err != nil {
		return &bderrors.NetworkError{Operation: "send", Err: err, Details: "interface " + strconv.Itoa(s.ifIndex)}
	}
	if n != len(datagram) {
		return &bderrors.NetworkError{Operation: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(datagram))}
	}
	return nil
}

// Receive waits for one incoming datagram, returning the interface index
// it arrived on from IP_PKTINFO/IPV6_PKTINFO control data.
func (s *MulticastSocket) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &bderrors.NetworkError{Operation: "receive", Err: ctx.Err(), Details: "context canceled before receive"}
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, 0, &bderrors.NetworkError{Operation: "set read deadline", Err: err}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buf := *bufPtr

	var n int
	var src net.Addr
	var ifIndex int
	var err error

	switch s.family {
	case "ip4":
		var cm *ipv4.ControlMessage
		n, cm, src, err = s.p4.ReadFrom(buf)
		if cm != nil {
			ifIndex = cm.IfIndex
		}
	case "ip6":
		var cm *ipv6.ControlMessage
		n, cm, src, err = s.p6.ReadFrom(buf)
		if cm != nil {
			ifIndex = cm.IfIndex
		}
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, 0, &bderrors.NetworkError{Operation: "receive", Err: err, Details: "timeout"}
		}
		return nil, nil, 0, &bderrors.NetworkError{Operation: "receive", Err: err}
	}
	if ifIndex == 0 {
		ifIndex = s.ifIndex
	}

	out := make([]byte, n)
	copy(out, buf[:n])
	return out, src, ifIndex, nil
}

// Close releases the underlying socket.
func (s *MulticastSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return &bderrors.NetworkError{Operation: "close socket", Err: err}
	}
	return nil
}
