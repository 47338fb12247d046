package nstransport

import (
	"context"
	"net"

	"github.com/alljoyn-go/coredaemon/internal/ifmonitor"
)

// Packet is one received NS datagram handed to the name service engine,
// tagged with enough metadata (source, arrival interface, transport mask)
// to drive the found/lost logic.
type Packet struct {
	Datagram []byte
	Src      net.Addr
	IfIndex  int
	Mask     uint16
}

// Listener is a live multicast socket plus the goroutine pumping its
// received datagrams onto a shared channel. It implements ifmonitor.Socket
// so internal/ifmonitor can close it uniformly with every other transport.
type Listener struct {
	sock   *MulticastSocket
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOpener returns an ifmonitor.SocketOpener that opens an IPv4 or IPv6
// multicast socket (matching entry.Address's family) on the reconciled
// interface and starts forwarding received datagrams to out.
func NewOpener(out chan<- Packet) ifmonitor.SocketOpener {
	return func(entry ifmonitor.IfConfigEntry, mask uint16) (ifmonitor.Socket, error) {
		iface, err := net.InterfaceByIndex(entry.Index)
		if err != nil {
			return nil, err
		}

		var sock *MulticastSocket
		if entry.Address.To4() != nil {
			sock, err = NewIPv4Multicast(iface)
		} else {
			sock, err = NewIPv6Multicast(iface)
		}
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithCancel(context.Background())
		l := &Listener{sock: sock, cancel: cancel, done: make(chan struct{})}
		go l.pump(ctx, out, mask)
		return l, nil
	}
}

func (l *Listener) pump(ctx context.Context, out chan<- Packet, mask uint16) {
	defer close(l.done)
	for {
		datagram, src, ifIndex, err := l.sock.Receive(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		select {
		case out <- Packet{Datagram: datagram, Src: src, IfIndex: ifIndex, Mask: mask}:
		case <-ctx.Done():
			return
		}
	}
}

// Send transmits a datagram on this listener's socket, so callers holding
// an ifmonitor.LiveInterface can send without reaching into nstransport
// internals beyond the Listener they were handed by NewOpener.
func (l *Listener) Send(ctx context.Context, datagram []byte, dest net.Addr) error {
	return l.sock.Send(ctx, datagram, dest)
}

// Close stops the receive goroutine and closes the underlying socket.
func (l *Listener) Close() error {
	l.cancel()
	<-l.done
	return l.sock.Close()
}
