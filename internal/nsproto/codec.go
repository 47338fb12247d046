package nsproto

import (
	"encoding/binary"
	"net"
	"unicode/utf8"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
)

// Encode serialises msg into one or more datagrams no larger than
// MaxMessageSize. Most calls need only one datagram; Encode returns a
// slice so a large advertised-name set can be split across several
// without the caller needing to know the splitting threshold up front.
func Encode(msg *Message) ([][]byte, error) {
	// Fast path: try to fit everything in one datagram.
	if buf, ok := tryEncodeAll(msg); ok {
		return [][]byte{buf}, nil
	}
	return splitAndEncode(msg)
}

func tryEncodeAll(msg *Message) ([]byte, bool) {
	buf, err := encodeMessage(msg.Version, msg.WhoHas, msg.IsAt)
	if err != nil || len(buf) > MaxMessageSize {
		return nil, false
	}
	return buf, true
}

// splitAndEncode spreads IsAt names across multiple datagrams when a
// single IsAt record (the common case for a name-heavy advertisement)
// would otherwise exceed MaxMessageSize. WhoHas questions are assumed to
// already fit (callers issue one pattern at a time in practice); if they
// don't, they are split the same way.
func splitAndEncode(msg *Message) ([][]byte, error) {
	var out [][]byte

	for _, wh := range msg.WhoHas {
		chunks := splitNames(wh.Names, func(names []string) (int, error) {
			w := wh
			w.Names = names
			b, err := encodeMessage(msg.Version, []WhoHas{w}, nil)
			return len(b), err
		})
		for _, names := range chunks {
			w := wh
			w.Names = names
			b, err := encodeMessage(msg.Version, []WhoHas{w}, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}

	for _, ia := range msg.IsAt {
		chunks := splitNames(ia.Names, func(names []string) (int, error) {
			a := ia
			a.Names = names
			b, err := encodeMessage(msg.Version, nil, []IsAt{a})
			return len(b), err
		})
		for _, names := range chunks {
			a := ia
			a.Names = names
			b, err := encodeMessage(msg.Version, nil, []IsAt{a})
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}

	if len(out) == 0 {
		// No questions or answers at all: encode the (empty) header alone.
		b, err := encodeMessage(msg.Version, msg.WhoHas, msg.IsAt)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// splitNames greedily packs names into the fewest chunks such that
// sizeFn(chunk) <= MaxMessageSize, assuming names are added one at a time.
func splitNames(names []string, sizeFn func([]string) (int, error)) [][]string {
	var chunks [][]string
	var current []string
	for _, n := range names {
		trial := append(append([]string{}, current...), n)
		size, err := sizeFn(trial)
		if err == nil && size <= MaxMessageSize {
			current = trial
			continue
		}
		if len(current) > 0 {
			chunks = append(chunks, current)
		}
		current = []string{n}
	}
	if len(current) > 0 || len(chunks) == 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func encodeMessage(v Version, whoHas []WhoHas, isAt []IsAt) ([]byte, error) {
	if len(whoHas) > 0xff || len(isAt) > 0xff {
		return nil, &bderrors.ValidationError{Field: "record_count", Value: "", Message: "too many records for one message"}
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, v.byte())
	buf = append(buf, 0) // reserved flags byte, ignored by decoders
	buf = append(buf, byte(len(whoHas)))
	buf = append(buf, byte(len(isAt)))

	for i := range whoHas {
		b, err := encodeWhoHas(&whoHas[i])
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	for i := range isAt {
		b, err := encodeIsAt(v, &isAt[i])
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func encodeWhoHas(w *WhoHas) ([]byte, error) {
	buf := make([]byte, 0, 16)
	var maskBuf [2]byte
	binary.LittleEndian.PutUint16(maskBuf[:], w.TransportMask)
	buf = append(buf, maskBuf[:]...)
	buf = append(buf, byte(w.flags()))
	names, err := encodeNames(w.Names)
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(len(w.Names)))
	buf = append(buf, names...)
	return buf, nil
}

func encodeIsAt(v Version, a *IsAt) ([]byte, error) {
	buf := make([]byte, 0, 32)
	var maskBuf [2]byte
	binary.LittleEndian.PutUint16(maskBuf[:], a.TransportMask)
	buf = append(buf, maskBuf[:]...)
	buf = append(buf, byte(a.flags()))
	buf = append(buf, a.TTL)
	buf = append(buf, a.GUID[:]...)

	if v.Major == 0 {
		buf = append(buf, encodeEndpoint4Fixed(a.ReliableIPv4)...)
		buf = append(buf, encodeEndpoint6Fixed(a.ReliableIPv6)...)
		buf = append(buf, encodeEndpoint4Fixed(a.UnreliableIPv4)...)
		buf = append(buf, encodeEndpoint6Fixed(a.UnreliableIPv6)...)
	} else {
		if a.ReliableIPv4 != nil {
			buf = append(buf, encodeEndpoint4Fixed(a.ReliableIPv4)...)
		}
		if a.ReliableIPv6 != nil {
			buf = append(buf, encodeEndpoint6Fixed(a.ReliableIPv6)...)
		}
		if a.UnreliableIPv4 != nil {
			buf = append(buf, encodeEndpoint4Fixed(a.UnreliableIPv4)...)
		}
		if a.UnreliableIPv6 != nil {
			buf = append(buf, encodeEndpoint6Fixed(a.UnreliableIPv6)...)
		}
	}

	names, err := encodeNames(a.Names)
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(len(a.Names)))
	buf = append(buf, names...)
	return buf, nil
}

func encodeEndpoint4Fixed(e *Endpoint4) []byte {
	out := make([]byte, 6)
	if e != nil {
		ip4 := e.Addr.To4()
		if ip4 != nil {
			copy(out[0:4], ip4)
		}
		binary.LittleEndian.PutUint16(out[4:6], e.Port)
	}
	return out
}

func encodeEndpoint6Fixed(e *Endpoint6) []byte {
	out := make([]byte, 18)
	if e != nil {
		ip6 := e.Addr.To16()
		if ip6 != nil {
			copy(out[0:16], ip6)
		}
		binary.LittleEndian.PutUint16(out[16:18], e.Port)
	}
	return out
}

func encodeNames(names []string) ([]byte, error) {
	if len(names) > 0xff {
		return nil, &bderrors.ValidationError{Field: "name_count", Value: "", Message: "too many names for one record"}
	}
	var buf []byte
	for _, n := range names {
		if !utf8.ValidString(n) {
			return nil, &bderrors.WireFormatError{Operation: "encode name", Details: "not valid UTF-8"}
		}
		if len(n) > MaxNameLength {
			return nil, &bderrors.ValidationError{Field: "name", Value: n, Message: "exceeds 255-byte maximum"}
		}
		buf = append(buf, byte(len(n)))
		buf = append(buf, []byte(n)...)
	}
	return buf, nil
}

// Decode parses a single NS datagram. Unknown major versions cause the
// datagram to be reported as a WireFormatError so the caller can log and
// drop it without crashing.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, &bderrors.WireFormatError{Operation: "decode header", Details: "message too short"}
	}
	v := versionFromByte(data[0])
	if v.Major != 0 && v.Major != 1 {
		return nil, &bderrors.WireFormatError{Operation: "decode header", Details: "unsupported major version"}
	}
	// data[1] is reserved; its bits are ignored for forward compatibility.
	qCount := int(data[2])
	aCount := int(data[3])
	off := 4

	msg := &Message{Version: v}
	for i := 0; i < qCount; i++ {
		wh, next, err := decodeWhoHas(data, off)
		if err != nil {
			return nil, err
		}
		msg.WhoHas = append(msg.WhoHas, *wh)
		off = next
	}
	for i := 0; i < aCount; i++ {
		ia, next, err := decodeIsAt(v, data, off)
		if err != nil {
			return nil, err
		}
		msg.IsAt = append(msg.IsAt, *ia)
		off = next
	}
	return msg, nil
}

func decodeWhoHas(data []byte, off int) (*WhoHas, int, error) {
	if off+3 > len(data) {
		return nil, 0, &bderrors.WireFormatError{Operation: "decode WhoHas", Details: "truncated header"}
	}
	mask := binary.LittleEndian.Uint16(data[off : off+2])
	flags := WhoHasFlags(data[off+2])
	off += 3
	if off+1 > len(data) {
		return nil, 0, &bderrors.WireFormatError{Operation: "decode WhoHas", Details: "truncated name count"}
	}
	count := int(data[off])
	off++
	names, next, err := decodeNames(data, off, count)
	if err != nil {
		return nil, 0, err
	}
	return &WhoHas{
		TransportMask: mask,
		IPv4:          flags&WhoHasIPv4 != 0,
		IPv6:          flags&WhoHasIPv6 != 0,
		Reliable:      flags&WhoHasReliable != 0,
		Unreliable:    flags&WhoHasUnreliable != 0,
		Names:         names,
	}, next, nil
}

func decodeIsAt(v Version, data []byte, off int) (*IsAt, int, error) {
	const fixedHeader = 2 + 1 + 1 + 16 // mask + flags + ttl + guid
	if off+fixedHeader > len(data) {
		return nil, 0, &bderrors.WireFormatError{Operation: "decode IsAt", Details: "truncated header"}
	}
	mask := binary.LittleEndian.Uint16(data[off : off+2])
	flags := IsAtFlags(data[off+2])
	ttl := data[off+3]
	var g [16]byte
	copy(g[:], data[off+4:off+20])
	off += fixedHeader

	a := &IsAt{
		TransportMask: mask,
		Complete:      flags&IsAtComplete != 0,
		TTL:           ttl,
		GUID:          g,
	}

	readEP4 := func() (*Endpoint4, error) {
		if off+6 > len(data) {
			return nil, &bderrors.WireFormatError{Operation: "decode IsAt", Details: "truncated ipv4 endpoint"}
		}
		ep := &Endpoint4{Addr: net.IPv4(data[off], data[off+1], data[off+2], data[off+3]), Port: binary.LittleEndian.Uint16(data[off+4 : off+6])}
		off += 6
		return ep, nil
	}
	readEP6 := func() (*Endpoint6, error) {
		if off+18 > len(data) {
			return nil, &bderrors.WireFormatError{Operation: "decode IsAt", Details: "truncated ipv6 endpoint"}
		}
		addr := make(net.IP, 16)
		copy(addr, data[off:off+16])
		ep := &Endpoint6{Addr: addr, Port: binary.LittleEndian.Uint16(data[off+16 : off+18])}
		off += 18
		return ep, nil
	}

	if v.Major == 0 {
		ep4, err := readEP4()
		if err != nil {
			return nil, 0, err
		}
		if flags&IsAtHasReliableIPv4 != 0 {
			a.ReliableIPv4 = ep4
		}
		ep6, err := readEP6()
		if err != nil {
			return nil, 0, err
		}
		if flags&IsAtHasReliableIPv6 != 0 {
			a.ReliableIPv6 = ep6
		}
		ep4u, err := readEP4()
		if err != nil {
			return nil, 0, err
		}
		if flags&IsAtHasUnreliableIPv4 != 0 {
			a.UnreliableIPv4 = ep4u
		}
		ep6u, err := readEP6()
		if err != nil {
			return nil, 0, err
		}
		if flags&IsAtHasUnreliableIPv6 != 0 {
			a.UnreliableIPv6 = ep6u
		}
	} else {
		if flags&IsAtHasReliableIPv4 != 0 {
			ep, err := readEP4()
			if err != nil {
				return nil, 0, err
			}
			a.ReliableIPv4 = ep
		}
		if flags&IsAtHasReliableIPv6 != 0 {
			ep, err := readEP6()
			if err != nil {
				return nil, 0, err
			}
			a.ReliableIPv6 = ep
		}
		if flags&IsAtHasUnreliableIPv4 != 0 {
			ep, err := readEP4()
			if err != nil {
				return nil, 0, err
			}
			a.UnreliableIPv4 = ep
		}
		if flags&IsAtHasUnreliableIPv6 != 0 {
			ep, err := readEP6()
			if err != nil {
				return nil, 0, err
			}
			a.UnreliableIPv6 = ep
		}
	}

	if off+1 > len(data) {
		return nil, 0, &bderrors.WireFormatError{Operation: "decode IsAt", Details: "truncated name count"}
	}
	count := int(data[off])
	off++
	names, next, err := decodeNames(data, off, count)
	if err != nil {
		return nil, 0, err
	}
	a.Names = names
	return a, next, nil
}

func decodeNames(data []byte, off int, count int) ([]string, int, error) {
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if off+1 > len(data) {
			return nil, 0, &bderrors.WireFormatError{Operation: "decode name", Details: "truncated length prefix"}
		}
		length := int(data[off])
		off++
		if off+length > len(data) {
			return nil, 0, &bderrors.WireFormatError{Operation: "decode name", Details: "length exceeds remaining buffer"}
		}
		s := data[off : off+length]
		if !utf8.Valid(s) {
			return nil, 0, &bderrors.WireFormatError{Operation: "decode name", Details: "not valid UTF-8"}
		}
		names = append(names, string(s))
		off += length
	}
	return names, off, nil
}
