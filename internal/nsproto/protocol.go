// Package nsproto implements the NS (name service) wire codec: encoding
// and parsing of the datagram header plus WhoHas/IsAt records, with
// length-prefixed UTF-8 name strings and a WireFormatError on any
// truncated or malformed input.
package nsproto

const (
	// MulticastAddrIPv4 is the legacy IPv4 multicast group for NS traffic.
	MulticastAddrIPv4 = "224.0.0.113"
	// MulticastAddrIPv6 is the legacy IPv6 multicast group for NS traffic.
	MulticastAddrIPv6 = "ff02::13a"
	// Port is the UDP port NS traffic is sent to and received on.
	Port = 9956

	// MaxMessageSize is the largest encoded NS message this codec will
	// produce: it fits a 1500-byte Ethernet MTU minus IP/UDP overhead.
	MaxMessageSize = 1454

	// MaxNameLength is the largest UTF-8 encoding of a single well-known
	// name, bounded by the 1-byte length prefix.
	MaxNameLength = 255
)

// Version is the header's version nibble pair: Major identifies the wire
// layout; Minor is informational
// and ignored by the decoder (both versions in this codec share one
// major/minor pairing scheme: v0 = major 0, v1 = major 1).
type Version struct {
	Major uint8
	Minor uint8
}

// V0 zero-fills absent address families in an IsAt record; V1 omits them
// entirely.
var (
	V0 = Version{Major: 0, Minor: 0}
	V1 = Version{Major: 1, Minor: 0}
)

func (v Version) byte() byte { return (v.Major << 4) | (v.Minor & 0x0f) }

func versionFromByte(b byte) Version {
	return Version{Major: b >> 4, Minor: b & 0x0f}
}

// DurationInfinite is the sentinel TTL value meaning "never expires".
const DurationInfinite = 255

// WhoHasFlags are the bits carried in a WhoHas record's flags byte.
// Reserved bits (not named here) are ignored on decode, never rejected,
// so newer senders stay compatible.
type WhoHasFlags uint8

const (
	WhoHasIPv4      WhoHasFlags = 1 << 0
	WhoHasIPv6      WhoHasFlags = 1 << 1
	WhoHasReliable  WhoHasFlags = 1 << 2
	WhoHasUnreliable WhoHasFlags = 1 << 3
)

// IsAtFlags are the bits carried in an IsAt record's flags byte.
type IsAtFlags uint8

const (
	IsAtComplete        IsAtFlags = 1 << 0
	IsAtHasReliableIPv4 IsAtFlags = 1 << 1
	IsAtHasReliableIPv6 IsAtFlags = 1 << 2
	IsAtHasUnreliableIPv4 IsAtFlags = 1 << 3
	IsAtHasUnreliableIPv6 IsAtFlags = 1 << 4
)
