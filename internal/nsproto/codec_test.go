package nsproto

import (
	"net"
	"strings"
	"testing"
)

// TestEncodeDecode_WhoHas_Roundtrip: encode then decode must reproduce
// the original value bit-exactly.
func TestEncodeDecode_WhoHas_Roundtrip(t *testing.T) {
	tests := []struct {
		name string
		wh   WhoHas
	}{
		{
			name: "simple pattern",
			wh:   WhoHas{TransportMask: 0x0001, IPv4: true, Reliable: true, Names: []string{"org.example.*"}},
		},
		{
			name: "multiple names no flags",
			wh:   WhoHas{TransportMask: 0x0004, Names: []string{"a.b.c", "d.e.f"}},
		},
		{
			name: "empty names",
			wh:   WhoHas{TransportMask: 0x0002, IPv6: true, Unreliable: true},
		},
	}

	for _, v := range []Version{V0, V1} {
		vname := "v0"
		if v.Major == 1 {
			vname = "v1"
		}
		for _, tt := range tests {
			t.Run(vname+"/"+tt.name, func(t *testing.T) {
				msg := &Message{Version: v, WhoHas: []WhoHas{tt.wh}}
				datagrams, err := Encode(msg)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				if len(datagrams) != 1 {
					t.Fatalf("expected 1 datagram, got %d", len(datagrams))
				}
				decoded, err := Decode(datagrams[0])
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				if len(decoded.WhoHas) != 1 {
					t.Fatalf("expected 1 WhoHas, got %d", len(decoded.WhoHas))
				}
				got := decoded.WhoHas[0]
				want := tt.wh
				if got.TransportMask != want.TransportMask || got.IPv4 != want.IPv4 || got.IPv6 != want.IPv6 ||
					got.Reliable != want.Reliable || got.Unreliable != want.Unreliable {
					t.Errorf("WhoHas mismatch: got %+v, want %+v", got, want)
				}
				if len(got.Names) != len(want.Names) {
					t.Fatalf("name count mismatch: got %d, want %d", len(got.Names), len(want.Names))
				}
				for i := range want.Names {
					if got.Names[i] != want.Names[i] {
						t.Errorf("name[%d] = %q, want %q", i, got.Names[i], want.Names[i])
					}
				}
			})
		}
	}
}

// TestEncodeDecode_IsAt_V0_ZeroFillsAbsentFamily validates that v0
// zeroes out an absent address family rather than omitting its fields.
func TestEncodeDecode_IsAt_V0_ZeroFillsAbsentFamily(t *testing.T) {
	isAt := IsAt{
		TransportMask: 0x0001,
		TTL:           120,
		Complete:      true,
		ReliableIPv4:  &Endpoint4{Addr: net.IPv4(10, 0, 0, 1), Port: 9955},
		Names:         []string{"org.example.svc"},
	}
	msg := &Message{Version: V0, IsAt: []IsAt{isAt}}
	datagrams, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(datagrams[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := decoded.IsAt[0]
	if got.ReliableIPv4 == nil || !got.ReliableIPv4.Addr.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("ReliableIPv4 = %+v, want 10.0.0.1:9955", got.ReliableIPv4)
	}
	if got.ReliableIPv6 != nil {
		t.Errorf("ReliableIPv6 = %+v, want nil (flag not set)", got.ReliableIPv6)
	}
}

// TestEncodeDecode_IsAt_V1_OmitsAbsentFamily validates that v1 omits
// fields for address families the interface doesn't have, rather
// than encoding zeroed placeholders, so v1 datagrams are smaller.
func TestEncodeDecode_IsAt_V1_OmitsAbsentFamily(t *testing.T) {
	isAtV0 := IsAt{TransportMask: 0x0001, TTL: 120, ReliableIPv4: &Endpoint4{Addr: net.IPv4(10, 0, 0, 1), Port: 9955}}
	isAtV1 := isAtV0

	v0Bufs, err := Encode(&Message{Version: V0, IsAt: []IsAt{isAtV0}})
	if err != nil {
		t.Fatalf("v0 Encode() error = %v", err)
	}
	v1Bufs, err := Encode(&Message{Version: V1, IsAt: []IsAt{isAtV1}})
	if err != nil {
		t.Fatalf("v1 Encode() error = %v", err)
	}
	if len(v1Bufs[0]) >= len(v0Bufs[0]) {
		t.Errorf("expected v1 encoding (%d bytes) to be smaller than v0 (%d bytes)", len(v1Bufs[0]), len(v0Bufs[0]))
	}

	decoded, err := Decode(v1Bufs[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := decoded.IsAt[0]
	if got.ReliableIPv4 == nil || got.ReliableIPv4.Port != 9955 {
		t.Fatalf("ReliableIPv4 = %+v, want port 9955", got.ReliableIPv4)
	}
	if got.ReliableIPv6 != nil || got.UnreliableIPv4 != nil || got.UnreliableIPv6 != nil {
		t.Errorf("expected all other endpoints nil, got %+v", got)
	}
}

// TestIsAt_LostHasZeroTTL validates that a TTL==0 IsAt, the "lost"
// notification, keeps TTL 0 through encode and decode.
func TestIsAt_LostHasZeroTTL(t *testing.T) {
	isAt := IsAt{TransportMask: 0x0001, TTL: 0, Names: []string{"org.example.svc"}}
	bufs, err := Encode(&Message{Version: V1, IsAt: []IsAt{isAt}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(bufs[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.IsAt[0].TTL != 0 {
		t.Errorf("TTL = %d, want 0 (lost)", decoded.IsAt[0].TTL)
	}
}

// TestDecode_UnsupportedMajorVersion validates that an unknown major
// version is reported, not silently accepted.
func TestDecode_UnsupportedMajorVersion(t *testing.T) {
	data := []byte{0xF0, 0, 0, 0}
	_, err := Decode(data)
	if err == nil {
		t.Fatal("expected error for unsupported major version, got nil")
	}
}

// TestDecode_TruncatedMessage validates that a too-short buffer is
// reported as a WireFormatError rather than panicking.
func TestDecode_TruncatedMessage(t *testing.T) {
	tests := [][]byte{
		{},
		{0x10},
		{0x10, 0x00, 0x01, 0x00}, // claims 1 WhoHas but has no body
	}
	for _, data := range tests {
		if _, err := Decode(data); err == nil {
			t.Errorf("Decode(%v) expected error, got nil", data)
		}
	}
}

// TestEncode_NameTooLong validates the 255-byte name cap.
func TestEncode_NameTooLong(t *testing.T) {
	name := strings.Repeat("a", 256)
	_, err := Encode(&Message{Version: V1, WhoHas: []WhoHas{{TransportMask: 1, Names: []string{name}}}})
	if err == nil {
		t.Fatal("expected error for name exceeding 255 bytes, got nil")
	}
}

// TestEncode_LargeAdvertisement_SplitsAcrossDatagrams validates that a
// large advertised-name set is split across multiple datagrams each
// within MaxMessageSize, and the union of names across datagrams equals
// the original set.
func TestEncode_LargeAdvertisement_SplitsAcrossDatagrams(t *testing.T) {
	var names []string
	for i := 0; i < 40; i++ {
		names = append(names, strings.Repeat("x", 50)+".example.svc"+string(rune('a'+i%26)))
	}
	isAt := IsAt{TransportMask: 1, TTL: 120, Names: names, ReliableIPv4: &Endpoint4{Addr: net.IPv4(10, 0, 0, 1), Port: 9955}}
	datagrams, err := Encode(&Message{Version: V1, IsAt: []IsAt{isAt}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(datagrams) < 2 {
		t.Fatalf("expected multiple datagrams for 40 large names, got %d", len(datagrams))
	}

	seen := map[string]bool{}
	for _, d := range datagrams {
		if len(d) > MaxMessageSize {
			t.Errorf("datagram of %d bytes exceeds MaxMessageSize %d", len(d), MaxMessageSize)
		}
		decoded, err := Decode(d)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		for _, ia := range decoded.IsAt {
			for _, n := range ia.Names {
				seen[n] = true
			}
		}
	}
	for _, n := range names {
		if !seen[n] {
			t.Errorf("name %q missing from reassembled set", n)
		}
	}
}
