package wire

import (
	"bytes"
	"net/netip"
	"testing"
)

func TestPrefixRoundTrip(t *testing.T) {
	cases := []struct {
		prefix  string
		addrLen int
		wire    []byte
	}{
		{"10.0.0.0/24", 4, []byte{24, 10, 0, 0}},
		{"192.0.2.1/32", 4, []byte{32, 192, 0, 2, 1}},
		{"0.0.0.0/0", 4, []byte{0}},
		{"2001:db8::/32", 16, []byte{32, 0x20, 0x01, 0x0d, 0xb8}},
	}
	for _, tc := range cases {
		p, err := ParsePrefixString(tc.prefix)
		if err != nil {
			t.Fatalf("%s: %v", tc.prefix, err)
		}
		packed := p.Pack(nil)
		if !bytes.Equal(packed, tc.wire) {
			t.Errorf("%s: packed %x, want %x", tc.prefix, packed, tc.wire)
		}
		parsed, consumed, err := ParsePrefix(tc.wire, tc.addrLen)
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.prefix, err)
		}
		if consumed != len(tc.wire) {
			t.Errorf("%s: consumed %d, want %d", tc.prefix, consumed, len(tc.wire))
		}
		if parsed.String() != tc.prefix {
			t.Errorf("parsed %s, want %s", parsed, tc.prefix)
		}
		if !bytes.Equal(parsed.Pack(nil), tc.wire) {
			t.Errorf("%s: re-pack changed bytes", tc.prefix)
		}
	}
}

func TestPrefixLengthOutOfRange(t *testing.T) {
	if _, _, err := ParsePrefix([]byte{33, 1, 2, 3, 4, 5}, 4); err == nil {
		t.Fatal("expected error for /33 on ipv4")
	}
	if _, _, err := ParsePrefix([]byte{24, 10}, 4); err == nil {
		t.Fatal("expected error for truncated prefix body")
	}
}

func TestRDEncodings(t *testing.T) {
	cases := []struct {
		text string
		rd   RD
	}{
		{"65000:100", RDFromASN2(65000, 100)},
		{"192.0.2.1:5", RDFromIP(netip.MustParseAddr("192.0.2.1"), 5)},
		{"4200000000:1", RDFromASN4(4200000000, 1)},
	}
	for _, tc := range cases {
		parsed, err := ParseRDString(tc.text)
		if err != nil {
			t.Fatalf("%s: %v", tc.text, err)
		}
		if parsed != tc.rd {
			t.Errorf("%s: parsed %x, want %x", tc.text, parsed[:], tc.rd[:])
		}
		if parsed.String() != tc.text {
			t.Errorf("%s: rendered %s", tc.text, parsed)
		}
	}
}

func TestRDTypeBytes(t *testing.T) {
	if got := RDFromASN2(65000, 100); got[0] != 0 || got[1] != 0 {
		t.Errorf("type-0 rd has wrong type field: %x", got[:2])
	}
	if got := RDFromIP(netip.MustParseAddr("10.0.0.1"), 1); got[1] != 1 {
		t.Errorf("type-1 rd has wrong type field: %x", got[:2])
	}
	if got := RDFromASN4(70000, 1); got[1] != 2 {
		t.Errorf("type-2 rd has wrong type field: %x", got[:2])
	}
}

func TestLabelStack(t *testing.T) {
	ls := Labels{LabelFromValue(100, false), LabelFromValue(200, true)}
	packed := ls.Pack(nil)
	if len(packed) != 6 {
		t.Fatalf("packed %d bytes, want 6", len(packed))
	}
	parsed, consumed, err := ParseLabels(packed)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 6 || len(parsed) != 2 {
		t.Fatalf("consumed %d labels %d", consumed, len(parsed))
	}
	if parsed[0].Value() != 100 || parsed[1].Value() != 200 {
		t.Errorf("values %d %d", parsed[0].Value(), parsed[1].Value())
	}
	if parsed[0].Bottom() || !parsed[1].Bottom() {
		t.Error("bottom-of-stack bits wrong")
	}
}

func TestParseNextHop(t *testing.T) {
	v4, err := ParseNextHop([]byte{192, 0, 2, 1})
	if err != nil || v4.String() != "192.0.2.1" {
		t.Fatalf("v4: %v %v", v4, err)
	}
	pair := make([]byte, 32)
	pair[0] = 0x20
	pair[1] = 0x01
	global, err := ParseNextHop(pair)
	if err != nil {
		t.Fatal(err)
	}
	if !global.Is6() {
		t.Errorf("expected the global half of the pair, got %s", global)
	}
	vpn := make([]byte, 12)
	copy(vpn[8:], []byte{10, 0, 0, 1})
	stripped, err := ParseNextHop(vpn)
	if err != nil || stripped.String() != "10.0.0.1" {
		t.Fatalf("vpn next-hop: %v %v", stripped, err)
	}
	if _, err := ParseNextHop(make([]byte, 5)); err == nil {
		t.Fatal("expected error for 5-byte next-hop")
	}
}

func TestNotifyStrings(t *testing.T) {
	n := NewNotify(NotifyHoldTimer, 0)
	if n.Error() != "hold timer expired" {
		t.Errorf("got %q", n.Error())
	}
	if NewNotify(NotifyCease, CeaseCollisionResolution).Error() != "connection collision resolution" {
		t.Error("cease subcode string wrong")
	}
}
