package nlri

import (
	"bytes"
	"testing"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// roundTrip asserts pack(parse(bytes)) == bytes for one NLRI.
func roundTrip(t *testing.T, f family.Family, data []byte, addPath bool) NLRI {
	t.Helper()
	ns, err := ParseSection(f, data, addPath, Announce)
	if err != nil {
		t.Fatalf("%s: parse: %v", f, err)
	}
	if len(ns) != 1 {
		t.Fatalf("%s: got %d nlris, want 1", f, len(ns))
	}
	packed := PackOne(nil, ns[0], addPath)
	if !bytes.Equal(packed, data) {
		t.Fatalf("%s: re-pack %x, want %x", f, packed, data)
	}
	return ns[0]
}

func TestUnicastRoundTrip(t *testing.T) {
	roundTrip(t, family.IPv4Unicast, []byte{24, 10, 0, 0}, false)
	roundTrip(t, family.IPv6Unicast, []byte{32, 0x20, 0x01, 0x0d, 0xb8}, false)
	roundTrip(t, family.IPv4Multicast, []byte{8, 224}, false)
}

func TestUnicastAddPath(t *testing.T) {
	data := []byte{0, 0, 0, 5, 24, 10, 0, 0}
	n := roundTrip(t, family.IPv4Unicast, data, true)
	if n.PathID() != 5 {
		t.Errorf("path-id %d, want 5", n.PathID())
	}
	// Same prefix with a different path-id is a distinct route.
	other := roundTrip(t, family.IPv4Unicast, []byte{0, 0, 0, 6, 24, 10, 0, 0}, true)
	if n.Index() == other.Index() {
		t.Error("different path-ids must not share an index")
	}
}

func TestLabeledRoundTripAndIndex(t *testing.T) {
	// 24-bit prefix + one label = 48 bits; label 100 bottom-of-stack.
	data := []byte{48, 0x00, 0x06, 0x41, 10, 0, 0}
	n := roundTrip(t, family.IPv4Labeled, data, false)
	l := n.(*Labeled)
	if l.Labels[0].Value() != 100 {
		t.Errorf("label %d, want 100", l.Labels[0].Value())
	}
	if l.Prefix.String() != "10.0.0.0/24" {
		t.Errorf("prefix %s", l.Prefix)
	}

	// A different label must map to the same index: labels are not part
	// of the route key.
	data2 := []byte{48, 0x00, 0x0C, 0x81, 10, 0, 0} // label 200
	n2 := roundTrip(t, family.IPv4Labeled, data2, false)
	if n.Index() != n2.Index() {
		t.Error("labels must not contribute to the index")
	}
}

func TestVPNRoundTrip(t *testing.T) {
	rd := wire.RDFromASN2(65000, 1)
	var data []byte
	data = append(data, 24+24+64) // label + rd + /24
	data = append(data, 0x00, 0x06, 0x41)
	data = rd.Pack(data)
	data = append(data, 10, 0, 0)
	n := roundTrip(t, family.IPv4MPLSVPN, data, false)
	v := n.(*VPN)
	if v.RD != rd {
		t.Errorf("rd %s", v.RD)
	}
	// The RD is part of the key, the label is not.
	var data2 []byte
	data2 = append(data2, 24+24+64)
	data2 = append(data2, 0x00, 0x0C, 0x81)
	data2 = rd.Pack(data2)
	data2 = append(data2, 10, 0, 0)
	n2 := roundTrip(t, family.IPv4MPLSVPN, data2, false)
	if n.Index() != n2.Index() {
		t.Error("vpn labels must not contribute to the index")
	}
}

func TestVPLSRoundTrip(t *testing.T) {
	var data []byte
	data = append(data, 0, 17)
	data = wire.RDFromASN2(65000, 2).Pack(data)
	data = append(data, 0, 10) // ve id
	data = append(data, 0, 1)  // offset
	data = append(data, 0, 8)  // size
	data = append(data, 0x01, 0x00, 0x00)
	n := roundTrip(t, family.L2VPNVPLS, data, false)
	v := n.(*VPLS)
	if v.VEID != 10 || v.Size != 8 {
		t.Errorf("ve-id %d size %d", v.VEID, v.Size)
	}
}

func TestEVPNMACRoundTripAndIndex(t *testing.T) {
	build := func(label byte) []byte {
		value := make([]byte, 33)
		copy(value[0:8], wire.RDFromASN2(65000, 3).Pack(nil))
		// esi zero, etag zero
		value[22] = 48 // mac length in bits
		copy(value[23:29], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
		value[29] = 0 // no ip
		value[32] = label
		return append([]byte{2, 33}, value...)
	}
	n1 := roundTrip(t, family.L2VPNEVPN, build(0x10), false)
	n2 := roundTrip(t, family.L2VPNEVPN, build(0x20), false)
	if n1.Index() != n2.Index() {
		t.Error("evpn mac route index must exclude the label")
	}
	if n1.(*EVPN).Type != EVPNMACAdvert {
		t.Errorf("type %d", n1.(*EVPN).Type)
	}
}

func TestEVPNMulticastRoundTrip(t *testing.T) {
	value := make([]byte, 17)
	copy(value[0:8], wire.RDFromASN2(65000, 4).Pack(nil))
	value[12] = 32
	copy(value[13:17], []byte{239, 0, 0, 1})
	roundTrip(t, family.L2VPNEVPN, append([]byte{3, 17}, value...), false)
}

func TestFlowRoundTrip(t *testing.T) {
	// destination 10.0.0.0/24, protocol tcp, destination port 80
	var body []byte
	body = append(body, FlowDstPrefix)
	body = append(body, 24, 10, 0, 0)
	body = append(body, FlowIPProto)
	body = append(body, 0x81, 6)
	body = append(body, FlowDstPort)
	body = append(body, 0x81, 80)
	data := append([]byte{byte(len(body))}, body...)
	n := roundTrip(t, family.IPv4Flow, data, false)
	fl := n.(*Flow)
	if len(fl.Components) != 3 {
		t.Fatalf("components %d", len(fl.Components))
	}
}

func TestFlowIndexCanonicalOrder(t *testing.T) {
	mk := func(order []uint8) *Flow {
		comps := map[uint8]FlowComponent{
			FlowDstPrefix: {Type: FlowDstPrefix, Value: []byte{24, 10, 0, 0}},
			FlowDstPort:   {Type: FlowDstPort, Value: []byte{0x81, 80}},
		}
		var list []FlowComponent
		for _, t := range order {
			list = append(list, comps[t])
		}
		return NewFlow(family.IPv4Flow, wire.RD{}, list)
	}
	a := mk([]uint8{FlowDstPrefix, FlowDstPort})
	b := mk([]uint8{FlowDstPort, FlowDstPrefix})
	if a.Index() != b.Index() {
		t.Error("flow index must be order independent")
	}
}

func TestFlowExtendedLength(t *testing.T) {
	// One port component with a long or-list of values pushes the body
	// past 240 bytes, forcing the 2-byte length form.
	body := []byte{FlowDstPort}
	for i := 0; i < 120; i++ {
		body = append(body, 0x01, 80) // eq, more values follow
	}
	body = append(body, 0x81, 80) // eq, end-of-list
	data := []byte{0xF0 | byte(len(body)>>8), byte(len(body))}
	data = append(data, body...)
	ns, err := ParseSection(family.IPv4Flow, data, false, Announce)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	packed := PackOne(nil, ns[0], false)
	if !bytes.Equal(packed, data) {
		t.Fatal("extended-length flow did not round trip")
	}
}

func TestRTCRoundTrip(t *testing.T) {
	var target [8]byte
	copy(target[:], []byte{0x00, 0x02, 0xFD, 0xE8, 0, 0, 0, 100})
	r := NewRTC(65001, target)
	packed := r.Pack(nil)
	n := roundTrip(t, family.IPv4RTC, packed, false)
	if n.(*RTC).OriginAS != 65001 {
		t.Errorf("origin-as %d", n.(*RTC).OriginAS)
	}
	// Default (zero length) rule.
	roundTrip(t, family.IPv4RTC, []byte{0}, false)
}

func TestBGPLSRoundTrip(t *testing.T) {
	value := []byte{0x01, 0x00, 0x00, 0x1a, 0x02, 0x00, 0x00, 0x04, 0x00, 0x00, 0xfd, 0xe8}
	data := []byte{0x00, 0x02, 0x00, byte(len(value))}
	data = append(data, value...)
	n := roundTrip(t, family.BGPLS, data, false)
	if n.(*LinkState).Type != LSLink {
		t.Errorf("type %d", n.(*LinkState).Type)
	}
}

func TestMcastVPNRoundTrip(t *testing.T) {
	value := make([]byte, 12)
	copy(value[0:8], wire.RDFromASN2(65000, 9).Pack(nil))
	copy(value[8:12], []byte{10, 0, 0, 1})
	data := append([]byte{McastVPNIntraPMSI, 12}, value...)
	roundTrip(t, family.IPv4McastVPN, data, false)

	if _, err := ParseSection(family.IPv4McastVPN, append([]byte{9, 2}, 0, 0), false, Announce); err == nil {
		t.Fatal("expected error for unknown mcast-vpn route type")
	}
}

func TestMUPRoundTrip(t *testing.T) {
	data := []byte{1, 0, 1, 4, 0xde, 0xad, 0xbe, 0xef}
	n := roundTrip(t, family.IPv4MUP, data, false)
	m := n.(*MUP)
	if m.ArchType != 1 || m.RouteType != 1 {
		t.Errorf("arch %d route %d", m.ArchType, m.RouteType)
	}
}

func TestParseSectionMultiple(t *testing.T) {
	data := []byte{24, 10, 0, 0, 24, 10, 0, 1, 32, 192, 0, 2, 1}
	ns, err := ParseSection(family.IPv4Unicast, data, false, Withdraw)
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 3 {
		t.Fatalf("got %d nlris", len(ns))
	}
	for _, n := range ns {
		if n.Action() != Withdraw {
			t.Error("action not propagated")
		}
	}
}

func TestUnsupportedFamily(t *testing.T) {
	if _, err := ParseSection(family.Family{AFI: 99, SAFI: 99}, []byte{0}, false, Announce); err == nil {
		t.Fatal("expected unsupported family error")
	}
}
