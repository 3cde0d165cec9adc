package attribute

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/exa-networks/exabgp/internal/family"
)

// buildAttr constructs one attribute TLV.
func buildAttr(flags Flags, code Code, data []byte) []byte {
	if len(data) > 255 {
		attr := []byte{byte(flags | FlagExtended), byte(code)}
		attr = binary.BigEndian.AppendUint16(attr, uint16(len(data)))
		return append(attr, data...)
	}
	attr := []byte{byte(flags), byte(code), byte(len(data))}
	return append(attr, data...)
}

func noAddPath(family.Family) bool { return false }

func TestParseBasicAttributes(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagTransitive, CodeOrigin, []byte{0})...)
	section = append(section, buildAttr(FlagTransitive, CodeASPath, []byte{2, 1, 0, 0, 0xFD, 0xE8})...)
	section = append(section, buildAttr(FlagTransitive, CodeNextHop, []byte{192, 0, 2, 1})...)
	section = append(section, buildAttr(FlagOptional, CodeMED, []byte{0, 0, 0, 100})...)

	res, notify := Parse(section, Context{AS4: true, AddPath: noAddPath})
	if notify != nil {
		t.Fatalf("notify: %v", notify)
	}
	if res.TreatAsWithdraw {
		t.Fatalf("unexpected treat-as-withdraw: %v", res.Reasons)
	}
	if res.Attributes.Len() != 4 {
		t.Fatalf("got %d attributes", res.Attributes.Len())
	}
	med, ok := res.Attributes.Get(CodeMED)
	if !ok {
		t.Fatal("med missing")
	}
	if v, _ := MED(med); v != 100 {
		t.Errorf("med %d", v)
	}
	path, _ := res.Attributes.Get(CodeASPath)
	if path.(*ASPath).Segments[0].ASNs[0] != 65000 {
		t.Error("as-path wrong")
	}
}

func TestRepackIsByteIdentical(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagTransitive, CodeOrigin, []byte{1})...)
	section = append(section, buildAttr(FlagTransitive, CodeASPath, []byte{2, 2, 0, 0, 0xFD, 0xE8, 0, 0, 0xFD, 0xE9})...)
	section = append(section, buildAttr(FlagTransitive, CodeNextHop, []byte{10, 0, 0, 1})...)
	section = append(section, buildAttr(FlagOptional|FlagTransitive, CodeCommunities, []byte{0xFD, 0xE8, 0, 1, 0xFD, 0xE8, 0, 2})...)
	section = append(section, buildAttr(FlagOptional|FlagTransitive, CodeLargeCommunities,
		[]byte{0, 0, 0xFD, 0xE8, 0, 0, 0, 1, 0, 0, 0, 2})...)

	res, notify := Parse(section, Context{AS4: true, AddPath: noAddPath})
	if notify != nil {
		t.Fatalf("notify: %v", notify)
	}
	repacked := res.Attributes.Pack(nil)
	if !bytes.Equal(repacked, section) {
		t.Fatalf("re-pack changed bytes:\n got %x\nwant %x", repacked, section)
	}
}

func TestMalformedMEDIsTreatAsWithdraw(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagTransitive, CodeOrigin, []byte{0})...)
	section = append(section, buildAttr(FlagOptional, CodeMED, []byte{0, 0, 100})...) // length 3

	res, notify := Parse(section, Context{AS4: true, AddPath: noAddPath})
	if notify != nil {
		t.Fatalf("malformed med must not reset the session: %v", notify)
	}
	if !res.TreatAsWithdraw {
		t.Fatal("expected treat-as-withdraw")
	}
}

func TestMalformedASPathResetsSession(t *testing.T) {
	section := buildAttr(FlagTransitive, CodeASPath, []byte{9, 1, 0, 0})
	_, notify := Parse(section, Context{AS4: true, AddPath: noAddPath})
	if notify == nil {
		t.Fatal("expected session reset")
	}
	if notify.Code != 3 {
		t.Errorf("notify code %d", notify.Code)
	}
}

func TestTruncatedHeaderResetsSession(t *testing.T) {
	if _, notify := Parse([]byte{0x40}, Context{}); notify == nil {
		t.Fatal("expected malformed attribute list")
	}
}

func TestUnknownAttributes(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagOptional|FlagTransitive, Code(200), []byte{1, 2, 3})...)
	section = append(section, buildAttr(FlagOptional, Code(201), []byte{9})...)

	res, notify := Parse(section, Context{})
	if notify != nil {
		t.Fatal(notify)
	}
	// Transitive kept with the partial bit; non-transitive dropped.
	kept, ok := res.Attributes.Get(Code(200))
	if !ok {
		t.Fatal("unknown transitive attribute dropped")
	}
	if !kept.Flags().Partial() {
		t.Error("partial flag not set on retained unknown attribute")
	}
	if res.Attributes.Has(Code(201)) {
		t.Error("unknown non-transitive attribute retained")
	}
}

func TestDuplicateCommunitiesMerge(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagOptional|FlagTransitive, CodeCommunities, []byte{0xFD, 0xE8, 0, 1})...)
	section = append(section, buildAttr(FlagOptional|FlagTransitive, CodeCommunities, []byte{0xFD, 0xE8, 0, 2, 0xFD, 0xE8, 0, 1})...)

	res, notify := Parse(section, Context{})
	if notify != nil {
		t.Fatal(notify)
	}
	comm, _ := res.Attributes.Get(CodeCommunities)
	values := comm.(*Communities).Values
	if len(values) != 2 {
		t.Fatalf("merged to %d values, want 2", len(values))
	}
}

func TestDuplicateOriginIsTreatAsWithdraw(t *testing.T) {
	var section []byte
	section = append(section, buildAttr(FlagTransitive, CodeOrigin, []byte{0})...)
	section = append(section, buildAttr(FlagTransitive, CodeOrigin, []byte{1})...)
	res, notify := Parse(section, Context{})
	if notify != nil {
		t.Fatal(notify)
	}
	if !res.TreatAsWithdraw {
		t.Fatal("duplicate origin must downgrade the update")
	}
}

func TestASPathWidths(t *testing.T) {
	segments := []Segment{{Type: SegmentSequence, ASNs: []uint32{70000, 65001}}}
	wide := NewASPath(segments, true)
	if len(wide.Payload()) != 2+8 {
		t.Fatalf("4-octet payload %d bytes", len(wide.Payload()))
	}
	narrow := wide.Repack(false)
	if len(narrow.Payload()) != 2+4 {
		t.Fatalf("2-octet payload %d bytes", len(narrow.Payload()))
	}
	// 70000 does not fit 16 bits: AS_TRANS substituted.
	if binary.BigEndian.Uint16(narrow.Payload()[2:4]) != ASTrans {
		t.Error("expected AS_TRANS in the narrow encoding")
	}
	if !wide.NeedsAS4Path() {
		t.Error("path with a 32-bit asn needs an as4-path companion")
	}
}

func TestMergeAS4Path(t *testing.T) {
	// Received at 2-octet width: 65001 23456 23456, with an AS4_PATH of
	// 70000 70001. Strict RFC 6793 merge keeps the leading entry.
	asPath := NewASPath([]Segment{{Type: SegmentSequence, ASNs: []uint32{65001, uint32(ASTrans), uint32(ASTrans)}}}, false)
	as4Path := NewAS4Path([]Segment{{Type: SegmentSequence, ASNs: []uint32{70000, 70001}}})
	c := NewCollection(asPath, as4Path)
	MergeAS4(c)

	if c.Has(CodeAS4Path) {
		t.Fatal("as4-path must be consumed")
	}
	merged, _ := c.Get(CodeASPath)
	asns := merged.(*ASPath).Segments
	var flat []uint32
	for _, s := range asns {
		flat = append(flat, s.ASNs...)
	}
	want := []uint32{65001, 70000, 70001}
	if len(flat) != len(want) {
		t.Fatalf("merged path %v", flat)
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("merged path %v, want %v", flat, want)
		}
	}
}

func TestMergeAS4PathLongerThanASPath(t *testing.T) {
	asPath := NewASPath([]Segment{{Type: SegmentSequence, ASNs: []uint32{uint32(ASTrans)}}}, false)
	as4Path := NewAS4Path([]Segment{{Type: SegmentSequence, ASNs: []uint32{70000, 70001}}})
	c := NewCollection(asPath, as4Path)
	MergeAS4(c)
	merged, _ := c.Get(CodeASPath)
	// AS4_PATH longer than AS_PATH: ignored per RFC 6793 §4.2.3.
	if len(merged.(*ASPath).Segments[0].ASNs) != 1 {
		t.Fatal("oversized as4-path must be ignored")
	}
}

func TestCacheInterning(t *testing.T) {
	cache := NewCache(16)
	a := NewOrigin(OriginIGP)
	b := NewOrigin(OriginIGP)
	if cache.Intern(a) != cache.Intern(b).(*Origin) {
		t.Fatal("equal attributes must intern to one object")
	}
	c := NewOrigin(OriginEGP)
	if cache.Intern(c) == Attribute(a) {
		t.Fatal("different payloads must not collide")
	}
	hits, misses := cache.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("hits %d misses %d", hits, misses)
	}
}

func TestCollectionKeyStable(t *testing.T) {
	a := NewCollection(NewOrigin(OriginIGP), NewMED(5))
	b := NewCollection(NewMED(5), NewOrigin(OriginIGP))
	if a.Key() != b.Key() {
		t.Fatal("key must not depend on insertion order")
	}
	if a.Equal(NewCollection(NewOrigin(OriginIGP), NewMED(6))) {
		t.Fatal("different med must differ")
	}
}

func TestMPReachRoundTrip(t *testing.T) {
	nh := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	var payload []byte
	payload = binary.BigEndian.AppendUint16(payload, uint16(family.AFIIPv6))
	payload = append(payload, byte(family.SAFIUnicast), byte(len(nh)))
	payload = append(payload, nh...)
	payload = append(payload, 0) // reserved
	payload = append(payload, 32, 0x20, 0x01, 0x0d, 0xb8)

	a, err := parseMPReach(payload, noAddPath)
	if err != nil {
		t.Fatal(err)
	}
	reach := a.(*MPReach)
	if reach.Family != family.IPv6Unicast || len(reach.NLRIs) != 1 {
		t.Fatalf("family %s nlris %d", reach.Family, len(reach.NLRIs))
	}
	if reach.NLRIs[0].NextHop().String() != "2001:db8::1" {
		t.Errorf("next-hop %s", reach.NLRIs[0].NextHop())
	}
	if !bytes.Equal(a.Payload(), payload) {
		t.Error("payload not preserved")
	}
}

func TestMPUnreachEmptyIsValid(t *testing.T) {
	var payload []byte
	payload = binary.BigEndian.AppendUint16(payload, uint16(family.AFIIPv6))
	payload = append(payload, byte(family.SAFIUnicast))
	a, err := parseMPUnreach(payload, noAddPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.(*MPUnreach).NLRIs) != 0 {
		t.Fatal("expected no nlris")
	}
}
