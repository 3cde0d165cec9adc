package attribute

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// Origin values.
const (
	OriginIGP        uint8 = 0
	OriginEGP        uint8 = 1
	OriginIncomplete uint8 = 2
)

// Well-known communities.
const (
	CommunityNoExport      uint32 = 0xFFFFFF01
	CommunityNoAdvertise   uint32 = 0xFFFFFF02
	CommunityNoExportSub   uint32 = 0xFFFFFF03
	CommunityBlackhole     uint32 = 0xFFFF029A
)

// AS_PATH segment types.
const (
	SegmentSet       uint8 = 1
	SegmentSequence  uint8 = 2
	SegmentConfedSeq uint8 = 3
	SegmentConfedSet uint8 = 4
)

// ASTrans is the 2-octet stand-in for a 4-octet local ASN (RFC 6793).
const ASTrans uint16 = 23456

// Origin is attribute 1.
type Origin struct {
	payload []byte
	Value   uint8
}

func NewOrigin(v uint8) *Origin { return &Origin{payload: []byte{v}, Value: v} }

func parseOrigin(payload []byte) (Attribute, error) {
	if len(payload) != 1 {
		return nil, fmt.Errorf("attribute: origin length %d", len(payload))
	}
	if payload[0] > 2 {
		return nil, fmt.Errorf("attribute: origin value %d", payload[0])
	}
	return &Origin{payload: payload, Value: payload[0]}, nil
}

func (o *Origin) Code() Code      { return CodeOrigin }
func (o *Origin) Flags() Flags    { return CodeOrigin.WireFlags() }
func (o *Origin) Payload() []byte { return o.payload }
func (o *Origin) String() string {
	switch o.Value {
	case OriginIGP:
		return "igp"
	case OriginEGP:
		return "egp"
	}
	return "incomplete"
}

// Segment is one AS_PATH segment.
type Segment struct {
	Type uint8
	ASNs []uint32
}

// ASPath is attribute 2. The ASN width of the payload follows the session
// that produced it; Segments holds the decoded view.
type ASPath struct {
	payload  []byte
	as4      bool
	Segments []Segment
}

func NewASPath(segments []Segment, as4 bool) *ASPath {
	return &ASPath{payload: packSegments(segments, as4), as4: as4, Segments: segments}
}

func packSegments(segments []Segment, as4 bool) []byte {
	var dst []byte
	for _, s := range segments {
		dst = append(dst, s.Type, byte(len(s.ASNs)))
		for _, asn := range s.ASNs {
			if as4 {
				dst = binary.BigEndian.AppendUint32(dst, asn)
			} else {
				v := uint16(asn)
				if asn > 0xFFFF {
					v = ASTrans
				}
				dst = binary.BigEndian.AppendUint16(dst, v)
			}
		}
	}
	return dst
}

func parseSegments(payload []byte, as4 bool) ([]Segment, error) {
	width := 2
	if as4 {
		width = 4
	}
	var segments []Segment
	for off := 0; off < len(payload); {
		if len(payload)-off < 2 {
			return nil, fmt.Errorf("attribute: as-path segment header truncated")
		}
		segType := payload[off]
		count := int(payload[off+1])
		off += 2
		if segType < SegmentSet || segType > SegmentConfedSet {
			return nil, fmt.Errorf("attribute: as-path segment type %d", segType)
		}
		if len(payload)-off < count*width {
			return nil, fmt.Errorf("attribute: as-path segment truncated")
		}
		asns := make([]uint32, count)
		for i := 0; i < count; i++ {
			if as4 {
				asns[i] = binary.BigEndian.Uint32(payload[off:])
			} else {
				asns[i] = uint32(binary.BigEndian.Uint16(payload[off:]))
			}
			off += width
		}
		segments = append(segments, Segment{Type: segType, ASNs: asns})
	}
	return segments, nil
}

func parseASPath(payload []byte, as4 bool) (Attribute, error) {
	segments, err := parseSegments(payload, as4)
	if err != nil {
		return nil, err
	}
	return &ASPath{payload: payload, as4: as4, Segments: segments}, nil
}

func (a *ASPath) Code() Code      { return CodeASPath }
func (a *ASPath) Flags() Flags    { return CodeASPath.WireFlags() }
func (a *ASPath) Payload() []byte { return a.payload }
func (a *ASPath) AS4() bool       { return a.as4 }

// Repack re-encodes the path at the other ASN width, for sessions whose
// negotiated width differs from the one this path was built with.
func (a *ASPath) Repack(as4 bool) *ASPath {
	if as4 == a.as4 {
		return a
	}
	return NewASPath(a.Segments, as4)
}

// NeedsAS4Path reports whether the path loses information at 2-octet
// width, requiring an AS4_PATH companion.
func (a *ASPath) NeedsAS4Path() bool {
	for _, s := range a.Segments {
		for _, asn := range s.ASNs {
			if asn > 0xFFFF {
				return true
			}
		}
	}
	return false
}

func (a *ASPath) String() string {
	var parts []string
	for _, s := range a.Segments {
		nums := make([]string, len(s.ASNs))
		for i, asn := range s.ASNs {
			nums[i] = fmt.Sprintf("%d", asn)
		}
		switch s.Type {
		case SegmentSet, SegmentConfedSet:
			parts = append(parts, "("+strings.Join(nums, " ")+")")
		default:
			parts = append(parts, strings.Join(nums, " "))
		}
	}
	return "[ " + strings.Join(parts, " ") + " ]"
}

// AS4Path is attribute 17, always 4-octet.
type AS4Path struct {
	payload  []byte
	Segments []Segment
}

func NewAS4Path(segments []Segment) *AS4Path {
	return &AS4Path{payload: packSegments(segments, true), Segments: segments}
}

func parseAS4Path(payload []byte) (Attribute, error) {
	segments, err := parseSegments(payload, true)
	if err != nil {
		return nil, err
	}
	return &AS4Path{payload: payload, Segments: segments}, nil
}

func (a *AS4Path) Code() Code      { return CodeAS4Path }
func (a *AS4Path) Flags() Flags    { return CodeAS4Path.WireFlags() }
func (a *AS4Path) Payload() []byte { return a.payload }
func (a *AS4Path) String() string  { return (&ASPath{Segments: a.Segments}).String() }

// NextHop is attribute 3; IPv4 only, other families carry theirs inside
// MP_REACH_NLRI.
type NextHop struct {
	payload []byte
	Addr    netip.Addr
}

func NewNextHop(addr netip.Addr) *NextHop {
	v4 := addr.As4()
	return &NextHop{payload: v4[:], Addr: addr}
}

func parseNextHop(payload []byte) (Attribute, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("attribute: next-hop length %d", len(payload))
	}
	return &NextHop{payload: payload, Addr: netip.AddrFrom4([4]byte(payload))}, nil
}

func (n *NextHop) Code() Code      { return CodeNextHop }
func (n *NextHop) Flags() Flags    { return CodeNextHop.WireFlags() }
func (n *NextHop) Payload() []byte { return n.payload }
func (n *NextHop) String() string  { return n.Addr.String() }

// uint32Attr backs MED and LOCAL_PREF.
type uint32Attr struct {
	code    Code
	payload []byte
	Value   uint32
}

func newUint32Attr(code Code, v uint32) *uint32Attr {
	return &uint32Attr{code: code, payload: binary.BigEndian.AppendUint32(nil, v), Value: v}
}

func parseUint32Attr(code Code, payload []byte) (Attribute, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("attribute: %s length %d", code, len(payload))
	}
	return &uint32Attr{code: code, payload: payload, Value: binary.BigEndian.Uint32(payload)}, nil
}

func NewMED(v uint32) Attribute       { return newUint32Attr(CodeMED, v) }
func NewLocalPref(v uint32) Attribute { return newUint32Attr(CodeLocalPref, v) }

func (u *uint32Attr) Code() Code      { return u.code }
func (u *uint32Attr) Flags() Flags    { return u.code.WireFlags() }
func (u *uint32Attr) Payload() []byte { return u.payload }
func (u *uint32Attr) String() string  { return fmt.Sprintf("%d", u.Value) }

// MED reads the metric out of an interned attribute.
func MED(a Attribute) (uint32, bool) {
	if u, ok := a.(*uint32Attr); ok && u.code == CodeMED {
		return u.Value, true
	}
	return 0, false
}

// LocalPref reads the preference out of an interned attribute.
func LocalPref(a Attribute) (uint32, bool) {
	if u, ok := a.(*uint32Attr); ok && u.code == CodeLocalPref {
		return u.Value, true
	}
	return 0, false
}

// AtomicAggregate is attribute 6, zero length.
type AtomicAggregate struct{}

func parseAtomicAggregate(payload []byte) (Attribute, error) {
	if len(payload) != 0 {
		return nil, fmt.Errorf("attribute: atomic-aggregate length %d", len(payload))
	}
	return &AtomicAggregate{}, nil
}

func (*AtomicAggregate) Code() Code      { return CodeAtomicAggregate }
func (*AtomicAggregate) Flags() Flags    { return CodeAtomicAggregate.WireFlags() }
func (*AtomicAggregate) Payload() []byte { return nil }
func (*AtomicAggregate) String() string  { return "atomic-aggregate" }

// Aggregator is attribute 7: the aggregating ASN and router id. 6 bytes
// at 2-octet width, 8 at 4-octet. AS4Aggregator (18) is always 8.
type Aggregator struct {
	code    Code
	payload []byte
	ASN     uint32
	Addr    netip.Addr
}

func NewAggregator(asn uint32, addr netip.Addr, as4 bool) *Aggregator {
	var payload []byte
	if as4 {
		payload = binary.BigEndian.AppendUint32(nil, asn)
	} else {
		v := uint16(asn)
		if asn > 0xFFFF {
			v = ASTrans
		}
		payload = binary.BigEndian.AppendUint16(nil, v)
	}
	v4 := addr.As4()
	payload = append(payload, v4[:]...)
	return &Aggregator{code: CodeAggregator, payload: payload, ASN: asn, Addr: addr}
}

func NewAS4Aggregator(asn uint32, addr netip.Addr) *Aggregator {
	a := NewAggregator(asn, addr, true)
	a.code = CodeAS4Aggregator
	return a
}

func parseAggregator(code Code, payload []byte, as4 bool) (Attribute, error) {
	if code == CodeAS4Aggregator {
		as4 = true
	}
	want := 6
	if as4 {
		want = 8
	}
	if len(payload) != want {
		return nil, fmt.Errorf("attribute: %s length %d", code, len(payload))
	}
	var asn uint32
	if as4 {
		asn = binary.BigEndian.Uint32(payload[0:4])
	} else {
		asn = uint32(binary.BigEndian.Uint16(payload[0:2]))
	}
	return &Aggregator{
		code:    code,
		payload: payload,
		ASN:     asn,
		Addr:    netip.AddrFrom4([4]byte(payload[want-4:])),
	}, nil
}

func (a *Aggregator) Code() Code      { return a.code }
func (a *Aggregator) Flags() Flags    { return a.code.WireFlags() }
func (a *Aggregator) Payload() []byte { return a.payload }
func (a *Aggregator) String() string  { return fmt.Sprintf("%d:%s", a.ASN, a.Addr) }

// Communities is attribute 8.
type Communities struct {
	payload []byte
	Values  []uint32
}

func NewCommunities(values []uint32) *Communities {
	var payload []byte
	for _, v := range values {
		payload = binary.BigEndian.AppendUint32(payload, v)
	}
	return &Communities{payload: payload, Values: values}
}

func parseCommunities(payload []byte) (Attribute, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("attribute: community length %d", len(payload))
	}
	values := make([]uint32, 0, len(payload)/4)
	for i := 0; i < len(payload); i += 4 {
		values = append(values, binary.BigEndian.Uint32(payload[i:]))
	}
	return &Communities{payload: payload, Values: values}, nil
}

func (c *Communities) Code() Code      { return CodeCommunities }
func (c *Communities) Flags() Flags    { return CodeCommunities.WireFlags() }
func (c *Communities) Payload() []byte { return c.payload }

func (c *Communities) String() string {
	parts := make([]string, len(c.Values))
	for i, v := range c.Values {
		switch v {
		case CommunityNoExport:
			parts[i] = "no-export"
		case CommunityNoAdvertise:
			parts[i] = "no-advertise"
		default:
			parts[i] = fmt.Sprintf("%d:%d", v>>16, v&0xFFFF)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// merge combines two community-style attributes, dropping duplicates while
// keeping first-seen order.
func (c *Communities) merge(o *Communities) *Communities {
	seen := make(map[uint32]bool, len(c.Values))
	out := make([]uint32, 0, len(c.Values)+len(o.Values))
	for _, v := range c.Values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range o.Values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return NewCommunities(out)
}

// OriginatorID is attribute 9 (route reflection).
type OriginatorID struct {
	payload []byte
	Addr    netip.Addr
}

func parseOriginatorID(payload []byte) (Attribute, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("attribute: originator-id length %d", len(payload))
	}
	return &OriginatorID{payload: payload, Addr: netip.AddrFrom4([4]byte(payload))}, nil
}

func (o *OriginatorID) Code() Code      { return CodeOriginatorID }
func (o *OriginatorID) Flags() Flags    { return CodeOriginatorID.WireFlags() }
func (o *OriginatorID) Payload() []byte { return o.payload }
func (o *OriginatorID) String() string  { return o.Addr.String() }

// ClusterList is attribute 10 (route reflection).
type ClusterList struct {
	payload []byte
	IDs     []netip.Addr
}

func parseClusterList(payload []byte) (Attribute, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("attribute: cluster-list length %d", len(payload))
	}
	ids := make([]netip.Addr, 0, len(payload)/4)
	for i := 0; i < len(payload); i += 4 {
		ids = append(ids, netip.AddrFrom4([4]byte(payload[i:i+4])))
	}
	return &ClusterList{payload: payload, IDs: ids}, nil
}

func (c *ClusterList) Code() Code      { return CodeClusterList }
func (c *ClusterList) Flags() Flags    { return CodeClusterList.WireFlags() }
func (c *ClusterList) Payload() []byte { return c.payload }
func (c *ClusterList) String() string {
	parts := make([]string, len(c.IDs))
	for i, id := range c.IDs {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// fixedSetAttr backs the extended (8-byte) and large (12-byte) community
// attributes and the IPv6 address-specific extended community (20-byte).
type fixedSetAttr struct {
	code    Code
	unit    int
	payload []byte
}

func newFixedSetAttr(code Code, unit int, values [][]byte) *fixedSetAttr {
	var payload []byte
	for _, v := range values {
		payload = append(payload, v[:unit]...)
	}
	return &fixedSetAttr{code: code, unit: unit, payload: payload}
}

func parseFixedSetAttr(code Code, unit int, payload []byte) (Attribute, error) {
	if len(payload)%unit != 0 {
		return nil, fmt.Errorf("attribute: %s length %d", code, len(payload))
	}
	return &fixedSetAttr{code: code, unit: unit, payload: payload}, nil
}

func NewExtCommunities(values [][]byte) Attribute {
	return newFixedSetAttr(CodeExtCommunities, 8, values)
}

func NewLargeCommunities(values [][]byte) Attribute {
	return newFixedSetAttr(CodeLargeCommunities, 12, values)
}

func (f *fixedSetAttr) Code() Code      { return f.code }
func (f *fixedSetAttr) Flags() Flags    { return f.code.WireFlags() }
func (f *fixedSetAttr) Payload() []byte { return f.payload }

// Units returns the member values.
func (f *fixedSetAttr) Units() [][]byte {
	out := make([][]byte, 0, len(f.payload)/f.unit)
	for i := 0; i < len(f.payload); i += f.unit {
		out = append(out, f.payload[i:i+f.unit])
	}
	return out
}

func (f *fixedSetAttr) String() string {
	parts := make([]string, 0, len(f.payload)/f.unit)
	for _, u := range f.Units() {
		switch f.code {
		case CodeExtCommunities:
			parts = append(parts, extCommunityString(u))
		case CodeLargeCommunities:
			parts = append(parts, fmt.Sprintf("%d:%d:%d",
				binary.BigEndian.Uint32(u[0:4]),
				binary.BigEndian.Uint32(u[4:8]),
				binary.BigEndian.Uint32(u[8:12])))
		default:
			parts = append(parts, fmt.Sprintf("%x", u))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (f *fixedSetAttr) merge(o *fixedSetAttr) *fixedSetAttr {
	seen := make(map[string]bool)
	var payload []byte
	add := func(src []byte) {
		for i := 0; i < len(src); i += f.unit {
			u := src[i : i+f.unit]
			if !seen[string(u)] {
				seen[string(u)] = true
				payload = append(payload, u...)
			}
		}
	}
	add(f.payload)
	add(o.payload)
	return &fixedSetAttr{code: f.code, unit: f.unit, payload: payload}
}

// extCommunityString renders route-target and origin extended communities
// the way operators write them; anything else falls back to hex.
func extCommunityString(u []byte) string {
	sub := u[1]
	switch u[0] & 0x3F {
	case 0x00: // 2-octet AS specific
		asn := binary.BigEndian.Uint16(u[2:4])
		val := binary.BigEndian.Uint32(u[4:8])
		switch sub {
		case 0x02:
			return fmt.Sprintf("target:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("origin:%d:%d", asn, val)
		}
	case 0x01: // IPv4 address specific
		ip := netip.AddrFrom4([4]byte(u[2:6]))
		val := binary.BigEndian.Uint16(u[6:8])
		switch sub {
		case 0x02:
			return fmt.Sprintf("target:%s:%d", ip, val)
		case 0x03:
			return fmt.Sprintf("origin:%s:%d", ip, val)
		}
	case 0x02: // 4-octet AS specific
		asn := binary.BigEndian.Uint32(u[2:6])
		val := binary.BigEndian.Uint16(u[6:8])
		switch sub {
		case 0x02:
			return fmt.Sprintf("target:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("origin:%d:%d", asn, val)
		}
	}
	return fmt.Sprintf("%x", u)
}

// RouteTargets extracts the route-target members of an extended community
// attribute, for RTC matching.
func RouteTargets(a Attribute) [][]byte {
	f, ok := a.(*fixedSetAttr)
	if !ok || f.code != CodeExtCommunities {
		return nil
	}
	var out [][]byte
	for _, u := range f.Units() {
		if u[1] == 0x02 {
			out = append(out, u)
		}
	}
	return out
}

// AIGP is attribute 26: a TLV list where type 1 carries the 8-byte metric.
type AIGP struct {
	payload []byte
	Metric  uint64
}

func NewAIGP(metric uint64) *AIGP {
	payload := []byte{1, 0, 11}
	payload = binary.BigEndian.AppendUint64(payload, metric)
	return &AIGP{payload: payload, Metric: metric}
}

func parseAIGP(payload []byte) (Attribute, error) {
	a := &AIGP{payload: payload}
	for off := 0; off < len(payload); {
		if len(payload)-off < 3 {
			return nil, fmt.Errorf("attribute: aigp tlv truncated")
		}
		t := payload[off]
		l := int(binary.BigEndian.Uint16(payload[off+1 : off+3]))
		if l < 3 || off+l > len(payload) {
			return nil, fmt.Errorf("attribute: aigp tlv length %d", l)
		}
		if t == 1 {
			if l != 11 {
				return nil, fmt.Errorf("attribute: aigp metric length %d", l)
			}
			a.Metric = binary.BigEndian.Uint64(payload[off+3 : off+11])
		}
		off += l
	}
	return a, nil
}

func (a *AIGP) Code() Code      { return CodeAIGP }
func (a *AIGP) Flags() Flags    { return CodeAIGP.WireFlags() }
func (a *AIGP) Payload() []byte { return a.payload }
func (a *AIGP) String() string  { return fmt.Sprintf("%d", a.Metric) }

// Opaque backs the attributes whose value the core transports without
// interpreting: PMSI_TUNNEL, BGP-LS, BGP_PREFIX_SID.
type Opaque struct {
	code    Code
	payload []byte
}

func NewOpaque(code Code, payload []byte) *Opaque {
	return &Opaque{code: code, payload: payload}
}

func (o *Opaque) Code() Code      { return o.code }
func (o *Opaque) Flags() Flags    { return o.code.WireFlags() }
func (o *Opaque) Payload() []byte { return o.payload }
func (o *Opaque) String() string  { return fmt.Sprintf("0x%x", o.payload) }

// Unknown preserves an attribute the codec has no decoder for. Transitive
// ones are re-packed verbatim with the partial bit set; non-transitive
// ones never reach the collection (the parser drops them).
type Unknown struct {
	code    Code
	flags   Flags
	payload []byte
}

func NewUnknown(code Code, flags Flags, payload []byte) *Unknown {
	return &Unknown{code: code, flags: flags | FlagPartial, payload: payload}
}

func (u *Unknown) Code() Code      { return u.code }
func (u *Unknown) Flags() Flags    { return u.flags }
func (u *Unknown) Payload() []byte { return u.payload }
func (u *Unknown) String() string  { return fmt.Sprintf("0x%x", u.payload) }
