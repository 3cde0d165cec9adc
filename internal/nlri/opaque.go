package nlri

import (
	"encoding/binary"
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
)

// MCAST-VPN route types (RFC 6514).
const (
	McastVPNIntraPMSI     uint8 = 1
	McastVPNSPMSI         uint8 = 3
	McastVPNSourceActive  uint8 = 5
	McastVPNSharedJoin    uint8 = 6
	McastVPNSourceJoin    uint8 = 7
)

// McastVPN is the MCAST-VPN NLRI: TYPE(1) | LEN(1) | VALUE, with the
// value kept verbatim and used whole as the index.
type McastVPN struct {
	base
	fam   family.Family
	Type  uint8
	Value []byte
}

func parseMcastVPN(f family.Family, data []byte) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("nlri: mcast-vpn: truncated")
	}
	t := data[0]
	length := int(data[1])
	if len(data) < 2+length {
		return nil, 0, fmt.Errorf("nlri: mcast-vpn: body truncated (type %d)", t)
	}
	switch t {
	case McastVPNIntraPMSI, McastVPNSPMSI, McastVPNSourceActive, McastVPNSharedJoin, McastVPNSourceJoin:
	default:
		return nil, 0, fmt.Errorf("nlri: mcast-vpn: unknown route type %d", t)
	}
	return &McastVPN{fam: f, Type: t, Value: append([]byte(nil), data[2:2+length]...)}, 2 + length, nil
}

func (m *McastVPN) Family() family.Family { return m.fam }

func (m *McastVPN) Pack(dst []byte) []byte {
	dst = append(dst, m.Type, byte(len(m.Value)))
	return append(dst, m.Value...)
}

func (m *McastVPN) Index() string {
	idx := m.pathID.Pack(nil)
	idx = append(idx, m.Type)
	return string(append(idx, m.Value...))
}

func (m *McastVPN) String() string {
	return fmt.Sprintf("mcast-vpn:%d:%x", m.Type, m.Value)
}

// BGP-LS NLRI types (RFC 7752 / 9514).
const (
	LSNode     uint16 = 1
	LSLink     uint16 = 2
	LSPrefixV4 uint16 = 3
	LSPrefixV6 uint16 = 4
	LSSRv6SID  uint16 = 6
)

// LinkState is the BGP-LS NLRI: TYPE(2) | TOTAL_LEN(2) | VALUE. The value
// is an opaque descriptor TLV block; it re-packs byte-identically and is
// the index in full.
type LinkState struct {
	base
	fam   family.Family
	Type  uint16
	Value []byte
}

func parseBGPLS(f family.Family, data []byte) (NLRI, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("nlri: bgp-ls: truncated")
	}
	t := binary.BigEndian.Uint16(data[0:2])
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < 4+length {
		return nil, 0, fmt.Errorf("nlri: bgp-ls: body truncated (type %d)", t)
	}
	switch t {
	case LSNode, LSLink, LSPrefixV4, LSPrefixV6, LSSRv6SID:
	default:
		return nil, 0, fmt.Errorf("nlri: bgp-ls: unknown nlri type %d", t)
	}
	return &LinkState{fam: f, Type: t, Value: append([]byte(nil), data[4:4+length]...)}, 4 + length, nil
}

func (l *LinkState) Family() family.Family { return l.fam }

func (l *LinkState) Pack(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, l.Type)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(l.Value)))
	return append(dst, l.Value...)
}

func (l *LinkState) Index() string {
	idx := l.pathID.Pack(nil)
	idx = binary.BigEndian.AppendUint16(idx, l.Type)
	return string(append(idx, l.Value...))
}

func (l *LinkState) String() string {
	return fmt.Sprintf("bgp-ls:%d:%x", l.Type, l.Value)
}

// RTC is the route-target constraint NLRI (RFC 4684): a bit length over
// origin-AS(4) + route-target(8). Zero length is the default rule.
type RTC struct {
	base
	Bits     int
	OriginAS uint32
	Target   [8]byte
}

func NewRTC(originAS uint32, target [8]byte) *RTC {
	return &RTC{Bits: 96, OriginAS: originAS, Target: target}
}

func parseRTC(data []byte) (NLRI, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("nlri: rtc: truncated")
	}
	bits := int(data[0])
	if bits > 96 || (bits != 0 && bits < 32) {
		return nil, 0, fmt.Errorf("nlri: rtc: bad length %d", bits)
	}
	byteLen := (bits + 7) / 8
	if len(data) < 1+byteLen {
		return nil, 0, fmt.Errorf("nlri: rtc: body truncated")
	}
	r := &RTC{Bits: bits}
	if bits >= 32 {
		r.OriginAS = binary.BigEndian.Uint32(data[1:5])
		copy(r.Target[:], data[5:1+byteLen])
	}
	return r, 1 + byteLen, nil
}

func (r *RTC) Family() family.Family { return family.IPv4RTC }

func (r *RTC) Pack(dst []byte) []byte {
	dst = append(dst, byte(r.Bits))
	if r.Bits == 0 {
		return dst
	}
	dst = binary.BigEndian.AppendUint32(dst, r.OriginAS)
	byteLen := (r.Bits + 7) / 8
	return append(dst, r.Target[:byteLen-4]...)
}

func (r *RTC) Index() string {
	return string(r.Pack(r.pathID.Pack(nil)))
}

func (r *RTC) String() string {
	if r.Bits == 0 {
		return "rtc:default"
	}
	return fmt.Sprintf("rtc:%d:%x", r.OriginAS, r.Target)
}

// MUP is the BGP Mobile User Plane NLRI: arch-type(1) | route-type(2) |
// len(1) | value, kept opaque past the header.
type MUP struct {
	base
	fam       family.Family
	ArchType  uint8
	RouteType uint16
	Value     []byte
}

func parseMUP(f family.Family, data []byte) (NLRI, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("nlri: mup: truncated")
	}
	length := int(data[3])
	if len(data) < 4+length {
		return nil, 0, fmt.Errorf("nlri: mup: body truncated")
	}
	return &MUP{
		fam:       f,
		ArchType:  data[0],
		RouteType: binary.BigEndian.Uint16(data[1:3]),
		Value:     append([]byte(nil), data[4:4+length]...),
	}, 4 + length, nil
}

func (m *MUP) Family() family.Family { return m.fam }

func (m *MUP) Pack(dst []byte) []byte {
	dst = append(dst, m.ArchType)
	dst = binary.BigEndian.AppendUint16(dst, m.RouteType)
	dst = append(dst, byte(len(m.Value)))
	return append(dst, m.Value...)
}

func (m *MUP) Index() string {
	return string(m.Pack(m.pathID.Pack(nil)))
}

func (m *MUP) String() string {
	return fmt.Sprintf("mup:%d:%d:%x", m.ArchType, m.RouteType, m.Value)
}
