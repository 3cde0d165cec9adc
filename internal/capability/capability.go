package capability

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/exa-networks/exabgp/internal/family"
)

// Capability codes carried in OPEN (IANA registry subset this speaker
// implements).
type Code uint8

const (
	CodeMultiprotocol   Code = 1
	CodeRouteRefresh    Code = 2
	CodeExtendedNexthop Code = 5
	CodeExtendedMessage Code = 6
	CodeOperational     Code = 11
	CodeGracefulRestart Code = 64
	CodeAS4             Code = 65
	CodeAddPath         Code = 69
	CodeEnhancedRR      Code = 70
	CodeHostname        Code = 73
	CodeSoftwareVersion Code = 75
	CodeRouteRefreshOld Code = 128
	CodeLLGR            Code = 129
)

// AddPath directions per family, as declared in the capability.
type AddPathDirection uint8

const (
	AddPathNone    AddPathDirection = 0
	AddPathReceive AddPathDirection = 1
	AddPathSend    AddPathDirection = 2
	AddPathBoth    AddPathDirection = 3
)

// ENHPair is one Extended-Nexthop tuple: a family plus the next-hop AFI
// a speaker accepts for it.
type ENHPair struct {
	Family    family.Family
	NexthopAF family.AFI
}

// GRFamily is one graceful-restart family entry.
type GRFamily struct {
	Family family.Family
	Flags  uint8
}

// RawCap preserves a capability we do not model.
type RawCap struct {
	Code Code
	Data []byte
}

// Set is everything one side declared in its OPEN.
type Set struct {
	Families        []family.Family
	AS4             uint32 // ASN from the AS4 capability; OfferAS4 distinguishes 0
	OfferAS4        bool
	RouteRefresh    bool
	RouteRefreshOld bool
	EnhancedRR      bool
	ExtendedMessage bool
	Operational     bool
	ExtendedNexthop []ENHPair
	AddPath         map[family.Family]AddPathDirection
	RestartTime     uint16
	RestartFlags    uint8
	GRFamilies      []GRFamily
	OfferGR         bool
	LLGR            []byte
	OfferLLGR       bool
	Hostname        string
	Domain          string
	SoftwareVersion string
	Unknown         []RawCap
}

func (s *Set) HasFamily(f family.Family) bool {
	for _, have := range s.Families {
		if have == f {
			return true
		}
	}
	return false
}

// Pack serializes the set as a capability byte sequence (CODE, LEN,
// VALUE triples), ready to wrap into Type-2 optional parameters.
func (s *Set) Pack() []byte {
	var out []byte
	add := func(code Code, value []byte) {
		out = append(out, byte(code), byte(len(value)))
		out = append(out, value...)
	}

	fams := append([]family.Family(nil), s.Families...)
	family.Sort(fams)
	for _, f := range fams {
		v := binary.BigEndian.AppendUint16(nil, uint16(f.AFI))
		v = append(v, 0, byte(f.SAFI))
		add(CodeMultiprotocol, v)
	}
	if s.RouteRefresh {
		add(CodeRouteRefresh, nil)
	}
	if len(s.ExtendedNexthop) > 0 {
		var v []byte
		for _, p := range s.ExtendedNexthop {
			v = binary.BigEndian.AppendUint16(v, uint16(p.Family.AFI))
			v = binary.BigEndian.AppendUint16(v, uint16(p.Family.SAFI))
			v = binary.BigEndian.AppendUint16(v, uint16(p.NexthopAF))
		}
		add(CodeExtendedNexthop, v)
	}
	if s.ExtendedMessage {
		add(CodeExtendedMessage, nil)
	}
	if s.Operational {
		add(CodeOperational, nil)
	}
	if s.OfferGR {
		v := binary.BigEndian.AppendUint16(nil, s.RestartTime&0x0FFF|uint16(s.RestartFlags)<<12)
		for _, g := range s.GRFamilies {
			v = binary.BigEndian.AppendUint16(v, uint16(g.Family.AFI))
			v = append(v, byte(g.Family.SAFI), g.Flags)
		}
		add(CodeGracefulRestart, v)
	}
	if s.OfferAS4 {
		add(CodeAS4, binary.BigEndian.AppendUint32(nil, s.AS4))
	}
	if len(s.AddPath) > 0 {
		fams := make([]family.Family, 0, len(s.AddPath))
		for f := range s.AddPath {
			fams = append(fams, f)
		}
		family.Sort(fams)
		var v []byte
		for _, f := range fams {
			v = binary.BigEndian.AppendUint16(v, uint16(f.AFI))
			v = append(v, byte(f.SAFI), byte(s.AddPath[f]))
		}
		add(CodeAddPath, v)
	}
	if s.EnhancedRR {
		add(CodeEnhancedRR, nil)
	}
	if s.Hostname != "" {
		v := []byte{byte(len(s.Hostname))}
		v = append(v, s.Hostname...)
		v = append(v, byte(len(s.Domain)))
		v = append(v, s.Domain...)
		add(CodeHostname, v)
	}
	if s.SoftwareVersion != "" {
		v := []byte{byte(len(s.SoftwareVersion))}
		v = append(v, s.SoftwareVersion...)
		add(CodeSoftwareVersion, v)
	}
	if s.RouteRefreshOld {
		add(CodeRouteRefreshOld, nil)
	}
	if s.OfferLLGR {
		add(CodeLLGR, s.LLGR)
	}
	for _, u := range s.Unknown {
		add(u.Code, u.Data)
	}
	return out
}

// Parse decodes a merged capability byte sequence. Unknown capabilities
// are recorded, never fatal.
func Parse(data []byte) (*Set, error) {
	s := &Set{AddPath: make(map[family.Family]AddPathDirection)}
	for off := 0; off < len(data); {
		if len(data)-off < 2 {
			return nil, fmt.Errorf("capability: truncated header")
		}
		code := Code(data[off])
		length := int(data[off+1])
		off += 2
		if len(data)-off < length {
			return nil, fmt.Errorf("capability: %d truncated (need %d)", code, length)
		}
		value := data[off : off+length]
		off += length

		switch code {
		case CodeMultiprotocol:
			if length != 4 {
				return nil, fmt.Errorf("capability: multiprotocol length %d", length)
			}
			f := family.Family{
				AFI:  family.AFI(binary.BigEndian.Uint16(value[0:2])),
				SAFI: family.SAFI(value[3]),
			}
			if !s.HasFamily(f) {
				s.Families = append(s.Families, f)
			}
		case CodeRouteRefresh:
			s.RouteRefresh = true
		case CodeRouteRefreshOld:
			s.RouteRefreshOld = true
		case CodeEnhancedRR:
			s.EnhancedRR = true
		case CodeExtendedMessage:
			s.ExtendedMessage = true
		case CodeOperational:
			s.Operational = true
		case CodeAS4:
			if length != 4 {
				return nil, fmt.Errorf("capability: as4 length %d", length)
			}
			s.AS4 = binary.BigEndian.Uint32(value)
			s.OfferAS4 = true
		case CodeAddPath:
			if length%4 != 0 {
				return nil, fmt.Errorf("capability: add-path length %d", length)
			}
			for i := 0; i < length; i += 4 {
				f := family.Family{
					AFI:  family.AFI(binary.BigEndian.Uint16(value[i : i+2])),
					SAFI: family.SAFI(value[i+2]),
				}
				s.AddPath[f] = AddPathDirection(value[i+3] & 0x03)
			}
		case CodeExtendedNexthop:
			if length%6 != 0 {
				return nil, fmt.Errorf("capability: extended-nexthop length %d", length)
			}
			for i := 0; i < length; i += 6 {
				s.ExtendedNexthop = append(s.ExtendedNexthop, ENHPair{
					Family: family.Family{
						AFI:  family.AFI(binary.BigEndian.Uint16(value[i : i+2])),
						SAFI: family.SAFI(binary.BigEndian.Uint16(value[i+2 : i+4])),
					},
					NexthopAF: family.AFI(binary.BigEndian.Uint16(value[i+4 : i+6])),
				})
			}
		case CodeGracefulRestart:
			if length < 2 {
				return nil, fmt.Errorf("capability: graceful-restart length %d", length)
			}
			hdr := binary.BigEndian.Uint16(value[0:2])
			s.RestartFlags = uint8(hdr >> 12)
			s.RestartTime = hdr & 0x0FFF
			s.OfferGR = true
			for i := 2; i+4 <= length; i += 4 {
				s.GRFamilies = append(s.GRFamilies, GRFamily{
					Family: family.Family{
						AFI:  family.AFI(binary.BigEndian.Uint16(value[i : i+2])),
						SAFI: family.SAFI(value[i+2]),
					},
					Flags: value[i+3],
				})
			}
		case CodeLLGR:
			s.LLGR = append([]byte(nil), value...)
			s.OfferLLGR = true
		case CodeHostname:
			if length < 1 {
				break
			}
			hl := int(value[0])
			if 1+hl > length {
				break
			}
			s.Hostname = string(value[1 : 1+hl])
			if 1+hl < length {
				dl := int(value[1+hl])
				if 2+hl+dl <= length {
					s.Domain = string(value[2+hl : 2+hl+dl])
				}
			}
		case CodeSoftwareVersion:
			if length >= 1 && 1+int(value[0]) <= length {
				s.SoftwareVersion = string(value[1 : 1+int(value[0])])
			}
		default:
			s.Unknown = append(s.Unknown, RawCap{Code: code, Data: append([]byte(nil), value...)})
		}
	}
	return s, nil
}

func (s *Set) String() string {
	var parts []string
	for _, f := range s.Families {
		parts = append(parts, f.String())
	}
	if s.OfferAS4 {
		parts = append(parts, fmt.Sprintf("asn4:%d", s.AS4))
	}
	if s.RouteRefresh || s.RouteRefreshOld {
		parts = append(parts, "route-refresh")
	}
	if s.EnhancedRR {
		parts = append(parts, "enhanced-route-refresh")
	}
	if s.ExtendedMessage {
		parts = append(parts, "extended-message")
	}
	return strings.Join(parts, ", ")
}
