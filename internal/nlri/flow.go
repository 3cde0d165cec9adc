package nlri

import (
	"fmt"
	"sort"
	"strings"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// FlowSpec component types (RFC 8955 / 8956).
const (
	FlowDstPrefix  uint8 = 1
	FlowSrcPrefix  uint8 = 2
	FlowIPProto    uint8 = 3
	FlowAnyPort    uint8 = 4
	FlowDstPort    uint8 = 5
	FlowSrcPort    uint8 = 6
	FlowICMPType   uint8 = 7
	FlowICMPCode   uint8 = 8
	FlowTCPFlags   uint8 = 9
	FlowPacketLen  uint8 = 10
	FlowDSCP       uint8 = 11
	FlowFragment   uint8 = 12
	FlowLabel      uint8 = 13
)

// FlowComponent is one (type, encoded operator/value bytes) pair. The
// operator stream is kept verbatim; only the end-of-list bit drives
// consumption.
type FlowComponent struct {
	Type  uint8
	Value []byte
}

// Flow is a FlowSpec rule for one of the four flow families. VPN variants
// carry a route distinguisher ahead of the components.
type Flow struct {
	base
	fam        family.Family
	RD         wire.RD
	Components []FlowComponent
}

func NewFlow(f family.Family, rd wire.RD, comps []FlowComponent) *Flow {
	return &Flow{fam: f, RD: rd, Components: comps}
}

func parseFlow(f family.Family, data []byte) (NLRI, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("nlri: flow: truncated")
	}
	// Length is one byte below 240, else a 2-byte big-endian value with
	// the top nibble 0xF.
	var length, consumed int
	if data[0] < 0xF0 {
		length = int(data[0])
		consumed = 1
	} else {
		if len(data) < 2 {
			return nil, 0, fmt.Errorf("nlri: flow: extended length truncated")
		}
		length = int(data[0]&0x0F)<<8 | int(data[1])
		consumed = 2
	}
	if len(data) < consumed+length {
		return nil, 0, fmt.Errorf("nlri: flow: body truncated (need %d)", length)
	}
	body := data[consumed : consumed+length]
	fl := &Flow{fam: f}

	if f.SAFI == family.SAFIFlowVPN {
		rd, err := wire.ParseRD(body)
		if err != nil {
			return nil, 0, fmt.Errorf("nlri: flow-vpn: %w", err)
		}
		fl.RD = rd
		body = body[8:]
	}

	for len(body) > 0 {
		t := body[0]
		vlen, err := flowComponentLen(f, t, body[1:])
		if err != nil {
			return nil, 0, err
		}
		fl.Components = append(fl.Components, FlowComponent{
			Type:  t,
			Value: append([]byte(nil), body[1:1+vlen]...),
		})
		body = body[1+vlen:]
	}
	return fl, consumed + length, nil
}

// flowComponentLen computes the encoded size of one component value.
func flowComponentLen(f family.Family, t uint8, data []byte) (int, error) {
	switch t {
	case FlowDstPrefix, FlowSrcPrefix:
		if len(data) < 1 {
			return 0, fmt.Errorf("nlri: flow: prefix component truncated")
		}
		if f.AFI == family.AFIIPv6 {
			// RFC 8956: length, offset, then the pattern bytes.
			if len(data) < 2 {
				return 0, fmt.Errorf("nlri: flow: v6 prefix component truncated")
			}
			bits := int(data[0]) - int(data[1])
			if bits < 0 {
				return 0, fmt.Errorf("nlri: flow: v6 prefix offset beyond length")
			}
			n := 2 + (bits+7)/8
			if len(data) < n {
				return 0, fmt.Errorf("nlri: flow: v6 prefix pattern truncated")
			}
			return n, nil
		}
		n := 1 + (int(data[0])+7)/8
		if len(data) < n {
			return 0, fmt.Errorf("nlri: flow: prefix pattern truncated")
		}
		return n, nil
	default:
		// Numeric / bitmask operator stream: each op byte encodes the
		// value length in bits 4-5 and end-of-list in bit 7.
		off := 0
		for {
			if off >= len(data) {
				return 0, fmt.Errorf("nlri: flow: operator stream truncated")
			}
			op := data[off]
			vlen := 1 << ((op >> 4) & 0x03)
			off += 1 + vlen
			if off > len(data) {
				return 0, fmt.Errorf("nlri: flow: operator value truncated")
			}
			if op&0x80 != 0 { // end-of-list
				return off, nil
			}
		}
	}
}

func (fl *Flow) Family() family.Family { return fl.fam }

func (fl *Flow) packBody(dst []byte) []byte {
	if fl.fam.SAFI == family.SAFIFlowVPN {
		dst = fl.RD.Pack(dst)
	}
	for _, c := range fl.Components {
		dst = append(dst, c.Type)
		dst = append(dst, c.Value...)
	}
	return dst
}

func (fl *Flow) Pack(dst []byte) []byte {
	body := fl.packBody(nil)
	if len(body) < 0xF0 {
		dst = append(dst, byte(len(body)))
	} else {
		dst = append(dst, 0xF0|byte(len(body)>>8), byte(len(body)))
	}
	return append(dst, body...)
}

// Index is the canonical sorted-by-type component sequence, so rules that
// list the same components in a different order replace each other.
func (fl *Flow) Index() string {
	comps := make([]FlowComponent, len(fl.Components))
	copy(comps, fl.Components)
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Type < comps[j].Type })
	idx := fl.pathID.Pack(nil)
	idx = fl.RD.Pack(idx)
	for _, c := range comps {
		idx = append(idx, c.Type)
		idx = append(idx, c.Value...)
	}
	return string(idx)
}

func (fl *Flow) String() string {
	parts := make([]string, 0, len(fl.Components)+1)
	if !fl.RD.IsZero() {
		parts = append(parts, "rd "+fl.RD.String())
	}
	for _, c := range fl.Components {
		parts = append(parts, fmt.Sprintf("type-%d %x", c.Type, c.Value))
	}
	return "flow " + strings.Join(parts, " ")
}

// NumericOp builds a single end-of-list numeric operator + value pair for
// API-originated rules (ports, protocols).
func NumericOp(value uint16) []byte {
	if value <= 0xFF {
		return []byte{0x81, byte(value)} // end-of-list | eq, 1 byte
	}
	return []byte{0x91, byte(value >> 8), byte(value)} // end-of-list | eq, 2 bytes
}

// PrefixComponent encodes a destination/source prefix component value.
func PrefixComponent(p wire.Prefix) []byte {
	return p.Pack(nil)
}
