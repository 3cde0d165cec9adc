package attribute

import (
	"encoding/binary"
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/nlri"
	"github.com/exa-networks/exabgp/internal/wire"
)

// MPReach is attribute 14: AFI, SAFI, next-hop, reserved byte, NLRIs.
type MPReach struct {
	payload []byte
	Family  family.Family
	NextHop []byte
	NLRIs   []nlri.NLRI
}

// NewMPReach builds the attribute from announce NLRIs sharing a next-hop.
func NewMPReach(f family.Family, nexthop []byte, ns []nlri.NLRI, addPath bool) *MPReach {
	payload := binary.BigEndian.AppendUint16(nil, uint16(f.AFI))
	payload = append(payload, byte(f.SAFI), byte(len(nexthop)))
	payload = append(payload, nexthop...)
	payload = append(payload, 0) // reserved / SNPA count
	for _, n := range ns {
		payload = nlri.PackOne(payload, n, addPath)
	}
	return &MPReach{payload: payload, Family: f, NextHop: nexthop, NLRIs: ns}
}

func parseMPReach(payload []byte, addPath func(family.Family) bool) (Attribute, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("attribute: mp-reach-nlri truncated")
	}
	f := family.Family{
		AFI:  family.AFI(binary.BigEndian.Uint16(payload[0:2])),
		SAFI: family.SAFI(payload[2]),
	}
	nhLen := int(payload[3])
	if len(payload) < 4+nhLen+1 {
		return nil, fmt.Errorf("attribute: mp-reach-nlri next-hop truncated")
	}
	nexthop := payload[4 : 4+nhLen]
	off := 4 + nhLen + 1 // skip the reserved byte
	ns, err := nlri.ParseSection(f, payload[off:], addPath(f), nlri.Announce)
	if err != nil {
		return nil, err
	}
	if nh, err := wire.ParseNextHop(nexthop); err == nil {
		for _, n := range ns {
			n.SetNextHop(nh)
		}
	}
	return &MPReach{payload: payload, Family: f, NextHop: nexthop, NLRIs: ns}, nil
}

func (m *MPReach) Code() Code      { return CodeMPReach }
func (m *MPReach) Flags() Flags    { return CodeMPReach.WireFlags() }
func (m *MPReach) Payload() []byte { return m.payload }
func (m *MPReach) String() string {
	return fmt.Sprintf("%s next-hop %x %d nlri", m.Family, m.NextHop, len(m.NLRIs))
}

// MPUnreach is attribute 15: AFI, SAFI, withdrawn NLRIs. An empty NLRI
// section is the End-of-RIB marker for the family.
type MPUnreach struct {
	payload []byte
	Family  family.Family
	NLRIs   []nlri.NLRI
}

func NewMPUnreach(f family.Family, ns []nlri.NLRI, addPath bool) *MPUnreach {
	payload := binary.BigEndian.AppendUint16(nil, uint16(f.AFI))
	payload = append(payload, byte(f.SAFI))
	for _, n := range ns {
		payload = nlri.PackOne(payload, n, addPath)
	}
	return &MPUnreach{payload: payload, Family: f, NLRIs: ns}
}

func parseMPUnreach(payload []byte, addPath func(family.Family) bool) (Attribute, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("attribute: mp-unreach-nlri truncated")
	}
	f := family.Family{
		AFI:  family.AFI(binary.BigEndian.Uint16(payload[0:2])),
		SAFI: family.SAFI(payload[2]),
	}
	ns, err := nlri.ParseSection(f, payload[3:], addPath(f), nlri.Withdraw)
	if err != nil {
		return nil, err
	}
	return &MPUnreach{payload: payload, Family: f, NLRIs: ns}, nil
}

func (m *MPUnreach) Code() Code      { return CodeMPUnreach }
func (m *MPUnreach) Flags() Flags    { return CodeMPUnreach.WireFlags() }
func (m *MPUnreach) Payload() []byte { return m.payload }
func (m *MPUnreach) String() string {
	return fmt.Sprintf("%s %d withdrawn", m.Family, len(m.NLRIs))
}
