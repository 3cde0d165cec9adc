package nlri

import (
	"fmt"
	"net/netip"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Action marks an NLRI as an announcement or a withdrawal.
type Action uint8

const (
	Announce Action = iota
	Withdraw
)

func (a Action) String() string {
	if a == Withdraw {
		return "withdraw"
	}
	return "announce"
}

// NLRI is one route key. Pack produces the wire bytes excluding the
// optional ADD-PATH identifier; Index is a byte string unique within the
// family, used by the Adj-RIB-Out for deduplication.
type NLRI interface {
	Family() family.Family
	Pack(dst []byte) []byte
	Index() string
	Action() Action
	SetAction(Action)
	PathID() wire.PathID
	SetPathID(wire.PathID)
	NextHop() netip.Addr
	SetNextHop(netip.Addr)
	String() string
}

// base carries the fields every variant shares. The next-hop is only
// meaningful for families whose next-hop travels at the MP_REACH level.
type base struct {
	action  Action
	pathID  wire.PathID
	nexthop netip.Addr
}

func (b *base) Action() Action            { return b.action }
func (b *base) SetAction(a Action)        { b.action = a }
func (b *base) PathID() wire.PathID       { return b.pathID }
func (b *base) SetPathID(p wire.PathID)   { b.pathID = p }
func (b *base) NextHop() netip.Addr       { return b.nexthop }
func (b *base) SetNextHop(nh netip.Addr)  { b.nexthop = nh }

func indexPrefix(dst []byte, pathID wire.PathID, p wire.Prefix) []byte {
	dst = pathID.Pack(dst)
	return p.Pack(dst)
}

// parseOne decodes a single NLRI of the given family, returning the value
// and the bytes consumed. addPath states whether a 4-byte path identifier
// precedes the NLRI for this family and direction.
func parseOne(f family.Family, data []byte, addPath bool, action Action) (NLRI, int, error) {
	var pathID wire.PathID
	consumed := 0
	if addPath {
		id, n, err := wire.ParsePathID(data)
		if err != nil {
			return nil, 0, err
		}
		pathID, consumed = id, n
		data = data[n:]
	}

	var (
		n   NLRI
		sz  int
		err error
	)
	switch {
	case f.SAFI == family.SAFIUnicast && (f.AFI == family.AFIIPv4 || f.AFI == family.AFIIPv6),
		f.SAFI == family.SAFIMulticast && (f.AFI == family.AFIIPv4 || f.AFI == family.AFIIPv6):
		n, sz, err = parseUnicast(f, data)
	case f.SAFI == family.SAFILabeled:
		n, sz, err = parseLabeled(f, data, action)
	case f.SAFI == family.SAFIMPLSVPN:
		n, sz, err = parseVPN(f, data, action)
	case f == family.L2VPNVPLS:
		n, sz, err = parseVPLS(data)
	case f == family.L2VPNEVPN:
		n, sz, err = parseEVPN(data)
	case f.SAFI == family.SAFIFlowIP || f.SAFI == family.SAFIFlowVPN:
		n, sz, err = parseFlow(f, data)
	case f.SAFI == family.SAFIMcastVPN:
		n, sz, err = parseMcastVPN(f, data)
	case f.AFI == family.AFIBGPLS:
		n, sz, err = parseBGPLS(f, data)
	case f == family.IPv4RTC:
		n, sz, err = parseRTC(data)
	case f.SAFI == family.SAFIMUP:
		n, sz, err = parseMUP(f, data)
	default:
		return nil, 0, fmt.Errorf("nlri: unsupported family %s", f)
	}
	if err != nil {
		return nil, 0, err
	}
	n.SetPathID(pathID)
	n.SetAction(action)
	return n, consumed + sz, nil
}

// ParseSection decodes a whole NLRI byte section for one family.
func ParseSection(f family.Family, data []byte, addPath bool, action Action) ([]NLRI, error) {
	var out []NLRI
	for len(data) > 0 {
		n, sz, err := parseOne(f, data, addPath, action)
		if err != nil {
			return out, err
		}
		out = append(out, n)
		data = data[sz:]
	}
	return out, nil
}

// PackOne appends one NLRI, prefixing the path identifier when ADD-PATH is
// in effect for the family.
func PackOne(dst []byte, n NLRI, addPath bool) []byte {
	if addPath {
		dst = n.PathID().Pack(dst)
	}
	return n.Pack(dst)
}

// PackedLen is the on-wire size of one NLRI including any path identifier.
func PackedLen(n NLRI, addPath bool) int {
	l := len(n.Pack(nil))
	if addPath {
		l += 4
	}
	return l
}
