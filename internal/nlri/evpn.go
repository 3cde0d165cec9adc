package nlri

import (
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// EVPN route types (RFC 7432, RFC 9136).
const (
	EVPNEthernetAD    uint8 = 1
	EVPNMACAdvert     uint8 = 2
	EVPNMulticast     uint8 = 3
	EVPNEthernetSeg   uint8 = 4
	EVPNIPPrefix      uint8 = 5
)

// EVPN is the L2VPN EVPN NLRI: TYPE(1) | LEN(1) | VALUE. The raw value is
// kept for byte-faithful re-packing; the route-type-specific key fields
// are decoded for the index.
type EVPN struct {
	base
	Type  uint8
	Value []byte
}

func parseEVPN(data []byte) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("nlri: evpn: truncated")
	}
	t := data[0]
	length := int(data[1])
	if len(data) < 2+length {
		return nil, 0, fmt.Errorf("nlri: evpn: body truncated (type %d, need %d)", t, length)
	}
	e := &EVPN{Type: t, Value: append([]byte(nil), data[2:2+length]...)}
	if _, err := e.key(); err != nil {
		return nil, 0, err
	}
	return e, 2 + length, nil
}

func (e *EVPN) Family() family.Family { return family.L2VPNEVPN }

func (e *EVPN) Pack(dst []byte) []byte {
	dst = append(dst, e.Type, byte(len(e.Value)))
	return append(dst, e.Value...)
}

// key extracts the route-type-specific index fields. Labels (and for the
// MAC route the ESI) are excluded so a re-announcement with a different
// label replaces the previous route.
func (e *EVPN) key() ([]byte, error) {
	v := e.Value
	switch e.Type {
	case EVPNEthernetAD:
		// RD(8) ESI(10) ETag(4) Label(3); key = RD+ESI+ETag
		if len(v) < 22 {
			return nil, fmt.Errorf("nlri: evpn: ethernet-ad truncated")
		}
		return v[:22], nil
	case EVPNMACAdvert:
		// RD(8) ESI(10) ETag(4) MACLen(1) MAC(6) IPLen(1) IP(0/4/16) Labels
		if len(v) < 30 {
			return nil, fmt.Errorf("nlri: evpn: mac route truncated")
		}
		macLen := int(v[22])
		if macLen != 48 {
			return nil, fmt.Errorf("nlri: evpn: unsupported mac length %d", macLen)
		}
		ipLen := int(v[29]) / 8
		if len(v) < 30+ipLen {
			return nil, fmt.Errorf("nlri: evpn: mac route ip truncated")
		}
		key := make([]byte, 0, 8+4+7+1+ipLen)
		key = append(key, v[:8]...)         // RD
		key = append(key, v[18:29]...)      // ETag + MACLen + MAC
		key = append(key, v[29:30+ipLen]...) // IPLen + IP
		return key, nil
	case EVPNMulticast:
		// RD(8) ETag(4) IPLen(1) IP; whole value is the key
		if len(v) < 13 {
			return nil, fmt.Errorf("nlri: evpn: multicast route truncated")
		}
		return v, nil
	case EVPNEthernetSeg:
		// RD(8) ESI(10) IPLen(1) IP; whole value is the key
		if len(v) < 19 {
			return nil, fmt.Errorf("nlri: evpn: ethernet-segment truncated")
		}
		return v, nil
	case EVPNIPPrefix:
		// RD(8) ESI(10) ETag(4) PrefixLen(1) Prefix GW Label(3)
		if len(v) != 34 && len(v) != 58 {
			return nil, fmt.Errorf("nlri: evpn: ip-prefix bad length %d", len(v))
		}
		return v[:len(v)-3], nil
	}
	// Unknown type: the full value is the key.
	return v, nil
}

func (e *EVPN) Index() string {
	key, err := e.key()
	if err != nil {
		key = e.Value
	}
	idx := e.pathID.Pack(nil)
	idx = append(idx, e.Type)
	return string(append(idx, key...))
}

func (e *EVPN) RD() wire.RD {
	if len(e.Value) >= 8 {
		rd, _ := wire.ParseRD(e.Value[:8])
		return rd
	}
	return wire.RD{}
}

func (e *EVPN) String() string {
	name := "unknown"
	switch e.Type {
	case EVPNEthernetAD:
		name = "ethernet-ad"
	case EVPNMACAdvert:
		name = "mac"
	case EVPNMulticast:
		name = "multicast"
	case EVPNEthernetSeg:
		name = "ethernet-segment"
	case EVPNIPPrefix:
		name = "prefix"
	}
	return fmt.Sprintf("evpn:%s:%x", name, e.Value)
}
