package message

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Version is the only BGP version this speaker talks.
const Version = 4

const capabilityParameter = 2 // RFC 5492 optional parameter type

// Open is the OPEN message. MyAS is the 2-byte header field: AS_TRANS
// when the real ASN needs four octets; the AS4 capability carries the
// full value.
type Open struct {
	Version  uint8
	MyAS     uint16
	ASN      uint32
	HoldTime uint16
	RouterID netip.Addr
	Caps     *capability.Set
}

// NewOpen builds the local OPEN for a session offer.
func NewOpen(asn uint32, holdTime uint16, routerID netip.Addr, caps *capability.Set) *Open {
	myAS := uint16(asn)
	if asn > 0xFFFF {
		myAS = attribute.ASTrans
	}
	return &Open{
		Version:  Version,
		MyAS:     myAS,
		ASN:      asn,
		HoldTime: holdTime,
		RouterID: routerID,
		Caps:     caps,
	}
}

// Body serializes the OPEN. Optional parameters switch to the RFC 9072
// extended encoding when they exceed the one-byte length.
func (o *Open) Body() []byte {
	body := []byte{o.Version}
	body = binary.BigEndian.AppendUint16(body, o.MyAS)
	body = binary.BigEndian.AppendUint16(body, o.HoldTime)
	id := o.RouterID.As4()
	body = append(body, id[:]...)

	var params []byte
	if o.Caps != nil {
		capBytes := o.Caps.Pack()
		if len(capBytes) > 0 {
			if len(capBytes) > 255 {
				// Extended optional parameters: one Type-2 parameter with a
				// 2-byte length.
				params = append(params, capabilityParameter)
				params = binary.BigEndian.AppendUint16(params, uint16(len(capBytes)))
				params = append(params, capBytes...)
				body = append(body, 255, 255)
				body = binary.BigEndian.AppendUint16(body, uint16(len(params)))
				return append(body, params...)
			}
			params = append(params, capabilityParameter, byte(len(capBytes)))
			params = append(params, capBytes...)
		}
	}
	body = append(body, byte(len(params)))
	return append(body, params...)
}

func (o *Open) Frame() []byte { return Pack(TypeOpen, o.Body()) }

// ParseOpen decodes an OPEN body, handling RFC 9072 extended optional
// parameter lengths and merging consecutive Type-2 parameters (RFC 5492).
func ParseOpen(body []byte) (*Open, *wire.Notify) {
	if len(body) < 10 {
		return nil, wire.NewNotify(wire.NotifyHeaderError, wire.HeaderBadLength)
	}
	o := &Open{
		Version:  body[0],
		MyAS:     binary.BigEndian.Uint16(body[1:3]),
		HoldTime: binary.BigEndian.Uint16(body[3:5]),
		RouterID: netip.AddrFrom4([4]byte(body[5:9])),
	}
	if o.Version != Version {
		return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedVersion, 0, Version)
	}
	o.ASN = uint32(o.MyAS)

	paramLen := int(body[9])
	params := body[10:]
	extended := false
	if paramLen == 255 {
		// RFC 9072: the 255 marker, then a 2-byte parameter-section
		// length; parameter lengths widen to 2 bytes as well.
		if len(params) >= 3 && params[0] == 255 {
			paramLen = int(binary.BigEndian.Uint16(params[1:3]))
			params = params[3:]
			extended = true
		}
	}
	if paramLen != len(params) {
		return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedParam)
	}

	// Merge every Type-2 parameter's capability bytes before decoding.
	var capBytes []byte
	for off := 0; off < len(params); {
		hdr := 2
		if extended {
			hdr = 3
		}
		if len(params)-off < hdr {
			return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedParam)
		}
		pType := params[off]
		var pLen int
		if extended {
			pLen = int(binary.BigEndian.Uint16(params[off+1 : off+3]))
		} else {
			pLen = int(params[off+1])
		}
		off += hdr
		if len(params)-off < pLen {
			return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedParam)
		}
		if pType != capabilityParameter {
			return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedParam, pType)
		}
		capBytes = append(capBytes, params[off:off+pLen]...)
		off += pLen
	}

	caps, err := capability.Parse(capBytes)
	if err != nil {
		return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedCap)
	}
	o.Caps = caps
	if caps.OfferAS4 {
		o.ASN = caps.AS4
	}
	return o, nil
}

func (o *Open) String() string {
	return fmt.Sprintf("open version %d asn %d hold-time %d router-id %s",
		o.Version, o.ASN, o.HoldTime, o.RouterID)
}
