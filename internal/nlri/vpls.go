package nlri

import (
	"encoding/binary"
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// VPLS is the fixed 19-byte L2VPN VPLS NLRI (RFC 4761): a 2-byte length
// of 17, the RD, the VE id, the label-block offset and size, and the
// 3-byte label base.
type VPLS struct {
	base
	RD        wire.RD
	VEID      uint16
	Offset    uint16
	Size      uint16
	LabelBase uint32
}

func parseVPLS(data []byte) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("nlri: vpls: truncated")
	}
	length := int(binary.BigEndian.Uint16(data[0:2]))
	if length != 17 {
		return nil, 0, fmt.Errorf("nlri: vpls: unexpected length %d", length)
	}
	if len(data) < 19 {
		return nil, 0, fmt.Errorf("nlri: vpls: body truncated")
	}
	rd, _ := wire.ParseRD(data[2:10])
	return &VPLS{
		RD:        rd,
		VEID:      binary.BigEndian.Uint16(data[10:12]),
		Offset:    binary.BigEndian.Uint16(data[12:14]),
		Size:      binary.BigEndian.Uint16(data[14:16]),
		LabelBase: uint32(data[16])<<16 | uint32(data[17])<<8 | uint32(data[18]),
	}, 19, nil
}

func (v *VPLS) Family() family.Family { return family.L2VPNVPLS }

func (v *VPLS) Pack(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, 17)
	dst = v.RD.Pack(dst)
	dst = binary.BigEndian.AppendUint16(dst, v.VEID)
	dst = binary.BigEndian.AppendUint16(dst, v.Offset)
	dst = binary.BigEndian.AppendUint16(dst, v.Size)
	return append(dst, byte(v.LabelBase>>16), byte(v.LabelBase>>8), byte(v.LabelBase))
}

func (v *VPLS) Index() string {
	return string(v.Pack(v.pathID.Pack(nil)))
}

func (v *VPLS) String() string {
	return fmt.Sprintf("vpls rd %s ve-id %d base %d offset %d size %d",
		v.RD, v.VEID, v.LabelBase, v.Offset, v.Size)
}
