package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// RD is an 8-byte route distinguisher. Three encodings exist, selected by
// the leading 2-byte type field: 0 = 2-byte ASN + 4-byte value,
// 1 = IPv4 + 2-byte value, 2 = 4-byte ASN + 2-byte value.
type RD [8]byte

func RDFromASN2(asn uint16, value uint32) RD {
	var rd RD
	binary.BigEndian.PutUint16(rd[0:2], 0)
	binary.BigEndian.PutUint16(rd[2:4], asn)
	binary.BigEndian.PutUint32(rd[4:8], value)
	return rd
}

func RDFromIP(ip netip.Addr, value uint16) RD {
	var rd RD
	binary.BigEndian.PutUint16(rd[0:2], 1)
	v4 := ip.As4()
	copy(rd[2:6], v4[:])
	binary.BigEndian.PutUint16(rd[6:8], value)
	return rd
}

func RDFromASN4(asn uint32, value uint16) RD {
	var rd RD
	binary.BigEndian.PutUint16(rd[0:2], 2)
	binary.BigEndian.PutUint32(rd[2:6], asn)
	binary.BigEndian.PutUint16(rd[6:8], value)
	return rd
}

// ParseRDString accepts "asn:value", "ip:value" and "asn4:value" forms,
// choosing the narrowest legal encoding.
func ParseRDString(s string) (RD, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return RD{}, fmt.Errorf("wire: bad route distinguisher %q", s)
	}
	left, right := s[:i], s[i+1:]
	if ip, err := netip.ParseAddr(left); err == nil && ip.Is4() {
		v, err := strconv.ParseUint(right, 10, 16)
		if err != nil {
			return RD{}, fmt.Errorf("wire: bad route distinguisher value %q", right)
		}
		return RDFromIP(ip, uint16(v)), nil
	}
	asn, err := strconv.ParseUint(left, 10, 32)
	if err != nil {
		return RD{}, fmt.Errorf("wire: bad route distinguisher %q", s)
	}
	if asn > 0xFFFF {
		v, err := strconv.ParseUint(right, 10, 16)
		if err != nil {
			return RD{}, fmt.Errorf("wire: bad route distinguisher value %q", right)
		}
		return RDFromASN4(uint32(asn), uint16(v)), nil
	}
	v, err := strconv.ParseUint(right, 10, 32)
	if err != nil {
		return RD{}, fmt.Errorf("wire: bad route distinguisher value %q", right)
	}
	return RDFromASN2(uint16(asn), uint32(v)), nil
}

func ParseRD(data []byte) (RD, error) {
	if len(data) < 8 {
		return RD{}, fmt.Errorf("wire: route distinguisher truncated")
	}
	var rd RD
	copy(rd[:], data[:8])
	return rd, nil
}

func (rd RD) Pack(dst []byte) []byte { return append(dst, rd[:]...) }

func (rd RD) IsZero() bool { return rd == RD{} }

func (rd RD) String() string {
	switch binary.BigEndian.Uint16(rd[0:2]) {
	case 0:
		return fmt.Sprintf("%d:%d", binary.BigEndian.Uint16(rd[2:4]), binary.BigEndian.Uint32(rd[4:8]))
	case 1:
		return fmt.Sprintf("%s:%d", netip.AddrFrom4([4]byte(rd[2:6])), binary.BigEndian.Uint16(rd[6:8]))
	case 2:
		return fmt.Sprintf("%d:%d", binary.BigEndian.Uint32(rd[2:6]), binary.BigEndian.Uint16(rd[6:8]))
	}
	return fmt.Sprintf("%x", rd[:])
}
