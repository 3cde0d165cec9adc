package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Prefix is an IP prefix in its BGP wire shape: a bit length followed by
// just enough bytes to cover it. Two prefixes are equal iff their packed
// bytes and bit length match.
type Prefix struct {
	Addr netip.Addr
	Bits int
}

// PrefixFrom masks the address down to bits so that equality behaves.
func PrefixFrom(addr netip.Addr, bits int) Prefix {
	p := netip.PrefixFrom(addr, bits).Masked()
	return Prefix{Addr: p.Addr(), Bits: bits}
}

func ParsePrefixString(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, fmt.Errorf("wire: bad prefix %q: %w", s, err)
	}
	return PrefixFrom(p.Addr(), p.Bits()), nil
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.Addr, p.Bits)
}

func (p Prefix) IsValid() bool { return p.Addr.IsValid() }

// ByteLen is the number of address bytes carried on the wire.
func (p Prefix) ByteLen() int { return (p.Bits + 7) / 8 }

// Pack appends the wire form: length-in-bits then the covered bytes.
func (p Prefix) Pack(dst []byte) []byte {
	dst = append(dst, byte(p.Bits))
	raw := p.Addr.As16()
	b := raw[:]
	if p.Addr.Is4() {
		v4 := p.Addr.As4()
		b = v4[:]
	}
	return append(dst, b[:p.ByteLen()]...)
}

// ParsePrefix reads one prefix from data for the given address byte width
// (4 or 16) and returns the prefix and the bytes consumed.
func ParsePrefix(data []byte, addrLen int) (Prefix, int, error) {
	if len(data) < 1 {
		return Prefix{}, 0, fmt.Errorf("wire: prefix truncated")
	}
	bits := int(data[0])
	if bits > addrLen*8 {
		return Prefix{}, 0, fmt.Errorf("wire: prefix length %d exceeds %d bits", bits, addrLen*8)
	}
	byteLen := (bits + 7) / 8
	if len(data) < 1+byteLen {
		return Prefix{}, 0, fmt.Errorf("wire: prefix body truncated (need %d, have %d)", byteLen, len(data)-1)
	}
	buf := make([]byte, addrLen)
	copy(buf, data[1:1+byteLen])
	var addr netip.Addr
	if addrLen == 4 {
		addr = netip.AddrFrom4([4]byte(buf))
	} else {
		addr = netip.AddrFrom16([16]byte(buf))
	}
	return PrefixFrom(addr, bits), 1 + byteLen, nil
}

// PathID is the 4-byte ADD-PATH identifier.
type PathID uint32

func (p PathID) Pack(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(p))
}

func ParsePathID(data []byte) (PathID, int, error) {
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("wire: path-id truncated")
	}
	return PathID(binary.BigEndian.Uint32(data)), 4, nil
}

// ParseNextHop decodes an MP_REACH next-hop field. A 32-byte value is a
// global + link-local IPv6 pair; the global address wins. A 12- or 24-byte
// value is an RD-prefixed VPN next-hop; the RD is stripped.
func ParseNextHop(data []byte) (netip.Addr, error) {
	switch len(data) {
	case 4:
		return netip.AddrFrom4([4]byte(data)), nil
	case 16:
		return netip.AddrFrom16([16]byte(data)), nil
	case 32:
		return netip.AddrFrom16([16]byte(data[:16])), nil
	case 12:
		return netip.AddrFrom4([4]byte(data[8:12])), nil
	case 24:
		return netip.AddrFrom16([16]byte(data[8:24])), nil
	}
	return netip.Addr{}, fmt.Errorf("wire: unhandled next-hop length %d", len(data))
}
