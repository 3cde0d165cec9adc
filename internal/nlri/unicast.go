package nlri

import (
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Unicast covers the plain prefix families: IPv4/IPv6 unicast and
// multicast, whose wire form is a bit length and the covered bytes.
type Unicast struct {
	base
	fam    family.Family
	Prefix wire.Prefix
}

func NewUnicast(f family.Family, p wire.Prefix) *Unicast {
	return &Unicast{fam: f, Prefix: p}
}

func parseUnicast(f family.Family, data []byte) (NLRI, int, error) {
	addrLen := 4
	if f.AFI == family.AFIIPv6 {
		addrLen = 16
	}
	p, n, err := wire.ParsePrefix(data, addrLen)
	if err != nil {
		return nil, 0, fmt.Errorf("nlri: %s: %w", f, err)
	}
	return &Unicast{fam: f, Prefix: p}, n, nil
}

func (u *Unicast) Family() family.Family { return u.fam }

func (u *Unicast) Pack(dst []byte) []byte { return u.Prefix.Pack(dst) }

func (u *Unicast) Index() string {
	return string(indexPrefix(nil, u.pathID, u.Prefix))
}

func (u *Unicast) String() string { return u.Prefix.String() }

// Labeled is SAFI 4: one or more MPLS labels ahead of the prefix, the
// NLRI bit length covering both. Labels are excluded from the index so an
// announce differing only in labels replaces the previous one.
type Labeled struct {
	base
	fam    family.Family
	Labels wire.Labels
	Prefix wire.Prefix
}

func NewLabeled(f family.Family, p wire.Prefix, labels wire.Labels) *Labeled {
	return &Labeled{fam: f, Prefix: p, Labels: labels}
}

func parseLabeled(f family.Family, data []byte, action Action) (NLRI, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("nlri: %s: truncated", f)
	}
	bits := int(data[0])
	byteLen := (bits + 7) / 8
	if len(data) < 1+byteLen {
		return nil, 0, fmt.Errorf("nlri: %s: body truncated", f)
	}
	body := data[1 : 1+byteLen]
	labels, consumed, err := parseMaybeLabels(body, action)
	if err != nil {
		return nil, 0, fmt.Errorf("nlri: %s: %w", f, err)
	}
	prefixBits := bits - consumed*8
	if prefixBits < 0 {
		return nil, 0, fmt.Errorf("nlri: %s: label stack exceeds nlri length", f)
	}
	p, err := prefixFromBody(f, body[consumed:], prefixBits)
	if err != nil {
		return nil, 0, err
	}
	return &Labeled{fam: f, Labels: labels, Prefix: p}, 1 + byteLen, nil
}

// parseMaybeLabels deals with withdraws that carry either a full label
// stack or the 0x800000 compatibility value.
func parseMaybeLabels(body []byte, action Action) (wire.Labels, int, error) {
	if action == Withdraw && len(body) >= 3 {
		l := wire.Label(uint32(body[0])<<16 | uint32(body[1])<<8 | uint32(body[2]))
		if l == wire.WithdrawLabel {
			return wire.Labels{l}, 3, nil
		}
	}
	return wire.ParseLabels(body)
}

func prefixFromBody(f family.Family, body []byte, bits int) (wire.Prefix, error) {
	addrLen := 4
	if f.AFI == family.AFIIPv6 {
		addrLen = 16
	}
	if bits > addrLen*8 || (bits+7)/8 > len(body) {
		return wire.Prefix{}, fmt.Errorf("nlri: %s: prefix length %d out of range", f, bits)
	}
	buf := make([]byte, 1+len(body))
	buf[0] = byte(bits)
	copy(buf[1:], body)
	p, _, err := wire.ParsePrefix(buf, addrLen)
	return p, err
}

func (l *Labeled) Family() family.Family { return l.fam }

func (l *Labeled) Pack(dst []byte) []byte {
	bits := l.Prefix.Bits + len(l.Labels)*24
	dst = append(dst, byte(bits))
	dst = l.Labels.Pack(dst)
	raw := l.Prefix.Addr.As16()
	b := raw[:]
	if l.Prefix.Addr.Is4() {
		v4 := l.Prefix.Addr.As4()
		b = v4[:]
	}
	return append(dst, b[:l.Prefix.ByteLen()]...)
}

func (l *Labeled) Index() string {
	return string(indexPrefix(nil, l.pathID, l.Prefix))
}

func (l *Labeled) String() string {
	return fmt.Sprintf("%s label %s", l.Prefix, l.Labels)
}

// VPN is SAFI 128: labels, then an 8-byte route distinguisher, then the
// prefix. The RD joins the index; the labels do not.
type VPN struct {
	base
	fam    family.Family
	Labels wire.Labels
	RD     wire.RD
	Prefix wire.Prefix
}

func NewVPN(f family.Family, rd wire.RD, p wire.Prefix, labels wire.Labels) *VPN {
	return &VPN{fam: f, RD: rd, Prefix: p, Labels: labels}
}

func parseVPN(f family.Family, data []byte, action Action) (NLRI, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("nlri: %s: truncated", f)
	}
	bits := int(data[0])
	byteLen := (bits + 7) / 8
	if len(data) < 1+byteLen {
		return nil, 0, fmt.Errorf("nlri: %s: body truncated", f)
	}
	body := data[1 : 1+byteLen]
	labels, consumed, err := parseMaybeLabels(body, action)
	if err != nil {
		return nil, 0, fmt.Errorf("nlri: %s: %w", f, err)
	}
	if len(body)-consumed < 8 {
		return nil, 0, fmt.Errorf("nlri: %s: no room for route distinguisher", f)
	}
	rd, err := wire.ParseRD(body[consumed:])
	if err != nil {
		return nil, 0, err
	}
	consumed += 8
	prefixBits := bits - consumed*8
	if prefixBits < 0 {
		return nil, 0, fmt.Errorf("nlri: %s: labels and rd exceed nlri length", f)
	}
	p, err := prefixFromBody(f, body[consumed:], prefixBits)
	if err != nil {
		return nil, 0, err
	}
	return &VPN{fam: f, Labels: labels, RD: rd, Prefix: p}, 1 + byteLen, nil
}

func (v *VPN) Family() family.Family { return v.fam }

func (v *VPN) Pack(dst []byte) []byte {
	bits := v.Prefix.Bits + len(v.Labels)*24 + 64
	dst = append(dst, byte(bits))
	dst = v.Labels.Pack(dst)
	dst = v.RD.Pack(dst)
	raw := v.Prefix.Addr.As16()
	b := raw[:]
	if v.Prefix.Addr.Is4() {
		v4 := v.Prefix.Addr.As4()
		b = v4[:]
	}
	return append(dst, b[:v.Prefix.ByteLen()]...)
}

func (v *VPN) Index() string {
	idx := v.pathID.Pack(nil)
	idx = v.RD.Pack(idx)
	idx = v.Prefix.Pack(idx)
	return string(idx)
}

func (v *VPN) String() string {
	return fmt.Sprintf("%s rd %s label %s", v.Prefix, v.RD, v.Labels)
}
