package message

import (
	"encoding/binary"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/nlri"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Update is a decoded UPDATE message. Withdrawn and Announced hold the
// outer IPv4-unicast sections; other families travel inside the MP
// attributes of the collection.
type Update struct {
	Withdrawn  []nlri.NLRI
	Announced  []nlri.NLRI
	Attributes *attribute.Collection

	// TreatAsWithdraw is set when RFC 7606 demanded the announce side be
	// dropped; Reasons carries the log lines.
	TreatAsWithdraw bool
	Reasons         []string
}

// ParseUpdate decodes an UPDATE body in three passes: split, attributes,
// NLRI. A *wire.Notify return resets the session.
func ParseUpdate(body []byte, ctx attribute.Context) (*Update, *wire.Notify) {
	if len(body) < 4 {
		return nil, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
	}
	withdrawnLen := int(binary.BigEndian.Uint16(body[0:2]))
	if 2+withdrawnLen+2 > len(body) {
		return nil, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
	}
	withdrawnBytes := body[2 : 2+withdrawnLen]
	attrLen := int(binary.BigEndian.Uint16(body[2+withdrawnLen:]))
	if 2+withdrawnLen+2+attrLen > len(body) {
		return nil, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
	}
	attrBytes := body[2+withdrawnLen+2 : 2+withdrawnLen+2+attrLen]
	nlriBytes := body[2+withdrawnLen+2+attrLen:]

	u := &Update{}
	addPath := ctx.AddPath != nil && ctx.AddPath(family.IPv4Unicast)

	var err error
	u.Withdrawn, err = nlri.ParseSection(family.IPv4Unicast, withdrawnBytes, addPath, nlri.Withdraw)
	if err != nil {
		return nil, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateInvalidNetwork)
	}

	res, notify := attribute.Parse(attrBytes, ctx)
	if notify != nil {
		return nil, notify
	}
	u.Attributes = res.Attributes
	u.TreatAsWithdraw = res.TreatAsWithdraw
	u.Reasons = res.Reasons

	u.Announced, err = nlri.ParseSection(family.IPv4Unicast, nlriBytes, addPath, nlri.Announce)
	if err != nil {
		return nil, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateInvalidNetwork)
	}
	if nh, ok := u.Attributes.Get(attribute.CodeNextHop); ok {
		if hop, isNH := nh.(*attribute.NextHop); isNH {
			for _, n := range u.Announced {
				n.SetNextHop(hop.Addr)
			}
		}
	}

	// Mandatory well-known attributes must ride with any announcement;
	// their absence is treat-as-withdraw, not a reset (RFC 7606 §3).
	if len(u.Announced) > 0 || u.hasMPReach() {
		for _, code := range []attribute.Code{attribute.CodeOrigin, attribute.CodeASPath} {
			if !u.Attributes.Has(code) {
				u.TreatAsWithdraw = true
				u.Reasons = append(u.Reasons, "missing mandatory "+code.String())
			}
		}
	}
	if len(u.Announced) > 0 && !u.Attributes.Has(attribute.CodeNextHop) {
		u.TreatAsWithdraw = true
		u.Reasons = append(u.Reasons, "missing mandatory next-hop")
	}

	if !ctx.AS4 {
		attribute.MergeAS4(u.Attributes)
	}
	return u, nil
}

func (u *Update) hasMPReach() bool {
	mp, ok := u.Attributes.Get(attribute.CodeMPReach)
	if !ok {
		return false
	}
	reach, ok := mp.(*attribute.MPReach)
	return ok && len(reach.NLRIs) > 0
}

// AllAnnounced gathers outer and MP_REACH announcements. After a
// treat-as-withdraw downgrade it returns nothing.
func (u *Update) AllAnnounced() []nlri.NLRI {
	if u.TreatAsWithdraw {
		return nil
	}
	out := append([]nlri.NLRI(nil), u.Announced...)
	if mp, ok := u.Attributes.Get(attribute.CodeMPReach); ok {
		if reach, isReach := mp.(*attribute.MPReach); isReach {
			out = append(out, reach.NLRIs...)
		}
	}
	return out
}

// AllWithdrawn gathers outer and MP_UNREACH withdrawals; under
// treat-as-withdraw every NLRI of the UPDATE is returned as withdrawn.
func (u *Update) AllWithdrawn() []nlri.NLRI {
	out := append([]nlri.NLRI(nil), u.Withdrawn...)
	if mp, ok := u.Attributes.Get(attribute.CodeMPUnreach); ok {
		if unreach, isUnreach := mp.(*attribute.MPUnreach); isUnreach {
			out = append(out, unreach.NLRIs...)
		}
	}
	if u.TreatAsWithdraw {
		for _, n := range u.Announced {
			n.SetAction(nlri.Withdraw)
			out = append(out, n)
		}
		if mp, ok := u.Attributes.Get(attribute.CodeMPReach); ok {
			if reach, isReach := mp.(*attribute.MPReach); isReach {
				for _, n := range reach.NLRIs {
					n.SetAction(nlri.Withdraw)
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// EOR reports whether the UPDATE is an End-of-RIB marker and for which
// family: a fully empty UPDATE for IPv4 unicast, or an MP_UNREACH-only
// UPDATE with no NLRIs for the family it names.
func (u *Update) EOR() (family.Family, bool) {
	if len(u.Withdrawn) == 0 && len(u.Announced) == 0 {
		if u.Attributes.Len() == 0 {
			return family.IPv4Unicast, true
		}
		if u.Attributes.Len() == 1 {
			if mp, ok := u.Attributes.Get(attribute.CodeMPUnreach); ok {
				unreach := mp.(*attribute.MPUnreach)
				if len(unreach.NLRIs) == 0 {
					return unreach.Family, true
				}
			}
		}
	}
	return family.Family{}, false
}

// EORFrame builds the End-of-RIB marker for a family.
func EORFrame(f family.Family) []byte {
	if f == family.IPv4Unicast {
		return Pack(TypeUpdate, []byte{0, 0, 0, 0})
	}
	unreach := attribute.NewMPUnreach(f, nil, false)
	body := []byte{0, 0}
	attrs := attribute.PackTLV(nil, unreach)
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	return Pack(TypeUpdate, append(body, attrs...))
}

// Builder assembles outgoing UPDATE frames from a drained change group,
// splitting on the negotiated message size.
type Builder struct {
	MsgSize     int
	AddPathSend func(family.Family) bool
}

func (b *Builder) addPath(f family.Family) bool {
	return b.AddPathSend != nil && b.AddPathSend(f)
}

func (b *Builder) max() int {
	if b.MsgSize <= 0 {
		return capMsgSize
	}
	return b.MsgSize
}

const capMsgSize = 4096

// Withdraws emits one or more UPDATEs withdrawing the given NLRIs. The
// outer section serves IPv4 unicast; every other family goes through
// MP_UNREACH, one family per UPDATE.
func (b *Builder) Withdraws(ns []nlri.NLRI) [][]byte {
	var frames [][]byte
	byFam := groupByFamily(ns)
	for _, f := range familyOrder(byFam) {
		members := byFam[f]
		if f == family.IPv4Unicast {
			frames = append(frames, b.outerWithdraws(members)...)
			continue
		}
		frames = append(frames, b.mpWithdraws(f, members)...)
	}
	return frames
}

func (b *Builder) outerWithdraws(ns []nlri.NLRI) [][]byte {
	budget := b.max() - HeaderSize - 4
	var frames [][]byte
	var section []byte
	flush := func() {
		if len(section) == 0 {
			return
		}
		body := binary.BigEndian.AppendUint16(nil, uint16(len(section)))
		body = append(body, section...)
		body = append(body, 0, 0)
		frames = append(frames, Pack(TypeUpdate, body))
		section = nil
	}
	for _, n := range ns {
		packed := nlri.PackOne(nil, n, b.addPath(family.IPv4Unicast))
		if len(section)+len(packed) > budget {
			flush()
		}
		section = append(section, packed...)
	}
	flush()
	return frames
}

func (b *Builder) mpWithdraws(f family.Family, ns []nlri.NLRI) [][]byte {
	// MP_UNREACH overhead: attr header (4 with extended length) + 3.
	budget := b.max() - HeaderSize - 4 - 4 - 3
	addPath := b.addPath(f)
	var frames [][]byte
	var chunk []nlri.NLRI
	size := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		unreach := attribute.NewMPUnreach(f, chunk, addPath)
		attrs := attribute.PackTLV(nil, unreach)
		body := []byte{0, 0}
		body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
		frames = append(frames, Pack(TypeUpdate, append(body, attrs...)))
		chunk, size = nil, 0
	}
	for _, n := range ns {
		l := nlri.PackedLen(n, addPath)
		if size+l > budget {
			flush()
		}
		chunk = append(chunk, n)
		size += l
	}
	flush()
	return frames
}

// Announces emits UPDATEs for a group of NLRIs sharing one attribute
// collection. IPv4 unicast rides in the outer NLRI section with the
// NEXT_HOP attribute; other families ride in MP_REACH with the next-hop
// taken from the NLRIs.
func (b *Builder) Announces(attrs *attribute.Collection, ns []nlri.NLRI) [][]byte {
	var frames [][]byte
	byFam := groupByFamily(ns)
	for _, f := range familyOrder(byFam) {
		members := byFam[f]
		if f == family.IPv4Unicast {
			frames = append(frames, b.outerAnnounces(attrs, members)...)
			continue
		}
		frames = append(frames, b.mpAnnounces(f, attrs, members)...)
	}
	return frames
}

func (b *Builder) outerAnnounces(attrs *attribute.Collection, ns []nlri.NLRI) [][]byte {
	attrBytes := b.packAttrsWithout(attrs, attribute.CodeMPReach, attribute.CodeMPUnreach)
	budget := b.max() - HeaderSize - 4 - len(attrBytes)
	var frames [][]byte
	var section []byte
	flush := func() {
		if len(section) == 0 {
			return
		}
		body := []byte{0, 0}
		body = binary.BigEndian.AppendUint16(body, uint16(len(attrBytes)))
		body = append(body, attrBytes...)
		body = append(body, section...)
		frames = append(frames, Pack(TypeUpdate, body))
		section = nil
	}
	for _, n := range ns {
		packed := nlri.PackOne(nil, n, b.addPath(family.IPv4Unicast))
		if len(section)+len(packed) > budget {
			flush()
		}
		section = append(section, packed...)
	}
	flush()
	return frames
}

func (b *Builder) mpAnnounces(f family.Family, attrs *attribute.Collection, ns []nlri.NLRI) [][]byte {
	attrBytes := b.packAttrsWithout(attrs,
		attribute.CodeMPReach, attribute.CodeMPUnreach, attribute.CodeNextHop)
	addPath := b.addPath(f)
	nexthop := mpNextHop(f, ns)
	// MP_REACH fixed part: afi+safi+nhlen+nh+reserved, plus the extended
	// attribute header.
	overhead := HeaderSize + 4 + len(attrBytes) + 4 + 5 + len(nexthop)
	budget := b.max() - overhead
	var frames [][]byte
	var chunk []nlri.NLRI
	size := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		reach := attribute.NewMPReach(f, nexthop, chunk, addPath)
		all := attribute.PackTLV(nil, reach)
		all = append(all, attrBytes...)
		body := []byte{0, 0}
		body = binary.BigEndian.AppendUint16(body, uint16(len(all)))
		frames = append(frames, Pack(TypeUpdate, append(body, all...)))
		chunk, size = nil, 0
	}
	for _, n := range ns {
		l := nlri.PackedLen(n, addPath)
		if size+l > budget {
			flush()
		}
		chunk = append(chunk, n)
		size += l
	}
	flush()
	return frames
}

func (b *Builder) packAttrsWithout(attrs *attribute.Collection, exclude ...attribute.Code) []byte {
	var out []byte
	for _, a := range attrs.All() {
		skip := false
		for _, code := range exclude {
			if a.Code() == code {
				skip = true
				break
			}
		}
		if !skip {
			out = attribute.PackTLV(out, a)
		}
	}
	return out
}

func mpNextHop(f family.Family, ns []nlri.NLRI) []byte {
	for _, n := range ns {
		nh := n.NextHop()
		if !nh.IsValid() {
			continue
		}
		if nh.Is4() {
			v4 := nh.As4()
			if f.SAFI == family.SAFIMPLSVPN {
				// VPN next-hops are RD-prefixed with a zero RD.
				return append(make([]byte, 8), v4[:]...)
			}
			return v4[:]
		}
		v16 := nh.As16()
		if f.SAFI == family.SAFIMPLSVPN {
			return append(make([]byte, 8), v16[:]...)
		}
		return v16[:]
	}
	return nil
}

func groupByFamily(ns []nlri.NLRI) map[family.Family][]nlri.NLRI {
	out := make(map[family.Family][]nlri.NLRI)
	for _, n := range ns {
		out[n.Family()] = append(out[n.Family()], n)
	}
	return out
}

func familyOrder(m map[family.Family][]nlri.NLRI) []family.Family {
	fams := make([]family.Family, 0, len(m))
	for f := range m {
		fams = append(fams, f)
	}
	family.Sort(fams)
	return fams
}
