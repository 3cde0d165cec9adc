package attribute

import (
	"encoding/binary"
	"fmt"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Context carries the per-session facts the codec needs.
type Context struct {
	AS4     bool
	AddPath func(family.Family) bool
	Cache   *Cache
}

func (c Context) addPath(f family.Family) bool {
	if c.AddPath == nil {
		return false
	}
	return c.AddPath(f)
}

func (c Context) intern(a Attribute) Attribute {
	if c.Cache == nil {
		return a
	}
	return c.Cache.Intern(a)
}

// Result is the outcome of parsing one attribute section. When
// TreatAsWithdraw is set the caller must convert every NLRI in the UPDATE
// into a withdrawal and commit no announcement.
type Result struct {
	Attributes      *Collection
	TreatAsWithdraw bool
	Reasons         []string
}

// Parse decodes a path-attribute section. A non-nil *wire.Notify return
// means the session must be reset; recoverable errors are folded into the
// result per each attribute's declared policy.
func Parse(data []byte, ctx Context) (Result, *wire.Notify) {
	res := Result{Attributes: NewCollection()}

	for off := 0; off < len(data); {
		if len(data)-off < 3 {
			return res, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
		}
		flags := Flags(data[off])
		code := Code(data[off+1])
		off += 2

		var length int
		if flags.Extended() {
			if len(data)-off < 2 {
				return res, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
			}
			length = int(binary.BigEndian.Uint16(data[off:]))
			off += 2
		} else {
			length = int(data[off])
			off++
		}
		if len(data)-off < length {
			return res, wire.NewNotify(wire.NotifyUpdateError, wire.UpdateMalformedAttrList)
		}
		payload := data[off : off+length]
		off += length

		known := code.Known()
		if !known {
			if !flags.Transitive() {
				// Unknown non-transitive: drop silently.
				continue
			}
			res.Attributes.Add(ctx.intern(NewUnknown(code, flags, payload)))
			continue
		}

		if err := checkFlags(code, flags); err != nil {
			if failed, notify := applyPolicy(code, &res, fmt.Sprintf("%s: bad flags %02x", code, uint8(flags))); failed {
				return res, notify
			}
			continue
		}

		a, err := parseKnown(code, payload, ctx)
		if err != nil {
			if failed, notify := applyPolicy(code, &res, err.Error()); failed {
				return res, notify
			}
			continue
		}
		if !res.Attributes.Add(ctx.intern(a)) {
			// Duplicate of a dup-forbidden attribute.
			if failed, notify := applyPolicy(code, &res, fmt.Sprintf("%s: duplicate attribute", code)); failed {
				return res, notify
			}
		}
	}
	return res, nil
}

// Known reports whether the codec has a decoder for this code.
func (c Code) Known() bool {
	_, ok := contracts[c]
	return ok
}

func checkFlags(code Code, flags Flags) error {
	want := code.WireFlags()
	got := flags & (FlagOptional | FlagTransitive)
	if got != want {
		return fmt.Errorf("attribute: %s flags %02x, want %02x", code, uint8(got), uint8(want))
	}
	return nil
}

// applyPolicy folds one attribute failure into the result. The bool
// return is true when the session must reset.
func applyPolicy(code Code, res *Result, reason string) (bool, *wire.Notify) {
	res.Reasons = append(res.Reasons, reason)
	switch code.OnError() {
	case ErrSessionReset:
		sub := wire.UpdateOptionalAttrError
		switch code {
		case CodeASPath:
			sub = wire.UpdateMalformedASPath
		case CodeMPReach, CodeMPUnreach:
			sub = wire.UpdateOptionalAttrError
		}
		return true, wire.NewNotify(wire.NotifyUpdateError, sub)
	case ErrTreatAsWithdraw:
		res.TreatAsWithdraw = true
		return false, nil
	case ErrDiscard, ErrAttributeDiscard:
		return false, nil
	}
	return false, nil
}

func parseKnown(code Code, payload []byte, ctx Context) (Attribute, error) {
	switch code {
	case CodeOrigin:
		return parseOrigin(payload)
	case CodeASPath:
		return parseASPath(payload, ctx.AS4)
	case CodeNextHop:
		return parseNextHop(payload)
	case CodeMED, CodeLocalPref:
		return parseUint32Attr(code, payload)
	case CodeAtomicAggregate:
		return parseAtomicAggregate(payload)
	case CodeAggregator, CodeAS4Aggregator:
		return parseAggregator(code, payload, ctx.AS4)
	case CodeCommunities:
		return parseCommunities(payload)
	case CodeOriginatorID:
		return parseOriginatorID(payload)
	case CodeClusterList:
		return parseClusterList(payload)
	case CodeMPReach:
		return parseMPReach(payload, ctx.addPath)
	case CodeMPUnreach:
		return parseMPUnreach(payload, ctx.addPath)
	case CodeExtCommunities:
		return parseFixedSetAttr(code, 8, payload)
	case CodeIPv6ExtComm:
		return parseFixedSetAttr(code, 20, payload)
	case CodeLargeCommunities:
		return parseFixedSetAttr(code, 12, payload)
	case CodeAS4Path:
		return parseAS4Path(payload)
	case CodeAIGP:
		return parseAIGP(payload)
	case CodePMSITunnel, CodeLinkState, CodePrefixSID:
		return NewOpaque(code, payload), nil
	}
	return nil, fmt.Errorf("attribute: no decoder for %s", code)
}

// MergeAS4 performs the strict RFC 6793 §4.2.3 reconstruction: when the
// session is not AS4-capable and an AS4_PATH rode along, splice it over
// the tail of AS_PATH, provided AS_PATH is at least as long.
func MergeAS4(c *Collection) {
	a4raw, ok := c.Get(CodeAS4Path)
	if !ok {
		mergeAS4Aggregator(c)
		return
	}
	defer c.Delete(CodeAS4Path)
	mergeAS4Aggregator(c)

	araw, ok := c.Get(CodeASPath)
	if !ok {
		return
	}
	asPath, ok1 := araw.(*ASPath)
	as4Path, ok2 := a4raw.(*AS4Path)
	if !ok1 || !ok2 || asPath.AS4() {
		return
	}

	count := func(segments []Segment) int {
		n := 0
		for _, s := range segments {
			if s.Type == SegmentSet {
				n++
			} else {
				n += len(s.ASNs)
			}
		}
		return n
	}
	lenAS, lenAS4 := count(asPath.Segments), count(as4Path.Segments)
	if lenAS < lenAS4 {
		return
	}

	// Keep the leading (lenAS - lenAS4) entries of AS_PATH, then append
	// AS4_PATH whole.
	keep := lenAS - lenAS4
	var merged []Segment
	for _, s := range asPath.Segments {
		if keep == 0 {
			break
		}
		if s.Type == SegmentSet {
			merged = append(merged, s)
			keep--
			continue
		}
		if len(s.ASNs) <= keep {
			merged = append(merged, s)
			keep -= len(s.ASNs)
			continue
		}
		merged = append(merged, Segment{Type: s.Type, ASNs: s.ASNs[:keep]})
		keep = 0
	}
	merged = append(merged, as4Path.Segments...)
	c.Set(NewASPath(merged, true))
}

func mergeAS4Aggregator(c *Collection) {
	a4, ok := c.Get(CodeAS4Aggregator)
	if !ok {
		return
	}
	defer c.Delete(CodeAS4Aggregator)
	agg, ok := c.Get(CodeAggregator)
	if !ok {
		return
	}
	old, ok1 := agg.(*Aggregator)
	repl, ok2 := a4.(*Aggregator)
	if !ok1 || !ok2 {
		return
	}
	// RFC 6793: only substitute when AGGREGATOR carries AS_TRANS.
	if old.ASN == uint32(ASTrans) {
		c.Set(NewAggregator(repl.ASN, repl.Addr, true))
	}
}
