package attribute

import (
	"encoding/binary"
	"fmt"
)

// Flags are the attribute flag bits.
type Flags uint8

const (
	FlagOptional   Flags = 0x80
	FlagTransitive Flags = 0x40
	FlagPartial    Flags = 0x20
	FlagExtended   Flags = 0x10
)

func (f Flags) Optional() bool   { return f&FlagOptional != 0 }
func (f Flags) Transitive() bool { return f&FlagTransitive != 0 }
func (f Flags) Partial() bool    { return f&FlagPartial != 0 }
func (f Flags) Extended() bool   { return f&FlagExtended != 0 }

// Code is a path attribute type code.
type Code uint8

const (
	CodeOrigin          Code = 1
	CodeASPath          Code = 2
	CodeNextHop         Code = 3
	CodeMED             Code = 4
	CodeLocalPref       Code = 5
	CodeAtomicAggregate Code = 6
	CodeAggregator      Code = 7
	CodeCommunities     Code = 8
	CodeOriginatorID    Code = 9
	CodeClusterList     Code = 10
	CodeMPReach         Code = 14
	CodeMPUnreach       Code = 15
	CodeExtCommunities  Code = 16
	CodeAS4Path         Code = 17
	CodeAS4Aggregator   Code = 18
	CodePMSITunnel      Code = 22
	CodeIPv6ExtComm     Code = 25
	CodeAIGP            Code = 26
	CodeLinkState       Code = 29
	CodeLargeCommunities Code = 32
	CodePrefixSID       Code = 40
)

var codeNames = map[Code]string{
	CodeOrigin:           "origin",
	CodeASPath:           "as-path",
	CodeNextHop:          "next-hop",
	CodeMED:              "med",
	CodeLocalPref:        "local-preference",
	CodeAtomicAggregate:  "atomic-aggregate",
	CodeAggregator:       "aggregator",
	CodeCommunities:      "community",
	CodeOriginatorID:     "originator-id",
	CodeClusterList:      "cluster-list",
	CodeMPReach:          "mp-reach-nlri",
	CodeMPUnreach:        "mp-unreach-nlri",
	CodeExtCommunities:   "extended-community",
	CodeAS4Path:          "as4-path",
	CodeAS4Aggregator:    "as4-aggregator",
	CodePMSITunnel:       "pmsi-tunnel",
	CodeIPv6ExtComm:      "ipv6-extended-community",
	CodeAIGP:             "aigp",
	CodeLinkState:        "bgp-ls",
	CodeLargeCommunities: "large-community",
	CodePrefixSID:        "bgp-prefix-sid",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("attribute-%d", uint8(c))
}

// DuplicatePolicy states what happens when an attribute code appears more
// than once in one UPDATE.
type DuplicatePolicy uint8

const (
	DupForbidden DuplicatePolicy = iota
	DupMerge
	DupLastWins
)

// ErrorPolicy is the RFC 7606 handling class for a parse failure.
type ErrorPolicy uint8

const (
	ErrSessionReset ErrorPolicy = iota
	ErrTreatAsWithdraw
	ErrDiscard
	ErrAttributeDiscard
)

type contract struct {
	flags     Flags // required flag bits (partial/extended not included)
	duplicate DuplicatePolicy
	onError   ErrorPolicy
}

var contracts = map[Code]contract{
	CodeOrigin:           {FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeASPath:           {FlagTransitive, DupForbidden, ErrSessionReset},
	CodeNextHop:          {FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeMED:              {FlagOptional, DupForbidden, ErrTreatAsWithdraw},
	CodeLocalPref:        {FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeAtomicAggregate:  {FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeAggregator:       {FlagOptional | FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeCommunities:      {FlagOptional | FlagTransitive, DupMerge, ErrTreatAsWithdraw},
	CodeOriginatorID:     {FlagOptional, DupLastWins, ErrTreatAsWithdraw},
	CodeClusterList:      {FlagOptional, DupLastWins, ErrTreatAsWithdraw},
	CodeMPReach:          {FlagOptional, DupForbidden, ErrSessionReset},
	CodeMPUnreach:        {FlagOptional, DupForbidden, ErrSessionReset},
	CodeExtCommunities:   {FlagOptional | FlagTransitive, DupMerge, ErrTreatAsWithdraw},
	CodeAS4Path:          {FlagOptional | FlagTransitive, DupForbidden, ErrDiscard},
	CodeAS4Aggregator:    {FlagOptional | FlagTransitive, DupForbidden, ErrDiscard},
	CodePMSITunnel:       {FlagOptional | FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
	CodeIPv6ExtComm:      {FlagOptional | FlagTransitive, DupMerge, ErrTreatAsWithdraw},
	CodeAIGP:             {FlagOptional, DupForbidden, ErrDiscard},
	CodeLinkState:        {FlagOptional, DupForbidden, ErrAttributeDiscard},
	CodeLargeCommunities: {FlagOptional | FlagTransitive, DupMerge, ErrTreatAsWithdraw},
	CodePrefixSID:        {FlagOptional | FlagTransitive, DupForbidden, ErrTreatAsWithdraw},
}

// Duplicate returns the duplicate policy for a code. Unknown attributes
// keep the last copy.
func (c Code) Duplicate() DuplicatePolicy {
	if ct, ok := contracts[c]; ok {
		return ct.duplicate
	}
	return DupLastWins
}

// OnError returns the parse-error policy for a code. Unknown attributes
// are discarded on error.
func (c Code) OnError() ErrorPolicy {
	if ct, ok := contracts[c]; ok {
		return ct.onError
	}
	return ErrAttributeDiscard
}

// WireFlags returns the flag bits this code carries on the wire (without
// the extended-length bit, which depends on the payload size).
func (c Code) WireFlags() Flags {
	if ct, ok := contracts[c]; ok {
		return ct.flags
	}
	return FlagOptional | FlagTransitive
}

// Attribute is one path attribute. The payload is the exact wire value;
// typed views are derived from it at parse time so re-packing a parsed
// attribute reproduces the received bytes.
type Attribute interface {
	Code() Code
	Flags() Flags
	Payload() []byte
	String() string
}

// PackTLV appends the full attribute TLV (flags, code, length, payload),
// promoting to extended length when the payload exceeds one length byte.
func PackTLV(dst []byte, a Attribute) []byte {
	payload := a.Payload()
	flags := a.Flags()
	if len(payload) > 255 {
		flags |= FlagExtended
	} else {
		flags &^= FlagExtended
	}
	dst = append(dst, byte(flags), byte(a.Code()))
	if flags.Extended() {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	} else {
		dst = append(dst, byte(len(payload)))
	}
	return append(dst, payload...)
}

// TLVLen is the on-wire size of the full attribute TLV.
func TLVLen(a Attribute) int {
	l := len(a.Payload())
	if l > 255 {
		return 4 + l
	}
	return 3 + l
}

// Equal compares two attributes by code and packed payload, the equality
// the intern cache is built on.
func Equal(a, b Attribute) bool {
	if a.Code() != b.Code() {
		return false
	}
	return string(a.Payload()) == string(b.Payload())
}
