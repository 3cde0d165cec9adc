package api

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/nlri"
	"github.com/exa-networks/exabgp/internal/peer"
	"github.com/exa-networks/exabgp/internal/rib"
	"github.com/exa-networks/exabgp/internal/wire"
)

// ParseRoute turns the token stream after `announce route` or `withdraw
// route` into a Change for one neighbor. The withdraw form only needs the
// prefix (and rd / path-information when they shape the index).
func ParseRoute(args []string, withdraw bool, nb *peer.Neighbor) (*rib.Change, error) {
	localASN, peerASN := nb.LocalASN, nb.PeerASN
	if len(args) == 0 {
		return nil, fmt.Errorf("api: route needs a prefix")
	}
	prefix, err := wire.ParsePrefixString(args[0])
	if err != nil {
		return nil, err
	}

	var (
		nexthop  netip.Addr
		labels   wire.Labels
		rd       wire.RD
		hasRD    bool
		pathID   wire.PathID
		watchdog string
		attrs    = []attribute.Attribute{attribute.NewOrigin(attribute.OriginIGP)}
		asPath   *attribute.ASPath
		extComms [][]byte
	)
	if localASN != peerASN && peerASN != 0 {
		asPath = attribute.NewASPath([]attribute.Segment{
			{Type: attribute.SegmentSequence, ASNs: []uint32{localASN}},
		}, true)
	} else {
		asPath = attribute.NewASPath(nil, true)
	}

	i := 1
	next := func(what string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("api: %s needs a value", what)
		}
		i++
		return args[i], nil
	}
	for i < len(args) {
		switch args[i] {
		case "next-hop":
			v, err := next("next-hop")
			if err != nil {
				return nil, err
			}
			if v == "self" {
				if !nb.LocalAddress.IsValid() {
					return nil, fmt.Errorf("api: next-hop self needs a configured local address")
				}
				nexthop = nb.LocalAddress
			} else if nexthop, err = netip.ParseAddr(v); err != nil {
				return nil, fmt.Errorf("api: bad next-hop %q", v)
			}
		case "med":
			v, err := next("med")
			if err != nil {
				return nil, err
			}
			med, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("api: bad med %q", v)
			}
			attrs = append(attrs, attribute.NewMED(uint32(med)))
		case "local-preference":
			v, err := next("local-preference")
			if err != nil {
				return nil, err
			}
			lp, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("api: bad local-preference %q", v)
			}
			attrs = append(attrs, attribute.NewLocalPref(uint32(lp)))
		case "origin":
			v, err := next("origin")
			if err != nil {
				return nil, err
			}
			switch v {
			case "igp":
				attrs[0] = attribute.NewOrigin(attribute.OriginIGP)
			case "egp":
				attrs[0] = attribute.NewOrigin(attribute.OriginEGP)
			case "incomplete":
				attrs[0] = attribute.NewOrigin(attribute.OriginIncomplete)
			default:
				return nil, fmt.Errorf("api: bad origin %q", v)
			}
		case "as-path":
			segs, n, err := parseASPathTokens(args[i+1:])
			if err != nil {
				return nil, err
			}
			asPath = attribute.NewASPath(segs, true)
			i += n
		case "community":
			values, n, err := parseCommunityTokens(args[i+1:])
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, attribute.NewCommunities(values))
			i += n
		case "extended-community":
			values, n, err := parseExtCommunityTokens(args[i+1:])
			if err != nil {
				return nil, err
			}
			extComms = values
			i += n
		case "large-community":
			values, n, err := parseLargeCommunityTokens(args[i+1:])
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, attribute.NewLargeCommunities(values))
			i += n
		case "label":
			v, err := next("label")
			if err != nil {
				return nil, err
			}
			l, err := strconv.ParseUint(v, 10, 20)
			if err != nil {
				return nil, fmt.Errorf("api: bad label %q", v)
			}
			labels = append(labels, wire.LabelFromValue(uint32(l), true))
		case "rd", "route-distinguisher":
			v, err := next("rd")
			if err != nil {
				return nil, err
			}
			if rd, err = wire.ParseRDString(v); err != nil {
				return nil, err
			}
			hasRD = true
		case "path-information":
			v, err := next("path-information")
			if err != nil {
				return nil, err
			}
			id, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("api: bad path-information %q", v)
			}
			pathID = wire.PathID(id)
		case "watchdog":
			v, err := next("watchdog")
			if err != nil {
				return nil, err
			}
			watchdog = v
		case "aigp":
			v, err := next("aigp")
			if err != nil {
				return nil, err
			}
			metric, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("api: bad aigp %q", v)
			}
			attrs = append(attrs, attribute.NewAIGP(metric))
		default:
			return nil, fmt.Errorf("api: unknown route token %q", args[i])
		}
		i++
	}

	n := buildRouteNLRI(prefix, labels, rd, hasRD)
	n.SetPathID(pathID)

	if withdraw {
		c := rib.Withdraw(n)
		c.Watchdog = watchdog
		return c, nil
	}

	if !nexthop.IsValid() {
		return nil, fmt.Errorf("api: announce needs a next-hop")
	}
	n.SetNextHop(nexthop)
	if n.Family() == family.IPv4Unicast {
		attrs = append(attrs, attribute.NewNextHop(nexthop))
	}
	if len(extComms) > 0 {
		attrs = append(attrs, attribute.NewExtCommunities(extComms))
	}

	// Emit in ascending type-code order, the way routers do.
	ordered := []attribute.Attribute{attrs[0], asPath}
	ordered = append(ordered, attrs[1:]...)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Code() < ordered[b].Code()
	})
	c := rib.Announce(n, attribute.NewCollection(ordered...))
	c.Watchdog = watchdog
	return c, nil
}

func buildRouteNLRI(prefix wire.Prefix, labels wire.Labels, rd wire.RD, hasRD bool) nlri.NLRI {
	afi := family.AFIIPv4
	if prefix.Addr.Is6() {
		afi = family.AFIIPv6
	}
	switch {
	case hasRD:
		if len(labels) == 0 {
			labels = wire.Labels{wire.LabelFromValue(0, true)}
		}
		return nlri.NewVPN(family.Family{AFI: afi, SAFI: family.SAFIMPLSVPN}, rd, prefix, labels)
	case len(labels) > 0:
		return nlri.NewLabeled(family.Family{AFI: afi, SAFI: family.SAFILabeled}, prefix, labels)
	default:
		return nlri.NewUnicast(family.Family{AFI: afi, SAFI: family.SAFIUnicast}, prefix)
	}
}

// parseASPathTokens reads `[ 65001 65002 ]` or a single ASN.
func parseASPathTokens(args []string) ([]attribute.Segment, int, error) {
	if len(args) == 0 {
		return nil, 0, fmt.Errorf("api: as-path needs a value")
	}
	if args[0] != "[" {
		asn, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("api: bad as-path %q", args[0])
		}
		return []attribute.Segment{{Type: attribute.SegmentSequence, ASNs: []uint32{uint32(asn)}}}, 1, nil
	}
	var asns []uint32
	for i := 1; i < len(args); i++ {
		if args[i] == "]" {
			if len(asns) == 0 {
				return nil, i + 1, nil
			}
			return []attribute.Segment{{Type: attribute.SegmentSequence, ASNs: asns}}, i + 1, nil
		}
		asn, err := strconv.ParseUint(args[i], 10, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("api: bad as-path entry %q", args[i])
		}
		asns = append(asns, uint32(asn))
	}
	return nil, 0, fmt.Errorf("api: as-path missing closing bracket")
}

func bracketed(args []string, parse func(string) error) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("api: missing value")
	}
	if args[0] != "[" {
		return 1, parse(args[0])
	}
	for i := 1; i < len(args); i++ {
		if args[i] == "]" {
			return i + 1, nil
		}
		if err := parse(args[i]); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("api: missing closing bracket")
}

func parseCommunityTokens(args []string) ([]uint32, int, error) {
	var values []uint32
	n, err := bracketed(args, func(s string) error {
		v, err := parseCommunity(s)
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	return values, n, err
}

func parseCommunity(s string) (uint32, error) {
	switch s {
	case "no-export":
		return attribute.CommunityNoExport, nil
	case "no-advertise":
		return attribute.CommunityNoAdvertise, nil
	case "blackhole":
		return attribute.CommunityBlackhole, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("api: bad community %q", s)
	}
	hi, err1 := strconv.ParseUint(parts[0], 10, 16)
	lo, err2 := strconv.ParseUint(parts[1], 10, 16)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("api: bad community %q", s)
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

func parseExtCommunityTokens(args []string) ([][]byte, int, error) {
	var values [][]byte
	n, err := bracketed(args, func(s string) error {
		v, err := parseExtCommunity(s)
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	return values, n, err
}

// parseExtCommunity accepts target:asn:value and origin:asn:value.
func parseExtCommunity(s string) ([]byte, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("api: bad extended community %q", s)
	}
	var sub byte
	switch parts[0] {
	case "target":
		sub = 0x02
	case "origin":
		sub = 0x03
	default:
		return nil, fmt.Errorf("api: bad extended community kind %q", parts[0])
	}
	out := make([]byte, 8)
	out[1] = sub
	if ip, err := netip.ParseAddr(parts[1]); err == nil && ip.Is4() {
		out[0] = 0x01
		v4 := ip.As4()
		copy(out[2:6], v4[:])
		val, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("api: bad extended community value %q", parts[2])
		}
		out[6] = byte(val >> 8)
		out[7] = byte(val)
		return out, nil
	}
	asn, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("api: bad extended community asn %q", parts[1])
	}
	if asn > 0xFFFF {
		out[0] = 0x02
		out[2] = byte(asn >> 24)
		out[3] = byte(asn >> 16)
		out[4] = byte(asn >> 8)
		out[5] = byte(asn)
		val, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("api: bad extended community value %q", parts[2])
		}
		out[6] = byte(val >> 8)
		out[7] = byte(val)
		return out, nil
	}
	out[0] = 0x00
	out[2] = byte(asn >> 8)
	out[3] = byte(asn)
	val, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("api: bad extended community value %q", parts[2])
	}
	out[4] = byte(val >> 24)
	out[5] = byte(val >> 16)
	out[6] = byte(val >> 8)
	out[7] = byte(val)
	return out, nil
}

func parseLargeCommunityTokens(args []string) ([][]byte, int, error) {
	var values [][]byte
	n, err := bracketed(args, func(s string) error {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return fmt.Errorf("api: bad large community %q", s)
		}
		out := make([]byte, 12)
		for j, p := range parts {
			v, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return fmt.Errorf("api: bad large community %q", s)
			}
			out[j*4] = byte(v >> 24)
			out[j*4+1] = byte(v >> 16)
			out[j*4+2] = byte(v >> 8)
			out[j*4+3] = byte(v)
		}
		values = append(values, out)
		return nil
	})
	return values, n, err
}
