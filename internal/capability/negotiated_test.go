package capability

import (
	"testing"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Scenario: A offers {v4, v6} with AS4 and ADD-PATH send for v6; B
// offers {v4} only. The agreement is v4 only, no AS4, no ADD-PATH.
func TestNegotiateIntersection(t *testing.T) {
	local := &Set{
		Families: []family.Family{family.IPv4Unicast, family.IPv6Unicast},
		AS4:      65536,
		OfferAS4: true,
		AddPath: map[family.Family]AddPathDirection{
			family.IPv6Unicast: AddPathSend,
		},
	}
	remote := &Set{
		Families: []family.Family{family.IPv4Unicast},
	}
	neg, notify := Negotiate(local, remote, 65536, 65001, 180, 180)
	if notify != nil {
		t.Fatalf("notify: %v", notify)
	}
	if len(neg.Families) != 1 || neg.Families[0] != family.IPv4Unicast {
		t.Fatalf("families %v", neg.Families)
	}
	if neg.AS4 {
		t.Error("as4 must be off without mutual support")
	}
	if neg.AddPathSendFor(family.IPv6Unicast) || neg.AddPathSendFor(family.IPv4Unicast) {
		t.Error("add-path must be off")
	}
	if neg.MsgSize != MaxMessageSize {
		t.Errorf("msg size %d", neg.MsgSize)
	}
}

func TestNegotiateEmptyIntersectionFails(t *testing.T) {
	local := &Set{Families: []family.Family{family.IPv6Unicast}}
	remote := &Set{Families: []family.Family{family.IPv4Unicast}}
	_, notify := Negotiate(local, remote, 65000, 65001, 180, 180)
	if notify == nil || notify.Code != wire.NotifyOpenError || notify.Subcode != wire.OpenUnsupportedCap {
		t.Fatalf("expected (2,7), got %v", notify)
	}
}

func TestNegotiateAS4(t *testing.T) {
	local := &Set{
		Families: []family.Family{family.IPv4Unicast},
		AS4:      70000, OfferAS4: true,
	}
	remote := &Set{
		Families: []family.Family{family.IPv4Unicast},
		AS4:      4200000000, OfferAS4: true,
	}
	// The OPEN header said AS_TRANS; the capability carries the truth.
	neg, notify := Negotiate(local, remote, 70000, 23456, 180, 180)
	if notify != nil {
		t.Fatal(notify)
	}
	if !neg.AS4 || neg.PeerASN != 4200000000 {
		t.Fatalf("as4 %v peer %d", neg.AS4, neg.PeerASN)
	}
}

func TestNegotiateHoldTime(t *testing.T) {
	local := &Set{Families: []family.Family{family.IPv4Unicast}}
	remote := &Set{Families: []family.Family{family.IPv4Unicast}}

	neg, notify := Negotiate(local, remote, 65000, 65001, 180, 90)
	if notify != nil || neg.HoldTime != 90 {
		t.Fatalf("hold %d notify %v", neg.HoldTime, notify)
	}

	// Zero disables timers and is legal.
	neg, notify = Negotiate(local, remote, 65000, 65001, 180, 0)
	if notify != nil || neg.HoldTime != 0 {
		t.Fatalf("hold %d notify %v", neg.HoldTime, notify)
	}

	// 1 and 2 are illegal.
	if _, notify = Negotiate(local, remote, 65000, 65001, 180, 2); notify == nil || notify.Subcode != wire.OpenUnacceptableHold {
		t.Fatal("expected (2,6)")
	}
}

func TestNegotiateAddPathDirections(t *testing.T) {
	mk := func(dir AddPathDirection) *Set {
		return &Set{
			Families: []family.Family{family.IPv4Unicast},
			AddPath:  map[family.Family]AddPathDirection{family.IPv4Unicast: dir},
		}
	}
	neg, notify := Negotiate(mk(AddPathBoth), mk(AddPathBoth), 1, 2, 180, 180)
	if notify != nil {
		t.Fatal(notify)
	}
	if !neg.AddPathSendFor(family.IPv4Unicast) || !neg.AddPathRecvFor(family.IPv4Unicast) {
		t.Fatal("both/both must enable both directions")
	}

	// We send only when we offered send and they offered receive.
	neg, _ = Negotiate(mk(AddPathSend), mk(AddPathSend), 1, 2, 180, 180)
	if neg.AddPathSendFor(family.IPv4Unicast) || neg.AddPathRecvFor(family.IPv4Unicast) {
		t.Fatal("send/send agrees on nothing")
	}

	neg, _ = Negotiate(mk(AddPathSend), mk(AddPathReceive), 1, 2, 180, 180)
	if !neg.AddPathSendFor(family.IPv4Unicast) || neg.AddPathRecvFor(family.IPv4Unicast) {
		t.Fatal("send/receive enables the send direction only")
	}
}

func TestNegotiateRefreshAndExtendedMessage(t *testing.T) {
	base := func() *Set { return &Set{Families: []family.Family{family.IPv4Unicast}} }

	l, r := base(), base()
	l.RouteRefreshOld = true
	r.RouteRefresh = true
	neg, _ := Negotiate(l, r, 1, 2, 180, 180)
	if neg.RouteRefresh != RefreshNormal {
		t.Error("old and new refresh codes must interoperate")
	}

	l, r = base(), base()
	l.EnhancedRR, r.EnhancedRR = true, true
	l.RouteRefresh, r.RouteRefresh = true, true
	neg, _ = Negotiate(l, r, 1, 2, 180, 180)
	if neg.RouteRefresh != RefreshEnhanced {
		t.Error("mutual enhanced refresh must win")
	}

	l, r = base(), base()
	l.ExtendedMessage = true
	neg, _ = Negotiate(l, r, 1, 2, 180, 180)
	if neg.MsgSize != MaxMessageSize {
		t.Error("one-sided extended message must stay at 4096")
	}
	r.ExtendedMessage = true
	neg, _ = Negotiate(l, r, 1, 2, 180, 180)
	if neg.MsgSize != MaxExtendedMessageSize {
		t.Error("mutual extended message must raise the cap")
	}
}

func TestCollision(t *testing.T) {
	// Local 2.2.2.2 vs peer 1.1.1.1: the local side keeps the connection
	// it initiated.
	local := uint32(0x02020202)
	remote := uint32(0x01010101)
	if !CollisionKeepExisting(local, remote) {
		t.Fatal("higher id keeps its own connection")
	}
	if CollisionKeepExisting(remote, local) {
		t.Fatal("lower id yields")
	}
}

func TestCapabilityRoundTrip(t *testing.T) {
	s := &Set{
		Families:        []family.Family{family.IPv4Unicast, family.IPv6Unicast, family.L2VPNEVPN},
		AS4:             70000,
		OfferAS4:        true,
		RouteRefresh:    true,
		RouteRefreshOld: true,
		EnhancedRR:      true,
		ExtendedMessage: true,
		AddPath: map[family.Family]AddPathDirection{
			family.IPv4Unicast: AddPathBoth,
		},
		OfferGR:     true,
		RestartTime: 120,
		GRFamilies:  []GRFamily{{Family: family.IPv4Unicast, Flags: 0x80}},
		Hostname:    "rt1",
		Domain:      "example.net",
		SoftwareVersion: "exabgp/5",
	}
	parsed, err := Parse(s.Pack())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.HasFamily(family.L2VPNEVPN) {
		t.Error("families lost")
	}
	if !parsed.OfferAS4 || parsed.AS4 != 70000 {
		t.Error("as4 lost")
	}
	if parsed.AddPath[family.IPv4Unicast] != AddPathBoth {
		t.Error("add-path lost")
	}
	if parsed.RestartTime != 120 || len(parsed.GRFamilies) != 1 {
		t.Error("graceful restart lost")
	}
	if parsed.Hostname != "rt1" || parsed.Domain != "example.net" {
		t.Errorf("hostname %q domain %q", parsed.Hostname, parsed.Domain)
	}
	if parsed.SoftwareVersion != "exabgp/5" {
		t.Errorf("software version %q", parsed.SoftwareVersion)
	}
}

func TestUnknownCapabilityRecorded(t *testing.T) {
	data := []byte{200, 2, 0xAA, 0xBB, 2, 0}
	s, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Unknown) != 1 || s.Unknown[0].Code != 200 {
		t.Fatal("unknown capability must be recorded")
	}
	if !s.RouteRefresh {
		t.Fatal("parsing must continue past unknown capabilities")
	}
}
