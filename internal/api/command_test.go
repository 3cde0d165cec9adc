package api

import (
	"net/netip"
	"testing"
	"time"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/nlri"
	"github.com/exa-networks/exabgp/internal/peer"
)

func testNeighbor() *peer.Neighbor {
	return &peer.Neighbor{
		PeerAddress:  netip.MustParseAddr("192.0.2.10"),
		LocalAddress: netip.MustParseAddr("192.0.2.1"),
		PeerASN:      65001,
		LocalASN:     65000,
		RouterID:     netip.MustParseAddr("1.1.1.1"),
		HoldTime:     180,
		ConnectRetry: 120 * time.Second,
		Families:     []family.Family{family.IPv4Unicast},
	}
}

func TestParseSelector(t *testing.T) {
	cmd, err := Parse("neighbor 192.0.2.10 announce route 10.0.0.0/24 next-hop 192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Verb != "announce" {
		t.Errorf("verb %q", cmd.Verb)
	}
	if len(cmd.Selector.Peers) != 1 || cmd.Selector.Peers[0].String() != "192.0.2.10" {
		t.Errorf("selector %+v", cmd.Selector)
	}
	if cmd.Args[0] != "route" {
		t.Errorf("args %v", cmd.Args)
	}
}

func TestParseSelectorConjunction(t *testing.T) {
	cmd, err := Parse("peer-as 65001 local-as 65000 show neighbor")
	if err != nil {
		t.Fatal(err)
	}
	n := testNeighbor()
	if !cmd.Selector.Matches(n) {
		t.Fatal("conjunction should match")
	}
	n.PeerASN = 65002
	if cmd.Selector.Matches(n) {
		t.Fatal("conjunction must require every attribute")
	}
}

func TestParseSelectorWildcard(t *testing.T) {
	cmd, err := Parse("neighbor * teardown 2")
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.Selector.All || cmd.Verb != "teardown" {
		t.Fatalf("%+v", cmd)
	}
	if !cmd.Selector.Matches(testNeighbor()) {
		t.Fatal("wildcard must match everything")
	}
}

func TestParseEmptySelectorMatchesAll(t *testing.T) {
	cmd, err := Parse("shutdown")
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.Selector.Matches(testNeighbor()) {
		t.Fatal("no selector means every peer")
	}
}

func TestParseErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"neighbor",
		"neighbor not-an-ip announce",
		"peer-as x show",
		"neighbor 192.0.2.1",
	} {
		if _, err := Parse(line); err == nil {
			t.Errorf("expected error for %q", line)
		}
	}
}

func TestParseRouteAnnounce(t *testing.T) {
	args := []string{"10.0.0.0/24", "next-hop", "192.0.2.1", "med", "100",
		"community", "[", "65000:1", "no-export", "]"}
	c, err := ParseRoute(args, false, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	if c.IsWithdraw() {
		t.Fatal("announce expected")
	}
	if c.NLRI.Family() != family.IPv4Unicast {
		t.Errorf("family %s", c.NLRI.Family())
	}
	med, ok := c.Attributes.Get(attribute.CodeMED)
	if !ok {
		t.Fatal("med missing")
	}
	if v, _ := attribute.MED(med); v != 100 {
		t.Errorf("med %d", v)
	}
	comm, ok := c.Attributes.Get(attribute.CodeCommunities)
	if !ok {
		t.Fatal("communities missing")
	}
	values := comm.(*attribute.Communities).Values
	if len(values) != 2 || values[1] != attribute.CommunityNoExport {
		t.Errorf("communities %v", values)
	}
	// eBGP: as-path carries the local asn.
	path, _ := c.Attributes.Get(attribute.CodeASPath)
	if path.(*attribute.ASPath).Segments[0].ASNs[0] != 65000 {
		t.Error("as-path must carry the local asn toward an ebgp peer")
	}
}

func TestParseRouteWithdraw(t *testing.T) {
	c, err := ParseRoute([]string{"10.0.0.0/24"}, true, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsWithdraw() {
		t.Fatal("withdraw expected")
	}
	if c.Attributes != nil {
		t.Fatal("withdraw carries no attributes")
	}
}

func TestParseRouteVPN(t *testing.T) {
	args := []string{"10.1.0.0/16", "rd", "65000:1", "label", "300",
		"next-hop", "192.0.2.9", "extended-community", "target:65000:1"}
	c, err := ParseRoute(args, false, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	if c.NLRI.Family() != family.IPv4MPLSVPN {
		t.Fatalf("family %s", c.NLRI.Family())
	}
	v := c.NLRI.(*nlri.VPN)
	if v.Labels[0].Value() != 300 {
		t.Errorf("label %d", v.Labels[0].Value())
	}
	if !c.Attributes.Has(attribute.CodeExtCommunities) {
		t.Error("route-target missing")
	}
}

func TestParseRouteNextHopSelf(t *testing.T) {
	c, err := ParseRoute([]string{"10.0.0.0/24", "next-hop", "self"}, false, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	if c.NLRI.NextHop().String() != "192.0.2.1" {
		t.Errorf("next-hop %s", c.NLRI.NextHop())
	}

	bare := testNeighbor()
	bare.LocalAddress = netip.Addr{}
	if _, err := ParseRoute([]string{"10.0.0.0/24", "next-hop", "self"}, false, bare); err == nil {
		t.Fatal("self without a local address must fail")
	}
}

func TestParseRouteRejectsGarbage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"10.0.0.0/24"}, // announce without next-hop
		{"10.0.0.0/24", "next-hop", "banana"},
		{"10.0.0.0/24", "next-hop", "192.0.2.1", "med", "many"},
		{"10.0.0.0/24", "next-hop", "192.0.2.1", "frobnicate", "1"},
	} {
		if _, err := ParseRoute(args, false, testNeighbor()); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestPathInformationShapesIndex(t *testing.T) {
	a, err := ParseRoute([]string{"10.0.0.0/24", "next-hop", "192.0.2.1", "path-information", "1"}, false, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseRoute([]string{"10.0.0.0/24", "next-hop", "192.0.2.1", "path-information", "2"}, false, testNeighbor())
	if err != nil {
		t.Fatal(err)
	}
	if a.Index() == b.Index() {
		t.Fatal("distinct path-ids must be distinct routes")
	}
}
