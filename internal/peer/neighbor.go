package peer

import (
	"net/netip"
	"time"

	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/family"
)

// Neighbor is the configuration-time descriptor of one BGP peering. It
// is immutable once handed to a Peer; a reload swaps the whole value.
type Neighbor struct {
	PeerAddress  netip.Addr
	LocalAddress netip.Addr
	PeerPort     int
	PeerASN      uint32
	LocalASN     uint32
	RouterID     netip.Addr
	HoldTime     uint16
	ConnectRetry time.Duration
	Families     []family.Family
	AddPath      map[family.Family]capability.AddPathDirection

	RouteRefresh    bool
	EnhancedRR      bool
	ExtendedMessage bool
	GracefulRestart uint16 // restart time; 0 disables the capability
	Hostname        string
	Domain          string
	SoftwareVersion string

	Passive      bool
	MD5Password  string
	OutgoingTTL  int
	GroupUpdates bool
	RateLimit    int // messages handled per second; 0 = unlimited

	// Incoming is the source prefix an unconfigured incoming connection
	// may match this neighbor from; zero means the exact peer address.
	Incoming netip.Prefix

	// API event emission toggles.
	EmitUpdates    bool
	EmitKeepalives bool
	EmitRaw        bool
}

// Key identifies the peer in the reactor's table.
func (n *Neighbor) Key() string { return n.PeerAddress.String() }

// Matches reports whether an incoming connection source may belong to
// this neighbor.
func (n *Neighbor) Matches(source netip.Addr) bool {
	if n.Incoming.IsValid() {
		return n.Incoming.Contains(source)
	}
	return source == n.PeerAddress
}

// Capabilities assembles the local capability offer.
func (n *Neighbor) Capabilities() *capability.Set {
	set := &capability.Set{
		Families:        append([]family.Family(nil), n.Families...),
		RouteRefresh:    n.RouteRefresh,
		RouteRefreshOld: n.RouteRefresh,
		EnhancedRR:      n.EnhancedRR,
		ExtendedMessage: n.ExtendedMessage,
		AS4:             n.LocalASN,
		OfferAS4:        true,
		AddPath:         n.AddPath,
		Hostname:        n.Hostname,
		Domain:          n.Domain,
		SoftwareVersion: n.SoftwareVersion,
	}
	if n.GracefulRestart > 0 {
		set.OfferGR = true
		set.RestartTime = n.GracefulRestart
		for _, f := range n.Families {
			set.GRFamilies = append(set.GRFamilies, capability.GRFamily{Family: f})
		}
	}
	return set
}

// Equal compares the fields a change of which requires a session bounce.
func (n *Neighbor) Equal(o *Neighbor) bool {
	if n.PeerAddress != o.PeerAddress || n.LocalAddress != o.LocalAddress ||
		n.PeerASN != o.PeerASN || n.LocalASN != o.LocalASN ||
		n.RouterID != o.RouterID || n.HoldTime != o.HoldTime ||
		n.MD5Password != o.MD5Password || n.Passive != o.Passive ||
		n.PeerPort != o.PeerPort || n.ExtendedMessage != o.ExtendedMessage ||
		n.RouteRefresh != o.RouteRefresh || n.EnhancedRR != o.EnhancedRR ||
		n.GracefulRestart != o.GracefulRestart ||
		len(n.Families) != len(o.Families) || len(n.AddPath) != len(o.AddPath) {
		return false
	}
	for i, f := range n.Families {
		if o.Families[i] != f {
			return false
		}
	}
	for f, d := range n.AddPath {
		if o.AddPath[f] != d {
			return false
		}
	}
	return true
}
