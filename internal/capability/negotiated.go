package capability

import (
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Message size limits; the larger applies only when both sides advertise
// the Extended Message capability (RFC 8654).
const (
	MaxMessageSize         = 4096
	MaxExtendedMessageSize = 65535
)

// RouteRefreshLevel is the negotiated refresh support.
type RouteRefreshLevel uint8

const (
	RefreshNone RouteRefreshLevel = iota
	RefreshNormal
	RefreshEnhanced
)

// Negotiated is the immutable per-session agreement derived from the
// local offer and the remote OPEN.
type Negotiated struct {
	AS4          bool
	LocalASN     uint32
	PeerASN      uint32
	HoldTime     uint16
	Families     []family.Family
	addPathSend  map[family.Family]bool
	addPathRecv  map[family.Family]bool
	RouteRefresh RouteRefreshLevel
	MsgSize      int
	GRFamilies   map[family.Family]uint8
	Hostname     string
	SoftwareVersion string
}

func (n *Negotiated) AddPathSendFor(f family.Family) bool { return n.addPathSend[f] }
func (n *Negotiated) AddPathRecvFor(f family.Family) bool { return n.addPathRecv[f] }

func (n *Negotiated) HasFamily(f family.Family) bool {
	for _, have := range n.Families {
		if have == f {
			return true
		}
	}
	return false
}

// Negotiate computes the session agreement per the capability
// intersection rules. remoteASN is MY_AS from the OPEN header; the AS4
// capability value overrides it when mutual.
func Negotiate(local, remote *Set, localASN uint32, remoteASN uint32, offeredHold, remoteHold uint16) (*Negotiated, *wire.Notify) {
	n := &Negotiated{
		LocalASN:    localASN,
		PeerASN:     remoteASN,
		addPathSend: make(map[family.Family]bool),
		addPathRecv: make(map[family.Family]bool),
		GRFamilies:  make(map[family.Family]uint8),
		MsgSize:     MaxMessageSize,
		Hostname:    remote.Hostname,
		SoftwareVersion: remote.SoftwareVersion,
	}

	// Hold time: minimum of both offers; 1 and 2 are illegal.
	n.HoldTime = offeredHold
	if remoteHold < n.HoldTime {
		n.HoldTime = remoteHold
	}
	if n.HoldTime != 0 && n.HoldTime < 3 {
		return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnacceptableHold)
	}

	// Families: intersection of multiprotocol declarations.
	for _, f := range local.Families {
		if remote.HasFamily(f) {
			n.Families = append(n.Families, f)
		}
	}
	family.Sort(n.Families)
	if len(n.Families) == 0 && len(local.Families) > 0 {
		return nil, wire.NewNotify(wire.NotifyOpenError, wire.OpenUnsupportedCap)
	}

	// ASN width.
	if local.OfferAS4 && remote.OfferAS4 {
		n.AS4 = true
		n.PeerASN = remote.AS4
	}

	// ADD-PATH: logical AND of declared directions, per family.
	for f, localDir := range local.AddPath {
		remoteDir, ok := remote.AddPath[f]
		if !ok || !n.HasFamily(f) {
			continue
		}
		// We may send when we declared send and they declared receive.
		if localDir&AddPathSend != 0 && remoteDir&AddPathReceive != 0 {
			n.addPathSend[f] = true
		}
		if localDir&AddPathReceive != 0 && remoteDir&AddPathSend != 0 {
			n.addPathRecv[f] = true
		}
	}

	// Route refresh.
	if (local.RouteRefresh || local.RouteRefreshOld) && (remote.RouteRefresh || remote.RouteRefreshOld) {
		n.RouteRefresh = RefreshNormal
	}
	if local.EnhancedRR && remote.EnhancedRR {
		n.RouteRefresh = RefreshEnhanced
	}

	// Extended message.
	if local.ExtendedMessage && remote.ExtendedMessage {
		n.MsgSize = MaxExtendedMessageSize
	}

	// Graceful restart: record the per-family forwarding flags only.
	if local.OfferGR && remote.OfferGR {
		for _, g := range remote.GRFamilies {
			if n.HasFamily(g.Family) {
				n.GRFamilies[g.Family] = g.Flags
			}
		}
	}

	return n, nil
}

// CollisionKeepExisting implements RFC 4271 §6.8: returns true when the
// connection initiated locally survives, comparing BGP identifiers
// numerically. The side with the higher id keeps the connection it
// initiated.
func CollisionKeepExisting(localID, remoteID uint32) bool {
	return localID > remoteID
}
