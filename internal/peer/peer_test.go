package peer

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/message"
	"github.com/exa-networks/exabgp/internal/nlri"
	"github.com/exa-networks/exabgp/internal/rib"
	"github.com/exa-networks/exabgp/internal/wire"
)

// remote is a scripted BGP speaker on the far side of a pipe.
type remote struct {
	conn   net.Conn
	frames chan frame
}

type frame struct {
	msgType message.Type
	body    []byte
}

func newRemote(conn net.Conn) *remote {
	r := &remote{conn: conn, frames: make(chan frame, 64)}
	go r.readLoop()
	return r
}

func (r *remote) readLoop() {
	header := make([]byte, message.HeaderSize)
	for {
		if _, err := io.ReadFull(r.conn, header); err != nil {
			close(r.frames)
			return
		}
		bodyLen, msgType, notify := message.ParseHeader(header, 65535)
		if notify != nil {
			close(r.frames)
			return
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r.conn, body); err != nil {
			close(r.frames)
			return
		}
		r.frames <- frame{msgType: msgType, body: body}
	}
}

func (r *remote) expect(t *testing.T, want message.Type) frame {
	t.Helper()
	select {
	case f, ok := <-r.frames:
		if !ok {
			t.Fatalf("connection closed waiting for %s", want)
		}
		if f.msgType != want {
			t.Fatalf("got %s, want %s", f.msgType, want)
		}
		return f
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s", want)
	}
	return frame{}
}

func (r *remote) send(t *testing.T, raw []byte) {
	t.Helper()
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := r.conn.Write(raw); err != nil {
		t.Fatalf("remote write: %v", err)
	}
}

// pump runs peer events until the condition holds.
func pump(t *testing.T, p *Peer, events chan Event, until func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !until() {
		select {
		case ev := <-events:
			p.HandleEvent(ev)
			p.DrainRIB()
		case <-deadline:
			t.Fatalf("timeout in state %s (%s)", p.State(), p.LastError())
		}
	}
}

func establish(t *testing.T) (*Peer, *remote, chan Event) {
	t.Helper()
	events := make(chan Event, 256)
	n := testNeighbor()
	n.Passive = true
	p := New(n, events, attribute.NewCache(0), Hooks{}, zap.NewNop())
	p.Start()
	if p.State() != Active {
		t.Fatalf("passive peer in %s", p.State())
	}

	client, server := net.Pipe()
	r := newRemote(client)
	p.HandleIncoming(Accept(n.Key(), server, events, zap.NewNop()))

	r.expect(t, message.TypeOpen)
	caps := &capability.Set{
		Families:     []family.Family{family.IPv4Unicast, family.IPv6Unicast},
		RouteRefresh: true,
		AS4:          65001,
		OfferAS4:     true,
	}
	open := message.NewOpen(65001, 90, netip.MustParseAddr("9.9.9.9"), caps)
	r.send(t, open.Frame())
	r.send(t, message.KeepAlive{}.Frame())

	pump(t, p, events, func() bool { return p.State() == Established })
	r.expect(t, message.TypeKeepAlive)
	return p, r, events
}

func TestSessionEstablishAndEOR(t *testing.T) {
	p, r, _ := establish(t)

	// One End-of-RIB per negotiated family, in family order: the IPv4
	// marker is the 23-byte empty UPDATE.
	eor4 := r.expect(t, message.TypeUpdate)
	if len(eor4.body) != 4 {
		t.Fatalf("ipv4 eor body %d bytes", len(eor4.body))
	}
	eor6 := r.expect(t, message.TypeUpdate)
	u, notify := message.ParseUpdate(eor6.body, attribute.Context{})
	if notify != nil {
		t.Fatal(notify)
	}
	if f, ok := u.EOR(); !ok || f != family.IPv6Unicast {
		t.Fatal("second eor must be ipv6 unicast")
	}

	if p.Negotiated() == nil || p.Negotiated().PeerASN != 65001 {
		t.Fatal("negotiation lost")
	}
}

func TestAnnounceReachesWire(t *testing.T) {
	p, r, events := establish(t)
	r.expect(t, message.TypeUpdate) // eor v4
	r.expect(t, message.TypeUpdate) // eor v6

	prefix, _ := wire.ParsePrefixString("10.0.0.0/24")
	n := nlri.NewUnicast(family.IPv4Unicast, prefix)
	n.SetNextHop(netip.MustParseAddr("192.0.2.1"))
	attrs := attribute.NewCollection(
		attribute.NewOrigin(attribute.OriginIGP),
		attribute.NewASPath(nil, true),
		attribute.NewNextHop(netip.MustParseAddr("192.0.2.1")),
	)
	if !p.Enqueue(rib.Announce(n, attrs)) {
		t.Fatal("enqueue refused")
	}
	p.DrainRIB()

	f := r.expect(t, message.TypeUpdate)
	u, notify := message.ParseUpdate(f.body, attribute.Context{AS4: true})
	if notify != nil {
		t.Fatal(notify)
	}
	announced := u.AllAnnounced()
	if len(announced) != 1 || announced[0].String() != "10.0.0.0/24" {
		t.Fatalf("announced %v", announced)
	}
	_ = events
}

func TestUpdateReceivedReachesHook(t *testing.T) {
	events := make(chan Event, 256)
	n := testNeighbor()
	n.Passive = true
	var got []nlri.NLRI
	hooks := Hooks{
		UpdateIn: func(_ *Peer, u *message.Update, _ []byte) {
			got = append(got, u.AllAnnounced()...)
		},
	}
	p := New(n, events, attribute.NewCache(0), hooks, zap.NewNop())
	p.Start()
	client, server := net.Pipe()
	r := newRemote(client)
	p.HandleIncoming(Accept(n.Key(), server, events, zap.NewNop()))
	r.expect(t, message.TypeOpen)
	caps := &capability.Set{Families: []family.Family{family.IPv4Unicast}, AS4: 65001, OfferAS4: true}
	r.send(t, message.NewOpen(65001, 90, netip.MustParseAddr("9.9.9.9"), caps).Frame())
	r.send(t, message.KeepAlive{}.Frame())
	pump(t, p, events, func() bool { return p.State() == Established })
	r.expect(t, message.TypeKeepAlive)
	r.expect(t, message.TypeUpdate) // eor

	// announce 192.168.0.0/16 from the remote
	pathAttrs := []byte{0x40, 1, 1, 0}
	pathAttrs = append(pathAttrs, 0x40, 2, 6, 2, 1, 0, 0, 0xFD, 0xE9)
	pathAttrs = append(pathAttrs, 0x40, 3, 4, 9, 9, 9, 9)
	body := []byte{0, 0}
	body = append(body, byte(len(pathAttrs)>>8), byte(len(pathAttrs)))
	body = append(body, pathAttrs...)
	body = append(body, 16, 192, 168)
	r.send(t, message.Pack(message.TypeUpdate, body))

	pump(t, p, events, func() bool { return len(got) > 0 })
	if got[0].String() != "192.168.0.0/16" {
		t.Fatalf("received %s", got[0])
	}
	if p.State() != Established {
		t.Fatal("session must survive a valid update")
	}
}

func TestStopSendsShutdownNotification(t *testing.T) {
	p, r, _ := establish(t)
	r.expect(t, message.TypeUpdate)
	r.expect(t, message.TypeUpdate)

	p.Stop("maintenance")
	f := r.expect(t, message.TypeNotification)
	notification, err := message.ParseNotification(f.body)
	if err != nil {
		t.Fatal(err)
	}
	if notification.Code != 6 || notification.Subcode != 2 {
		t.Fatalf("code %d subcode %d", notification.Code, notification.Subcode)
	}
	if notification.Communication() != "maintenance" {
		t.Errorf("communication %q", notification.Communication())
	}
	if p.State() != Idle || p.Enabled() {
		t.Fatal("manual stop must land in idle without restart")
	}
}

func TestNotificationReceivedResetsSession(t *testing.T) {
	p, r, events := establish(t)
	r.expect(t, message.TypeUpdate)
	r.expect(t, message.TypeUpdate)

	notification := message.NewNotification(wire.NewNotify(wire.NotifyCease, wire.CeaseShutdown))
	r.send(t, notification.Frame())
	pump(t, p, events, func() bool { return p.State() != Established })
	if p.State() != Idle {
		t.Fatalf("state %s", p.State())
	}
	if !p.Enabled() {
		t.Fatal("a remote notification must leave the peer retrying")
	}
}

func TestRouteRefreshTriggersResend(t *testing.T) {
	p, r, events := establish(t)
	r.expect(t, message.TypeUpdate)
	r.expect(t, message.TypeUpdate)

	prefix, _ := wire.ParsePrefixString("10.0.0.0/24")
	n := nlri.NewUnicast(family.IPv4Unicast, prefix)
	n.SetNextHop(netip.MustParseAddr("192.0.2.1"))
	attrs := attribute.NewCollection(
		attribute.NewOrigin(attribute.OriginIGP),
		attribute.NewASPath(nil, true),
		attribute.NewNextHop(netip.MustParseAddr("192.0.2.1")),
	)
	p.Enqueue(rib.Announce(n, attrs))
	p.DrainRIB()
	r.expect(t, message.TypeUpdate)

	rr := &message.RouteRefresh{Family: family.IPv4Unicast, Subtype: message.RefreshRequest}
	r.send(t, rr.Frame())
	pump(t, p, events, func() bool { return p.Stats().MessagesIn["route-refresh"] == 1 })

	f := r.expect(t, message.TypeUpdate)
	u, notify := message.ParseUpdate(f.body, attribute.Context{AS4: true})
	if notify != nil {
		t.Fatal(notify)
	}
	if len(u.AllAnnounced()) != 1 {
		t.Fatal("refresh must resend the adj-rib-out")
	}
}
