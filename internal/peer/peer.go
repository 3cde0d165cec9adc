package peer

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/message"
	"github.com/exa-networks/exabgp/internal/metrics"
	"github.com/exa-networks/exabgp/internal/rib"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Hooks are the reactor-side observers of peer activity. All run on the
// reactor goroutine.
type Hooks struct {
	SessionUp   func(p *Peer)
	SessionDown func(p *Peer, reason string)
	UpdateIn    func(p *Peer, u *message.Update, raw []byte)
	MessageIn   func(p *Peer, t message.Type, body []byte)
	EORIn       func(p *Peer, f family.Family)
}

// Stats are the per-peer counters surfaced by `show neighbor`.
type Stats struct {
	MessagesIn    map[string]uint64 `json:"messages_in"`
	MessagesOut   map[string]uint64 `json:"messages_out"`
	Announced     uint64            `json:"updates_announced"`
	Withdrawn     uint64            `json:"updates_withdrawn"`
	Flaps         uint64            `json:"flaps"`
	Attempts      uint64            `json:"connection_attempts"`
	EstablishedAt time.Time         `json:"established_at,omitempty"`
}

// Peer is the runtime object for one neighbor: FSM state, connections,
// negotiated session values, timers and the Adj-RIB-Out. It is owned and
// mutated exclusively by the reactor goroutine.
type Peer struct {
	neighbor *Neighbor
	events   chan<- Event
	hooks    Hooks
	cache    *attribute.Cache
	log      *zap.Logger

	state   State
	enabled bool

	outgoing *Conn // dial in progress or the surviving outgoing side
	incoming *Conn // accepted connection during collision window
	conn     *Conn // the session connection once one side wins

	openSent map[*Conn]bool
	openRecv map[*Conn]*message.Open

	neg *Negotiation
	RIB *rib.AdjRIBOut

	connectTimer   *time.Timer
	holdTimer      *time.Timer
	keepaliveTimer *time.Timer
	retryInterval  time.Duration

	eorPending map[family.Family]bool
	eorOrder   []family.Family
	eorrOwed   map[family.Family]bool

	tokens     int
	lastRefill time.Time

	stats     Stats
	lastError string
}

// Negotiation bundles what the OPEN exchange produced.
type Negotiation struct {
	*capability.Negotiated
	RemoteID netip.Addr
}

func New(n *Neighbor, events chan<- Event, cache *attribute.Cache, hooks Hooks, log *zap.Logger) *Peer {
	return &Peer{
		neighbor: n,
		events:   events,
		hooks:    hooks,
		cache:    cache,
		log:      log.Named("peer." + n.Key()),
		state:    Idle,
		RIB:      rib.NewAdjRIBOut(n.Families),
		openSent: make(map[*Conn]bool),
		openRecv: make(map[*Conn]*message.Open),
		stats: Stats{
			MessagesIn:  make(map[string]uint64),
			MessagesOut: make(map[string]uint64),
		},
	}
}

func (p *Peer) Key() string         { return p.neighbor.Key() }
func (p *Peer) Neighbor() *Neighbor { return p.neighbor }
func (p *Peer) State() State        { return p.state }
func (p *Peer) Enabled() bool       { return p.enabled }
func (p *Peer) Stats() *Stats       { return &p.stats }
func (p *Peer) LastError() string   { return p.lastError }

// Negotiated returns the session agreement, nil before ESTABLISHED.
func (p *Peer) Negotiated() *Negotiation { return p.neg }

// SetNeighbor replaces the descriptor on reload. The caller bounces the
// session when the change demands it; a family change starts the
// Adj-RIB-Out over.
func (p *Peer) SetNeighbor(n *Neighbor) {
	sameFamilies := len(n.Families) == len(p.neighbor.Families)
	if sameFamilies {
		for i, f := range n.Families {
			if p.neighbor.Families[i] != f {
				sameFamilies = false
				break
			}
		}
	}
	p.neighbor = n
	if !sameFamilies {
		p.RIB = rib.NewAdjRIBOut(n.Families)
	}
}

func (p *Peer) transition(next State) {
	if p.state == next {
		return
	}
	p.log.Info("state change",
		zap.String("from", p.state.String()),
		zap.String("to", next.String()),
	)
	metrics.SessionState.WithLabelValues(p.Key()).Set(float64(next))
	p.state = next
}

// Start is the ManualStart event: begin dialing, or sit and wait when
// the neighbor is passive.
func (p *Peer) Start() {
	if p.enabled {
		return
	}
	p.enabled = true
	p.retryInterval = 0
	p.begin()
}

func (p *Peer) begin() {
	if !p.enabled {
		return
	}
	if p.neighbor.Passive {
		p.transition(Active)
		return
	}
	p.dial()
}

func (p *Peer) dial() {
	p.stats.Attempts++
	p.transition(Connect)
	local := ""
	if p.neighbor.LocalAddress.IsValid() {
		local = p.neighbor.LocalAddress.String()
	}
	port := p.neighbor.PeerPort
	if port == 0 {
		port = 179
	}
	Dial(p.Key(), local, p.neighbor.PeerAddress.String(), port,
		p.neighbor.MD5Password, p.neighbor.OutgoingTTL, p.events, p.log)
}

// Stop is the ManualStop event: an orderly shutdown notification and a
// return to IDLE without automatic restart.
func (p *Peer) Stop(communication string) {
	p.enabled = false
	if p.conn != nil || p.state == OpenSent || p.state == OpenConfirm {
		p.sendNotification(NewShutdownNotify(communication))
	}
	p.teardown("administrative shutdown")
}

// NewShutdownNotify builds the cease notify used for ManualStop.
func NewShutdownNotify(communication string) *wire.Notify {
	n := message.NewShutdown(wire.CeaseShutdown, communication)
	return &wire.Notify{Code: n.Code, Subcode: n.Subcode, Data: n.Data}
}

// Teardown bounces the session with the requested cease subcode; the
// peer stays enabled and reconnects.
func (p *Peer) Teardown(subcode uint8) {
	if p.conn != nil || p.state == OpenSent || p.state == OpenConfirm {
		p.sendNotification(wire.NewNotify(wire.NotifyCease, subcode))
	}
	p.down("teardown")
}

// Restart bounces the session with a cease/reset.
func (p *Peer) Restart(communication string) {
	if p.conn != nil {
		n := message.NewShutdown(wire.CeaseReset, communication)
		p.sendNotification(&n.Notify)
	}
	p.down("administrative reset")
}

// HandleIncoming is TcpConnectionConfirmed: the reactor matched an
// accepted socket to this neighbor.
func (p *Peer) HandleIncoming(conn *Conn) {
	if !p.enabled {
		p.refuse(conn, wire.CeaseConnectionRejected)
		return
	}
	switch p.state {
	case Established:
		// RFC 4271 §6.8: a new connection for an established session is
		// rejected.
		p.refuse(conn, wire.CeaseConnectionRejected)
		return
	case Idle:
		p.transition(Active)
	}
	if p.incoming != nil {
		p.refuse(conn, wire.CeaseConnectionRejected)
		return
	}
	p.incoming = conn
	p.sendOpen(conn)
	if p.state == Active {
		p.transition(OpenSent)
	}
}

func (p *Peer) refuse(conn *Conn, subcode uint8) {
	conn.Send(message.NewNotification(wire.NewNotify(wire.NotifyCease, subcode)).Frame())
	conn.Close()
}

// HandleEvent dispatches one reactor event for this peer.
func (p *Peer) HandleEvent(ev Event) {
	switch ev.Kind {
	case EvDialOK:
		p.handleDialOK(ev.Conn)
	case EvDialFail:
		p.handleDialFail(ev.Err)
	case EvConnClosed:
		p.handleConnClosed(ev.Conn, ev.Err)
	case EvFrame:
		p.handleFrame(ev)
	case EvConnectRetry:
		if p.state == Idle || p.state == Active {
			p.begin()
		}
	case EvHoldExpired:
		p.handleHoldExpired()
	case EvKeepaliveTick:
		p.handleKeepaliveTick()
	}
}

func (p *Peer) handleDialOK(conn *Conn) {
	if !p.enabled || p.state == Established || p.outgoing != nil {
		conn.Close()
		return
	}
	p.outgoing = conn
	p.sendOpen(conn)
	p.transition(OpenSent)
	// A long hold guards the OPEN exchange until negotiation fixes it.
	p.resetHoldTimer(4 * time.Minute)
}

func (p *Peer) handleDialFail(err error) {
	if p.state != Connect {
		return
	}
	p.lastError = err.Error()
	p.log.Warn("connect failed", zap.Error(err))
	p.transition(Active)
	p.scheduleRetry()
}

func (p *Peer) handleConnClosed(conn *Conn, err error) {
	if conn != p.conn && conn != p.outgoing && conn != p.incoming {
		return
	}
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	if conn == p.conn || p.state == OpenSent || p.state == OpenConfirm {
		p.lastError = reason
		p.down(reason)
		return
	}
	p.dropConn(conn)
}

func (p *Peer) dropConn(conn *Conn) {
	conn.Close()
	delete(p.openSent, conn)
	delete(p.openRecv, conn)
	if p.outgoing == conn {
		p.outgoing = nil
	}
	if p.incoming == conn {
		p.incoming = nil
	}
}

func (p *Peer) sendOpen(conn *Conn) {
	open := message.NewOpen(p.neighbor.LocalASN, p.neighbor.HoldTime,
		p.neighbor.RouterID, p.neighbor.Capabilities())
	p.send(conn, message.TypeOpen, open.Frame())
	p.openSent[conn] = true
}

func (p *Peer) send(conn *Conn, t message.Type, frame []byte) bool {
	if conn == nil {
		return false
	}
	if !conn.Send(frame) {
		p.lastError = "outgoing queue overflow"
		p.down("outgoing queue overflow")
		return false
	}
	p.stats.MessagesOut[t.String()]++
	metrics.MessagesTotal.WithLabelValues(p.Key(), "out", t.String()).Inc()
	return true
}

func (p *Peer) sendNotification(n *wire.Notify) {
	conn := p.conn
	if conn == nil {
		conn = p.outgoing
	}
	if conn == nil {
		conn = p.incoming
	}
	if conn != nil {
		p.send(conn, message.TypeNotification, message.NewNotification(n).Frame())
	}
}

// rate applies the per-peer message budget; exhausted events come back a
// beat later.
func (p *Peer) rate(ev Event) bool {
	limit := p.neighbor.RateLimit
	if limit <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(p.lastRefill) >= time.Second {
		p.tokens = limit
		p.lastRefill = now
	}
	if p.tokens > 0 {
		p.tokens--
		return true
	}
	events := p.events
	time.AfterFunc(100*time.Millisecond, func() { events <- ev })
	return false
}

func (p *Peer) handleFrame(ev Event) {
	conn := ev.Conn
	if conn != p.conn && conn != p.outgoing && conn != p.incoming {
		return
	}
	if ev.Err != nil {
		// Framing failure straight from the reader.
		if n, ok := ev.Err.(*wire.Notify); ok {
			p.sendNotification(n)
		}
		p.lastError = ev.Err.Error()
		p.down(ev.Err.Error())
		return
	}
	if !p.rate(ev) {
		return
	}

	p.stats.MessagesIn[ev.MsgType.String()]++
	metrics.MessagesTotal.WithLabelValues(p.Key(), "in", ev.MsgType.String()).Inc()
	if ev.MsgType != message.TypeNotification {
		p.touchHoldTimer()
	}

	switch ev.MsgType {
	case message.TypeOpen:
		p.handleOpen(conn, ev.Body)
	case message.TypeKeepAlive:
		p.handleKeepalive(conn)
	case message.TypeUpdate:
		p.handleUpdate(ev.Body)
	case message.TypeNotification:
		p.handleNotification(ev.Body)
	case message.TypeRouteRefresh:
		p.handleRouteRefresh(ev.Body)
	}
	if p.hooks.MessageIn != nil && p.state != Idle {
		p.hooks.MessageIn(p, ev.MsgType, ev.Body)
	}
}

func (p *Peer) handleOpen(conn *Conn, body []byte) {
	if p.state != OpenSent && p.state != Active {
		p.fail(wire.NewNotify(wire.NotifyFSMError, 0))
		return
	}
	open, notify := message.ParseOpen(body)
	if notify != nil {
		p.fail(notify)
		return
	}
	if open.RouterID == p.neighbor.RouterID {
		p.fail(wire.NewNotify(wire.NotifyOpenError, wire.OpenBadBGPID))
		return
	}
	if p.neighbor.PeerASN != 0 && open.ASN != p.neighbor.PeerASN {
		p.fail(wire.NewNotify(wire.NotifyOpenError, wire.OpenBadPeerAS))
		return
	}
	p.openRecv[conn] = open

	// Collision: both connections alive with the OPEN exchange running.
	if p.outgoing != nil && p.incoming != nil {
		p.resolveCollision()
		if p.conn == nil {
			return
		}
		if _, ok := p.openRecv[p.conn]; !ok {
			// The survivor has not produced its OPEN yet; wait for it.
			return
		}
		open = p.openRecv[p.conn]
	} else {
		p.conn = conn
	}

	p.finishOpen(open)
}

// resolveCollision closes the losing connection per RFC 4271 §6.8: the
// higher BGP identifier keeps the connection it initiated.
func (p *Peer) resolveCollision() {
	localID := beUint32(p.neighbor.RouterID)
	var remoteID uint32
	for _, o := range p.openRecv {
		remoteID = beUint32(o.RouterID)
		break
	}
	loser := p.incoming
	if !capability.CollisionKeepExisting(localID, remoteID) {
		loser = p.outgoing
	}
	p.log.Info("connection collision",
		zap.String("closing", loser.Direction().String()))
	p.refuseCollision(loser)
	if loser == p.incoming {
		p.incoming = nil
		p.conn = p.outgoing
	} else {
		p.outgoing = nil
		p.conn = p.incoming
	}
}

func (p *Peer) refuseCollision(conn *Conn) {
	conn.Send(message.NewNotification(
		wire.NewNotify(wire.NotifyCease, wire.CeaseCollisionResolution)).Frame())
	conn.Close()
	delete(p.openSent, conn)
	delete(p.openRecv, conn)
}

func beUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (p *Peer) finishOpen(open *message.Open) {
	neg, notify := capability.Negotiate(
		p.neighbor.Capabilities(), open.Caps,
		p.neighbor.LocalASN, open.ASN,
		p.neighbor.HoldTime, open.HoldTime,
	)
	if notify != nil {
		p.fail(notify)
		return
	}
	p.neg = &Negotiation{Negotiated: neg, RemoteID: open.RouterID}
	p.conn.SetMaxMessageSize(neg.MsgSize)

	p.send(p.conn, message.TypeKeepAlive, message.KeepAlive{}.Frame())
	p.transition(OpenConfirm)
	p.armSessionTimers()
}

func (p *Peer) handleKeepalive(conn *Conn) {
	switch p.state {
	case OpenConfirm:
		if conn != p.conn {
			return
		}
		p.established()
	case Established:
		// Hold timer already touched.
	default:
		p.fail(wire.NewNotify(wire.NotifyFSMError, 0))
	}
}

func (p *Peer) established() {
	p.transition(Established)
	p.stats.EstablishedAt = time.Now()
	p.lastError = ""
	p.retryInterval = 0

	p.eorPending = make(map[family.Family]bool, len(p.neg.Families))
	p.eorOrder = append([]family.Family(nil), p.neg.Families...)
	family.Sort(p.eorOrder)
	for _, f := range p.neg.Families {
		p.eorPending[f] = true
	}
	p.eorrOwed = make(map[family.Family]bool)

	if p.hooks.SessionUp != nil {
		p.hooks.SessionUp(p)
	}
	// Whatever the API seeded before establishment drains now; families
	// with nothing queued get their End-of-RIB immediately.
	p.DrainRIB()
}

func (p *Peer) handleUpdate(body []byte) {
	if p.state != Established {
		p.fail(wire.NewNotify(wire.NotifyFSMError, 0))
		return
	}
	ctx := attribute.Context{
		AS4:   p.neg.AS4,
		Cache: p.cache,
		AddPath: func(f family.Family) bool {
			return p.neg.AddPathRecvFor(f)
		},
	}
	u, notify := message.ParseUpdate(body, ctx)
	if notify != nil {
		metrics.ParseErrorsTotal.WithLabelValues("update", notify.Error()).Inc()
		p.fail(notify)
		return
	}
	if u.TreatAsWithdraw {
		metrics.ParseErrorsTotal.WithLabelValues("update", "treat-as-withdraw").Inc()
		for _, reason := range u.Reasons {
			p.log.Warn("treat-as-withdraw", zap.String("reason", reason))
		}
	}
	if f, isEOR := u.EOR(); isEOR {
		p.log.Info("end-of-rib received", zap.String("family", f.String()))
		if p.hooks.EORIn != nil {
			p.hooks.EORIn(p, f)
		}
		return
	}
	if p.hooks.UpdateIn != nil {
		p.hooks.UpdateIn(p, u, body)
	}
}

func (p *Peer) handleNotification(body []byte) {
	n, err := message.ParseNotification(body)
	reason := "notification received"
	if err == nil {
		reason = n.String()
		p.log.Warn("notification received",
			zap.Uint8("code", n.Code),
			zap.Uint8("subcode", n.Subcode),
			zap.String("communication", n.Communication()),
		)
	}
	p.lastError = reason
	p.down(reason)
}

func (p *Peer) handleRouteRefresh(body []byte) {
	if p.state != Established {
		p.fail(wire.NewNotify(wire.NotifyFSMError, 0))
		return
	}
	rr, notify := message.ParseRouteRefresh(body)
	if notify != nil {
		p.fail(notify)
		return
	}
	if rr.Subtype != message.RefreshRequest {
		// BoRR/EoRR from the peer brackets its own resend; nothing owed.
		return
	}
	if !p.neg.HasFamily(rr.Family) {
		p.log.Warn("route-refresh for unnegotiated family",
			zap.String("family", rr.Family.String()))
		return
	}
	p.log.Info("route-refresh received", zap.String("family", rr.Family.String()))
	if p.neg.RouteRefresh == capability.RefreshEnhanced {
		borr := &message.RouteRefresh{Family: rr.Family, Subtype: message.RefreshBoRR}
		p.send(p.conn, message.TypeRouteRefresh, borr.Frame())
		p.eorrOwed[rr.Family] = true
	}
	p.RIB.Resend(rr.Family)
	p.DrainRIB()
}

// Refresh sends a ROUTE-REFRESH request for a family, asking the peer to
// resend (API `route-refresh` command).
func (p *Peer) Refresh(f family.Family) error {
	if p.state != Established {
		return fmt.Errorf("peer %s not established", p.Key())
	}
	if p.neg.RouteRefresh == capability.RefreshNone {
		return fmt.Errorf("peer %s did not negotiate route-refresh", p.Key())
	}
	rr := &message.RouteRefresh{Family: f, Subtype: message.RefreshRequest}
	p.send(p.conn, message.TypeRouteRefresh, rr.Frame())
	return nil
}

// Enqueue files a change for transmission. Before the session is up the
// change just seeds the Adj-RIB-Out; it drains at establishment.
func (p *Peer) Enqueue(c *rib.Change) bool {
	return p.RIB.Enqueue(c)
}

// drainBudget bounds the bytes one drain may move per family per call.
const drainBudget = 256 * 1024

// DrainRIB writes pending changes, withdrawals first, holding off while
// the connection is congested. End-of-RIB and EoRR markers are emitted
// when a family's initial or refreshed content has fully drained.
func (p *Peer) DrainRIB() {
	if p.state != Established {
		return
	}
	builder := &message.Builder{
		MsgSize: p.neg.MsgSize,
		AddPathSend: func(f family.Family) bool {
			return p.neg.AddPathSendFor(f)
		},
	}
	for _, f := range p.eorOrder {
		if p.conn == nil || p.conn.Congested() {
			return
		}
		frames, batch := p.RIB.Drain(f, drainBudget, p.neighbor.GroupUpdates, builder)
		for _, frame := range frames {
			if !p.send(p.conn, message.TypeUpdate, frame) {
				return
			}
		}
		p.RIB.Commit(batch)
		if !batch.Empty() {
			p.countBatch(batch)
		}
		if p.RIB.Pending(f) != 0 {
			continue
		}
		if p.eorPending[f] {
			delete(p.eorPending, f)
			p.log.Info("end-of-rib sent", zap.String("family", f.String()))
			if !p.send(p.conn, message.TypeUpdate, message.EORFrame(f)) {
				return
			}
		}
		if p.eorrOwed[f] {
			delete(p.eorrOwed, f)
			eorr := &message.RouteRefresh{Family: f, Subtype: message.RefreshEoRR}
			p.send(p.conn, message.TypeRouteRefresh, eorr.Frame())
		}
	}
	metrics.AdjRIBOutPending.WithLabelValues(p.Key()).Set(float64(p.RIB.PendingTotal()))
}

func (p *Peer) countBatch(batch *rib.Batch) {
	for _, c := range batch.Changes() {
		if c.IsWithdraw() {
			p.stats.Withdrawn++
		} else {
			p.stats.Announced++
		}
	}
}

// fail resets the session with a NOTIFICATION.
func (p *Peer) fail(n *wire.Notify) {
	p.sendNotification(n)
	p.lastError = n.Error()
	p.down(n.Error())
}

func (p *Peer) teardownConns() {
	for _, c := range []*Conn{p.conn, p.outgoing, p.incoming} {
		if c != nil {
			c.Close()
		}
	}
	p.conn, p.outgoing, p.incoming = nil, nil, nil
	p.openSent = make(map[*Conn]bool)
	p.openRecv = make(map[*Conn]*message.Open)
}

func (p *Peer) down(reason string) {
	wasEstablished := p.state == Established
	p.teardown(reason)
	if wasEstablished {
		p.stats.Flaps++
	}
	if p.enabled {
		p.scheduleRetry()
	}
}

func (p *Peer) teardown(reason string) {
	p.stopTimers()
	p.teardownConns()
	if p.state == Established && p.hooks.SessionDown != nil {
		p.hooks.SessionDown(p, reason)
	}
	p.neg = nil
	p.RIB.Reset()
	p.eorPending = nil
	p.eorrOwed = nil
	p.transition(Idle)
}

// scheduleRetry arms the connect-retry timer with capped exponential
// backoff starting at a fraction of the configured interval.
func (p *Peer) scheduleRetry() {
	max := p.neighbor.ConnectRetry
	if max <= 0 {
		max = 120 * time.Second
	}
	if p.retryInterval == 0 {
		p.retryInterval = max / 8
		if p.retryInterval < 5*time.Second {
			p.retryInterval = 5 * time.Second
		}
	} else {
		p.retryInterval *= 2
	}
	if p.retryInterval > max {
		p.retryInterval = max
	}
	key, events := p.Key(), p.events
	p.stopTimer(&p.connectTimer)
	p.connectTimer = time.AfterFunc(p.retryInterval, func() {
		events <- Event{Key: key, Kind: EvConnectRetry}
	})
}

func (p *Peer) armSessionTimers() {
	hold := p.neg.HoldTime
	if hold == 0 {
		p.stopTimer(&p.holdTimer)
		p.stopTimer(&p.keepaliveTimer)
		return
	}
	p.resetHoldTimer(time.Duration(hold) * time.Second)
	interval := time.Duration(hold) * time.Second / 3
	key, events := p.Key(), p.events
	p.stopTimer(&p.keepaliveTimer)
	p.keepaliveTimer = time.AfterFunc(interval, func() {
		events <- Event{Key: key, Kind: EvKeepaliveTick}
	})
}

func (p *Peer) resetHoldTimer(d time.Duration) {
	key, events := p.Key(), p.events
	p.stopTimer(&p.holdTimer)
	p.holdTimer = time.AfterFunc(d, func() {
		events <- Event{Key: key, Kind: EvHoldExpired}
	})
}

func (p *Peer) touchHoldTimer() {
	if p.neg == nil {
		return
	}
	if p.neg.HoldTime == 0 {
		return
	}
	p.resetHoldTimer(time.Duration(p.neg.HoldTime) * time.Second)
}

func (p *Peer) handleHoldExpired() {
	if p.state == Idle {
		return
	}
	p.fail(wire.NewNotify(wire.NotifyHoldTimer, 0))
}

func (p *Peer) handleKeepaliveTick() {
	if p.state != Established && p.state != OpenConfirm {
		return
	}
	p.send(p.conn, message.TypeKeepAlive, message.KeepAlive{}.Frame())
	if p.neg != nil && p.neg.HoldTime > 0 {
		interval := time.Duration(p.neg.HoldTime) * time.Second / 3
		key, events := p.Key(), p.events
		p.stopTimer(&p.keepaliveTimer)
		p.keepaliveTimer = time.AfterFunc(interval, func() {
			events <- Event{Key: key, Kind: EvKeepaliveTick}
		})
	}
}

func (p *Peer) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (p *Peer) stopTimers() {
	p.stopTimer(&p.connectTimer)
	p.stopTimer(&p.holdTimer)
	p.stopTimer(&p.keepaliveTimer)
}

// Congested reports whether the connection backlog blocks further RIB
// drains; the API plane uses it for `queue-status`.
func (p *Peer) Congested() bool {
	return p.conn != nil && p.conn.Congested()
}

// QueuedBytes is the outgoing backlog of the session connection.
func (p *Peer) QueuedBytes() int64 {
	if p.conn == nil {
		return 0
	}
	return p.conn.QueuedBytes()
}
