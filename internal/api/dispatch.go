package api

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/metrics"
	"github.com/exa-networks/exabgp/internal/peer"
	"github.com/exa-networks/exabgp/internal/wire"
)

// Core is what the reactor exposes to command handlers. Every method is
// called on the reactor goroutine.
type Core interface {
	Peers() []*peer.Peer
	Peer(key string) *peer.Peer
	AddNeighbor(n *peer.Neighbor) error
	RemoveNeighbor(key string) error
	Reload() error
	Shutdown(communication string)
	Restart(communication string)
	Drain(p *peer.Peer)
	AdjRIBIn(key string) []RIBInEntry
}

// RIBInEntry is one observed received route, for `show adj-rib in`.
type RIBInEntry struct {
	Family     string `json:"family"`
	NLRI       string `json:"nlri"`
	NextHop    string `json:"next-hop,omitempty"`
	Attributes string `json:"attributes,omitempty"`
}

// Dispatcher parses and executes API commands against the core.
type Dispatcher struct {
	core Core
	log  *zap.Logger
}

func NewDispatcher(core Core, log *zap.Logger) *Dispatcher {
	return &Dispatcher{core: core, log: log.Named("api.dispatch")}
}

// Handle runs one command line and answers on the same client,
// preserving per-connection order.
func (d *Dispatcher) Handle(cmd Command) {
	parsed, err := Parse(cmd.Line)
	if err != nil {
		d.respondErr(cmd.Client, err)
		metrics.APICommandsTotal.WithLabelValues("parse", "error").Inc()
		return
	}
	if err := d.run(cmd.Client, parsed); err != nil {
		d.respondErr(cmd.Client, err)
		metrics.APICommandsTotal.WithLabelValues(parsed.Verb, "error").Inc()
		return
	}
	metrics.APICommandsTotal.WithLabelValues(parsed.Verb, "done").Inc()
}

func (d *Dispatcher) run(client Client, cmd *Command) error {
	switch cmd.Verb {
	case "announce":
		return d.announce(client, cmd, false)
	case "withdraw":
		return d.announce(client, cmd, true)
	case "teardown":
		return d.teardown(client, cmd)
	case "create":
		return d.createNeighbor(client, cmd)
	case "delete":
		return d.deleteNeighbor(client, cmd)
	case "enable":
		return d.enableNeighbor(client, cmd, true)
	case "disable":
		return d.enableNeighbor(client, cmd, false)
	case "reload":
		if err := d.core.Reload(); err != nil {
			return err
		}
		d.respondDone(client)
		return nil
	case "restart":
		d.core.Restart(strings.Join(cmd.Args, " "))
		d.respondDone(client)
		return nil
	case "shutdown":
		d.respondDone(client)
		d.core.Shutdown(strings.Join(cmd.Args, " "))
		return nil
	case "show":
		return d.show(client, cmd)
	case "flush":
		return d.flushOrClear(client, cmd, true)
	case "clear":
		return d.flushOrClear(client, cmd, false)
	case "route-refresh":
		return d.routeRefresh(client, cmd)
	case "watchdog":
		return d.watchdog(client, cmd)
	case "queue-status":
		return d.queueStatus(client)
	case "ack":
		return d.ackMode(client, cmd.Args)
	case "encoder":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("api: encoder needs text or json")
		}
		client.SetEncoder(cmd.Args[0])
		d.respondDone(client)
		return nil
	case "version":
		d.reply(client, "exabgp "+VersionString, map[string]string{"version": VersionString})
		return nil
	}
	return fmt.Errorf("api: unknown command %q", cmd.Verb)
}

func (d *Dispatcher) selected(sel Selector) []*peer.Peer {
	var out []*peer.Peer
	for _, p := range d.core.Peers() {
		if sel.Matches(p.Neighbor()) {
			out = append(out, p)
		}
	}
	return out
}

func (d *Dispatcher) announce(client Client, cmd *Command, withdraw bool) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("api: announce needs an object")
	}
	switch cmd.Args[0] {
	case "route":
	case "watchdog":
		return d.watchdogVerb(client, cmd.Args[1:], !withdraw)
	default:
		return fmt.Errorf("api: cannot announce %q", cmd.Args[0])
	}

	peers := d.selected(cmd.Selector)
	if len(peers) == 0 {
		return fmt.Errorf("api: no neighbor matches")
	}
	count := 0
	for _, p := range peers {
		change, err := ParseRoute(cmd.Args[1:], withdraw, p.Neighbor())
		if err != nil {
			return err
		}
		if p.Enqueue(change) {
			count++
		}
		d.core.Drain(p)
	}
	d.log.Debug("route command applied",
		zap.Bool("withdraw", withdraw),
		zap.Int("peers", len(peers)),
		zap.Int("queued", count),
	)
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) teardown(client Client, cmd *Command) error {
	subcode := wire.CeaseShutdown
	if len(cmd.Args) > 0 {
		v, err := strconv.ParseUint(cmd.Args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("api: bad teardown code %q", cmd.Args[0])
		}
		subcode = uint8(v)
	}
	peers := d.selected(cmd.Selector)
	if len(peers) == 0 {
		return fmt.Errorf("api: no neighbor matches")
	}
	for _, p := range peers {
		p.Teardown(subcode)
	}
	d.respondDone(client)
	return nil
}

// createNeighbor handles `neighbor <ip> create key value ...`.
func (d *Dispatcher) createNeighbor(client Client, cmd *Command) error {
	if len(cmd.Selector.Peers) != 1 {
		return fmt.Errorf("api: create needs exactly one neighbor address")
	}
	n := &peer.Neighbor{
		PeerAddress:  cmd.Selector.Peers[0],
		HoldTime:     180,
		ConnectRetry: 120 * time.Second,
		Families:     []family.Family{family.IPv4Unicast},
		RouteRefresh: true,
		GroupUpdates: true,
	}
	args := cmd.Args
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return fmt.Errorf("api: %s needs a value", args[i])
		}
		key, value := args[i], args[i+1]
		switch key {
		case "local-as":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return fmt.Errorf("api: bad local-as %q", value)
			}
			n.LocalASN = uint32(v)
		case "peer-as":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return fmt.Errorf("api: bad peer-as %q", value)
			}
			n.PeerASN = uint32(v)
		case "router-id":
			a, err := netip.ParseAddr(value)
			if err != nil {
				return fmt.Errorf("api: bad router-id %q", value)
			}
			n.RouterID = a
		case "local-ip":
			a, err := netip.ParseAddr(value)
			if err != nil {
				return fmt.Errorf("api: bad local-ip %q", value)
			}
			n.LocalAddress = a
		case "hold-time":
			v, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return fmt.Errorf("api: bad hold-time %q", value)
			}
			n.HoldTime = uint16(v)
		case "passive":
			n.Passive = value == "true"
		case "family":
			parts := strings.SplitN(value, "/", 2)
			if len(parts) != 2 {
				return fmt.Errorf("api: bad family %q (want afi/safi)", value)
			}
			f, err := family.Parse(parts[0], parts[1])
			if err != nil {
				return err
			}
			n.Families = appendFamily(n.Families, f, i == indexOfFirstFamily(args))
		default:
			return fmt.Errorf("api: unknown neighbor option %q", key)
		}
	}
	if n.LocalASN == 0 || !n.RouterID.IsValid() {
		return fmt.Errorf("api: create needs local-as and router-id")
	}
	if err := d.core.AddNeighbor(n); err != nil {
		return err
	}
	d.respondDone(client)
	return nil
}

func indexOfFirstFamily(args []string) int {
	for i := 0; i < len(args); i += 2 {
		if args[i] == "family" {
			return i
		}
	}
	return -1
}

func appendFamily(fams []family.Family, f family.Family, replace bool) []family.Family {
	if replace {
		return []family.Family{f}
	}
	for _, have := range fams {
		if have == f {
			return fams
		}
	}
	return append(fams, f)
}

func (d *Dispatcher) deleteNeighbor(client Client, cmd *Command) error {
	if len(cmd.Selector.Peers) != 1 {
		return fmt.Errorf("api: delete needs exactly one neighbor address")
	}
	if err := d.core.RemoveNeighbor(cmd.Selector.Peers[0].String()); err != nil {
		return err
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) enableNeighbor(client Client, cmd *Command, enable bool) error {
	peers := d.selected(cmd.Selector)
	if len(peers) == 0 {
		return fmt.Errorf("api: no neighbor matches")
	}
	for _, p := range peers {
		if enable {
			p.Start()
		} else {
			p.Stop("administratively disabled")
		}
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) show(client Client, cmd *Command) error {
	if len(cmd.Args) == 0 {
		return fmt.Errorf("api: show needs an object")
	}
	asJSON := cmd.Args[len(cmd.Args)-1] == "json" || client.Encoder() == "json"
	switch cmd.Args[0] {
	case "neighbor":
		return d.showNeighbor(client, cmd, asJSON)
	case "adj-rib":
		if len(cmd.Args) < 2 {
			return fmt.Errorf("api: show adj-rib needs in or out")
		}
		return d.showAdjRIB(client, cmd, cmd.Args[1], asJSON)
	}
	return fmt.Errorf("api: cannot show %q", cmd.Args[0])
}

// NeighborStatus is the `show neighbor` / HTTP payload.
type NeighborStatus struct {
	Peer        string      `json:"peer"`
	State       string      `json:"state"`
	LocalAS     uint32      `json:"local_as"`
	PeerAS      uint32      `json:"peer_as"`
	RouterID    string      `json:"router_id"`
	HoldTime    uint16      `json:"hold_time"`
	Families    []string    `json:"families"`
	LastError   string      `json:"last_error,omitempty"`
	Stats       *peer.Stats `json:"stats"`
	AdjRIBOut   map[string]int `json:"adj_rib_out,omitempty"`
	Negotiated  *NegotiatedStatus `json:"negotiated,omitempty"`
}

type NegotiatedStatus struct {
	AS4          bool     `json:"asn4"`
	HoldTime     uint16   `json:"hold_time"`
	Families     []string `json:"families"`
	RouteRefresh string   `json:"route_refresh"`
	MsgSize      int      `json:"message_size"`
	RemoteID     string   `json:"remote_id"`
}

// Status builds the JSON view of one peer.
func Status(p *peer.Peer) *NeighborStatus {
	n := p.Neighbor()
	st := &NeighborStatus{
		Peer:      n.PeerAddress.String(),
		State:     p.State().String(),
		LocalAS:   n.LocalASN,
		PeerAS:    n.PeerASN,
		RouterID:  n.RouterID.String(),
		HoldTime:  n.HoldTime,
		LastError: p.LastError(),
		Stats:     p.Stats(),
	}
	for _, f := range n.Families {
		st.Families = append(st.Families, f.String())
	}
	if neg := p.Negotiated(); neg != nil {
		ns := &NegotiatedStatus{
			AS4:      neg.AS4,
			HoldTime: neg.HoldTime,
			MsgSize:  neg.MsgSize,
			RemoteID: neg.RemoteID.String(),
		}
		switch neg.RouteRefresh {
		case capability.RefreshEnhanced:
			ns.RouteRefresh = "enhanced"
		case capability.RefreshNormal:
			ns.RouteRefresh = "normal"
		default:
			ns.RouteRefresh = "none"
		}
		for _, f := range neg.Families {
			ns.Families = append(ns.Families, f.String())
		}
		st.Negotiated = ns
	}
	if p.RIB != nil {
		st.AdjRIBOut = make(map[string]int)
		for _, f := range p.RIB.Families() {
			st.AdjRIBOut[f.String()] = p.RIB.SentCount(f)
		}
	}
	return st
}

func (d *Dispatcher) showNeighbor(client Client, cmd *Command, asJSON bool) error {
	peers := d.selected(cmd.Selector)
	for _, p := range peers {
		st := Status(p)
		if asJSON {
			raw, err := json.Marshal(st)
			if err != nil {
				return err
			}
			client.Enqueue(raw)
			continue
		}
		n := p.Neighbor()
		client.Enqueue([]byte(fmt.Sprintf(
			"neighbor %s local-as %d peer-as %d router-id %s state %s",
			n.PeerAddress, n.LocalASN, n.PeerASN, n.RouterID, p.State())))
		if st.LastError != "" {
			client.Enqueue([]byte("  last-error " + st.LastError))
		}
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) showAdjRIB(client Client, cmd *Command, which string, asJSON bool) error {
	if which != "out" && which != "in" {
		return fmt.Errorf("api: show adj-rib needs in or out")
	}
	peers := d.selected(cmd.Selector)
	for _, p := range peers {
		if which == "in" {
			for _, entry := range d.core.AdjRIBIn(p.Key()) {
				if asJSON {
					payload := struct {
						Neighbor string `json:"neighbor"`
						RIBInEntry
					}{Neighbor: p.Key(), RIBInEntry: entry}
					raw, _ := json.Marshal(payload)
					client.Enqueue(raw)
					continue
				}
				line := fmt.Sprintf("neighbor %s %s %s", p.Key(), entry.Family, entry.NLRI)
				if entry.Attributes != "" {
					line += " " + entry.Attributes
				}
				client.Enqueue([]byte(line))
			}
			continue
		}
		for _, f := range p.RIB.Families() {
			for _, c := range p.RIB.Sent(f) {
				if asJSON {
					entry := map[string]any{
						"neighbor": p.Key(),
						"family":   f.String(),
						"nlri":     c.NLRI.String(),
					}
					if c.Attributes != nil {
						entry["attributes"] = c.Attributes.String()
					}
					raw, _ := json.Marshal(entry)
					client.Enqueue(raw)
					continue
				}
				line := fmt.Sprintf("neighbor %s %s %s", p.Key(), f, c.NLRI)
				if c.Attributes != nil {
					line += " " + c.Attributes.String()
				}
				client.Enqueue([]byte(line))
			}
		}
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) flushOrClear(client Client, cmd *Command, flush bool) error {
	if len(cmd.Args) < 2 || cmd.Args[0] != "adj-rib" || cmd.Args[1] != "out" {
		return fmt.Errorf("api: %s expects adj-rib out", map[bool]string{true: "flush", false: "clear"}[flush])
	}
	peers := d.selected(cmd.Selector)
	if len(peers) == 0 {
		return fmt.Errorf("api: no neighbor matches")
	}
	for _, p := range peers {
		if flush {
			p.RIB.Flush()
			d.core.Drain(p)
		} else {
			p.RIB.Clear()
		}
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) routeRefresh(client Client, cmd *Command) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("api: route-refresh needs afi and safi")
	}
	f, err := family.Parse(cmd.Args[0], cmd.Args[1])
	if err != nil {
		return err
	}
	peers := d.selected(cmd.Selector)
	if len(peers) == 0 {
		return fmt.Errorf("api: no neighbor matches")
	}
	for _, p := range peers {
		if err := p.Refresh(f); err != nil {
			return err
		}
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) watchdog(client Client, cmd *Command) error {
	if len(cmd.Args) != 2 {
		return fmt.Errorf("api: watchdog needs a name and enable|disable")
	}
	name, action := cmd.Args[0], cmd.Args[1]
	if action != "enable" && action != "disable" {
		name, action = action, name
	}
	return d.watchdogVerb(client, []string{name}, action == "enable")
}

func (d *Dispatcher) watchdogVerb(client Client, args []string, enable bool) error {
	if len(args) != 1 {
		return fmt.Errorf("api: watchdog needs a name")
	}
	name := args[0]
	for _, p := range d.core.Peers() {
		if enable {
			p.RIB.WatchdogEnable(name)
		} else {
			p.RIB.WatchdogDisable(name)
		}
		d.core.Drain(p)
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) queueStatus(client Client) error {
	items, bytes := client.QueueStats()
	if client.Encoder() == "json" {
		raw, _ := json.Marshal(map[string]any{
			"process": client.Name(),
			"items":   items,
			"bytes":   bytes,
		})
		client.Enqueue(raw)
	} else {
		client.Enqueue([]byte(fmt.Sprintf("queue %s items %d bytes %d", client.Name(), items, bytes)))
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) ackMode(client Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("api: ack needs enable, silence or disable")
	}
	switch args[0] {
	case "enable":
		client.SetAckMode(AckEnabled)
	case "silence":
		client.SetAckMode(AckSilenced)
	case "disable":
		client.SetAckMode(AckDisabled)
	default:
		return fmt.Errorf("api: ack needs enable, silence or disable")
	}
	d.respondDone(client)
	return nil
}

func (d *Dispatcher) reply(client Client, text string, jsonBody any) {
	if client.Encoder() == "json" {
		raw, _ := json.Marshal(jsonBody)
		client.Enqueue(raw)
		return
	}
	client.Enqueue([]byte(text))
}

func (d *Dispatcher) respondDone(client Client) {
	if client.AckMode() != AckEnabled {
		return
	}
	if client.Encoder() == "json" {
		client.Enqueue([]byte(`{"answer":"done"}`))
		return
	}
	client.Enqueue([]byte("done"))
}

func (d *Dispatcher) respondErr(client Client, err error) {
	if client.AckMode() == AckDisabled {
		return
	}
	if client.Encoder() == "json" {
		raw, _ := json.Marshal(map[string]string{"answer": "error", "reason": err.Error()})
		client.Enqueue(raw)
		return
	}
	client.Enqueue([]byte("error: " + err.Error()))
}
