package reactor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/api"
	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/message"
	"github.com/exa-networks/exabgp/internal/peer"
)

// emit fans one event out to every subscribed API client and, when
// configured, to the export sink.
func (r *Reactor) emit(p *peer.Peer, eventType, direction string, jsonBody any, textDetail string) {
	r.counter++
	n := p.Neighbor()

	var envelope []byte
	for _, client := range r.apiClients() {
		if !client.WantsNeighbor(p.Key()) {
			continue
		}
		if client.Encoder() == "json" {
			if envelope == nil {
				raw, err := api.NewEnvelope(r.counter, eventType, direction, n, jsonBody)
				if err != nil {
					r.log.Warn("envelope build failed", zap.Error(err))
					return
				}
				envelope = raw
			}
			client.Enqueue(envelope)
			continue
		}
		client.Enqueue(api.TextEvent(eventType, n, textDetail))
	}

	if r.exporter != nil {
		if envelope == nil {
			raw, err := api.NewEnvelope(r.counter, eventType, direction, n, jsonBody)
			if err != nil {
				return
			}
			envelope = raw
		}
		r.exporter.Publish(p.Key(), envelope)
	}
}

func (r *Reactor) apiClients() []api.Client {
	clients := r.supervisor.Clients()
	if r.socket != nil {
		clients = append(clients, r.socket.Clients()...)
	}
	return clients
}

func (r *Reactor) onSessionUp(p *peer.Peer) {
	r.emit(p, "state", "receive", map[string]string{"state": "up"}, "up")
}

func (r *Reactor) onSessionDown(p *peer.Peer, reason string) {
	delete(r.ribIn, p.Key())
	r.emit(p, "state", "receive",
		map[string]string{"state": "down", "reason": reason}, "down "+reason)
}

func (r *Reactor) onEORIn(p *peer.Peer, f family.Family) {
	r.emit(p, "eor", "receive",
		map[string]string{"family": f.String()}, "eor "+f.String())
}

func (r *Reactor) onUpdateIn(p *peer.Peer, u *message.Update, raw []byte) {
	r.observe(p, u)
	n := p.Neighbor()
	if !n.EmitUpdates {
		return
	}
	var body any
	if n.EmitRaw {
		body = map[string]string{"raw": hex.EncodeToString(raw)}
	} else {
		body = map[string]any{"update": UpdateJSON(u)}
	}
	r.emit(p, "update", "receive", body, updateText(u))
}

func (r *Reactor) onMessageIn(p *peer.Peer, t message.Type, body []byte) {
	n := p.Neighbor()
	switch t {
	case message.TypeKeepAlive:
		if n.EmitKeepalives {
			r.emit(p, "keepalive", "receive", map[string]string{}, "keepalive")
		}
	case message.TypeOpen:
		r.emit(p, "open", "receive",
			map[string]string{"raw": hex.EncodeToString(body)}, "open")
	case message.TypeNotification:
		if notification, err := message.ParseNotification(body); err == nil {
			r.emit(p, "notification", "receive", map[string]any{
				"code":          notification.Code,
				"subcode":       notification.Subcode,
				"communication": notification.Communication(),
			}, notification.String())
		}
	case message.TypeRouteRefresh:
		if rr, notify := message.ParseRouteRefresh(body); notify == nil {
			r.emit(p, "refresh", "receive",
				map[string]string{"family": rr.Family.String()}, rr.String())
		}
	}
}

// observe keeps the received routes of a session for `show adj-rib in`.
func (r *Reactor) observe(p *peer.Peer, u *message.Update) {
	table := r.ribIn[p.Key()]
	if table == nil {
		table = make(map[string]api.RIBInEntry)
		r.ribIn[p.Key()] = table
	}
	for _, n := range u.AllWithdrawn() {
		delete(table, n.Family().String()+"|"+n.Index())
	}
	for _, n := range u.AllAnnounced() {
		entry := api.RIBInEntry{
			Family: n.Family().String(),
			NLRI:   n.String(),
		}
		if n.NextHop().IsValid() {
			entry.NextHop = n.NextHop().String()
		}
		if u.Attributes != nil {
			entry.Attributes = u.Attributes.String()
		}
		table[n.Family().String()+"|"+n.Index()] = entry
	}
}

// UpdateJSON renders a decoded UPDATE the way subscribers consume it:
// the attribute set once, then announced and withdrawn NLRIs by family.
func UpdateJSON(u *message.Update) map[string]any {
	out := make(map[string]any)

	attrs := make(map[string]string)
	for _, a := range u.Attributes.All() {
		switch a.Code() {
		case attribute.CodeMPReach, attribute.CodeMPUnreach:
			continue
		}
		attrs[a.Code().String()] = a.String()
	}
	if len(attrs) > 0 {
		out["attribute"] = attrs
	}

	announce := make(map[string][]map[string]string)
	for _, n := range u.AllAnnounced() {
		entry := map[string]string{"nlri": n.String()}
		if n.NextHop().IsValid() {
			entry["next-hop"] = n.NextHop().String()
		}
		if n.PathID() != 0 {
			entry["path-id"] = fmt.Sprintf("%d", n.PathID())
		}
		announce[n.Family().String()] = append(announce[n.Family().String()], entry)
	}
	if len(announce) > 0 {
		out["announce"] = announce
	}

	withdraw := make(map[string][]map[string]string)
	for _, n := range u.AllWithdrawn() {
		withdraw[n.Family().String()] = append(withdraw[n.Family().String()],
			map[string]string{"nlri": n.String()})
	}
	if len(withdraw) > 0 {
		out["withdraw"] = withdraw
	}
	return out
}

func updateText(u *message.Update) string {
	raw, err := json.Marshal(UpdateJSON(u))
	if err != nil {
		return "update"
	}
	return "update " + string(raw)
}
