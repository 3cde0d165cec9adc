package api

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/peer"
)

type fakeCore struct {
	peers      []*peer.Peer
	reloaded   bool
	shutdown   bool
	restarted  bool
}

func (c *fakeCore) Peers() []*peer.Peer { return c.peers }
func (c *fakeCore) Peer(key string) *peer.Peer {
	for _, p := range c.peers {
		if p.Key() == key {
			return p
		}
	}
	return nil
}
func (c *fakeCore) AddNeighbor(n *peer.Neighbor) error {
	c.peers = append(c.peers, newTestPeer(n))
	return nil
}
func (c *fakeCore) RemoveNeighbor(key string) error {
	for i, p := range c.peers {
		if p.Key() == key {
			c.peers = append(c.peers[:i], c.peers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no neighbor %s", key)
}
func (c *fakeCore) Reload() error               { c.reloaded = true; return nil }
func (c *fakeCore) Shutdown(communication string) { c.shutdown = true }
func (c *fakeCore) Restart(communication string)  { c.restarted = true }
func (c *fakeCore) Drain(p *peer.Peer)            {}
func (c *fakeCore) AdjRIBIn(key string) []RIBInEntry { return nil }

type fakeClient struct {
	clientState
	lines []string
}

func newFakeClient(encoder string) *fakeClient {
	return &fakeClient{clientState: newClientState(encoder, nil)}
}

func (c *fakeClient) Name() string          { return "test" }
func (c *fakeClient) Encoder() string       { return c.encoder }
func (c *fakeClient) SetEncoder(e string)   { c.encoder = e }
func (c *fakeClient) AckMode() AckMode      { return c.ack }
func (c *fakeClient) SetAckMode(m AckMode)  { c.ack = m }
func (c *fakeClient) Enqueue(line []byte) bool {
	c.lines = append(c.lines, string(line))
	return true
}
func (c *fakeClient) QueueStats() (int, int64)     { return len(c.lines), 0 }
func (c *fakeClient) Congested() bool              { return false }
func (c *fakeClient) WantsNeighbor(string) bool    { return true }

func newTestPeer(n *peer.Neighbor) *peer.Peer {
	events := make(chan peer.Event, 16)
	return peer.New(n, events, attribute.NewCache(0), peer.Hooks{}, zap.NewNop())
}

func testDispatcher() (*Dispatcher, *fakeCore) {
	core := &fakeCore{peers: []*peer.Peer{newTestPeer(testNeighbor())}}
	return NewDispatcher(core, zap.NewNop()), core
}

func (d *Dispatcher) line(t *testing.T, client Client, line string) {
	t.Helper()
	d.Handle(Command{Client: client, Line: line})
}

func TestDispatchAnnounceSeedsRIB(t *testing.T) {
	d, core := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "announce route 10.0.0.0/24 next-hop 192.0.2.1")
	if len(client.lines) != 1 || client.lines[0] != "done" {
		t.Fatalf("response %v", client.lines)
	}
	if core.peers[0].RIB.Pending(family.IPv4Unicast) != 1 {
		t.Fatal("announce must seed the adj-rib-out even before establishment")
	}
}

func TestDispatchWithdrawUnknownIsQuietNoop(t *testing.T) {
	d, core := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "withdraw route 10.9.9.0/24")
	if client.lines[0] != "done" {
		t.Fatalf("response %v", client.lines)
	}
	if core.peers[0].RIB.PendingTotal() != 0 {
		t.Fatal("withdraw of an unknown route must queue nothing")
	}
}

func TestDispatchSelectorNoMatch(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "neighbor 203.0.113.9 announce route 10.0.0.0/24 next-hop 192.0.2.1")
	if len(client.lines) != 1 || !strings.HasPrefix(client.lines[0], "error") {
		t.Fatalf("response %v", client.lines)
	}
}

func TestDispatchAckModes(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("text")

	d.line(t, client, "ack silence")
	n := len(client.lines)
	d.line(t, client, "announce route 10.0.0.0/24 next-hop 192.0.2.1")
	if len(client.lines) != n {
		t.Fatal("silenced mode must not ack")
	}
	d.line(t, client, "announce route nonsense")
	if len(client.lines) != n+1 || !strings.HasPrefix(client.lines[n], "error") {
		t.Fatal("silenced mode must still report errors")
	}

	d.line(t, client, "ack disable")
	n = len(client.lines)
	d.line(t, client, "announce route nonsense")
	if len(client.lines) != n {
		t.Fatal("disabled mode must emit nothing at all")
	}
}

func TestDispatchJSONEncoder(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("json")
	d.line(t, client, "announce route 10.0.0.0/24 next-hop 192.0.2.1")
	if client.lines[0] != `{"answer":"done"}` {
		t.Fatalf("response %v", client.lines)
	}
}

func TestDispatchShowNeighbor(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("json")
	d.line(t, client, "show neighbor")
	if len(client.lines) != 2 {
		t.Fatalf("lines %v", client.lines)
	}
	if !strings.Contains(client.lines[0], `"peer":"192.0.2.10"`) {
		t.Errorf("status line %s", client.lines[0])
	}
	if !strings.Contains(client.lines[0], `"state":"idle"`) {
		t.Errorf("status line %s", client.lines[0])
	}
}

func TestDispatchLifecycleVerbs(t *testing.T) {
	d, core := testDispatcher()
	client := newFakeClient("text")

	d.line(t, client, "reload")
	if !core.reloaded {
		t.Fatal("reload not forwarded")
	}
	d.line(t, client, "restart")
	if !core.restarted {
		t.Fatal("restart not forwarded")
	}
	d.line(t, client, "shutdown bye")
	if !core.shutdown {
		t.Fatal("shutdown not forwarded")
	}
}

func TestDispatchNeighborCreateDelete(t *testing.T) {
	d, core := testDispatcher()
	client := newFakeClient("text")

	d.line(t, client, "neighbor 198.51.100.7 create local-as 65000 peer-as 65007 router-id 7.7.7.7")
	if len(core.peers) != 2 {
		t.Fatalf("peers %d", len(core.peers))
	}
	d.line(t, client, "neighbor 198.51.100.7 delete")
	if len(core.peers) != 1 {
		t.Fatalf("peers %d after delete", len(core.peers))
	}
}

func TestDispatchQueueStatus(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "queue-status")
	if len(client.lines) != 2 || !strings.HasPrefix(client.lines[0], "queue test") {
		t.Fatalf("lines %v", client.lines)
	}
}

func TestDispatchUnknownVerb(t *testing.T) {
	d, _ := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "frobnicate everything")
	if len(client.lines) != 1 || !strings.HasPrefix(client.lines[0], "error") {
		t.Fatalf("lines %v", client.lines)
	}
}

func TestDispatchWatchdog(t *testing.T) {
	d, core := testDispatcher()
	client := newFakeClient("text")
	d.line(t, client, "announce route 10.0.0.0/24 next-hop 192.0.2.1 watchdog svc")
	if core.peers[0].RIB.Pending(family.IPv4Unicast) != 1 {
		t.Fatal("seed failed")
	}
	d.line(t, client, "watchdog svc disable")
	if core.peers[0].RIB.Pending(family.IPv4Unicast) != 0 {
		t.Fatal("disable must park the pending announce")
	}
	d.line(t, client, "watchdog svc enable")
	if core.peers[0].RIB.Pending(family.IPv4Unicast) != 1 {
		t.Fatal("enable must restore it")
	}
}
