package rib

import (
	"sort"

	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/message"
	"github.com/exa-networks/exabgp/internal/nlri"
)

// shard is one per-family slice of the Adj-RIB-Out: changes awaiting
// transmission and the last transmitted state, both keyed by NLRI index.
type shard struct {
	pending  map[string]*Change
	order    []string
	sent     map[string]*Change
	withheld map[string]*Change // announces parked by a watchdog
}

func newShard() *shard {
	return &shard{
		pending:  make(map[string]*Change),
		sent:     make(map[string]*Change),
		withheld: make(map[string]*Change),
	}
}

func (s *shard) enqueue(c *Change) {
	idx := c.Index()
	if _, dup := s.pending[idx]; !dup {
		s.order = append(s.order, idx)
	}
	s.pending[idx] = c
}

func (s *shard) dequeue(idx string) {
	delete(s.pending, idx)
}

// AdjRIBOut holds the outgoing routing state for one peer, sharded by
// family.
type AdjRIBOut struct {
	shards map[family.Family]*shard
}

func NewAdjRIBOut(families []family.Family) *AdjRIBOut {
	r := &AdjRIBOut{shards: make(map[family.Family]*shard, len(families))}
	for _, f := range families {
		r.shards[f] = newShard()
	}
	return r
}

func (r *AdjRIBOut) shard(f family.Family) *shard {
	return r.shards[f]
}

// Families lists the shards in deterministic order.
func (r *AdjRIBOut) Families() []family.Family {
	fams := make([]family.Family, 0, len(r.shards))
	for f := range r.shards {
		fams = append(fams, f)
	}
	family.Sort(fams)
	return fams
}

// Enqueue files one change, deduplicating on the NLRI index. Announcing
// what was already sent with equal attributes and withdrawing what was
// never sent are both no-ops. Returns false when the change was dropped.
func (r *AdjRIBOut) Enqueue(c *Change) bool {
	s := r.shard(c.NLRI.Family())
	if s == nil {
		return false
	}
	idx := c.Index()
	if c.IsWithdraw() {
		if _, held := s.withheld[idx]; held {
			delete(s.withheld, idx)
			if _, wasSent := s.sent[idx]; !wasSent {
				s.dequeue(idx)
				return false
			}
		}
		if _, wasSent := s.sent[idx]; !wasSent {
			if _, isPending := s.pending[idx]; isPending {
				// Cancel the unsent announce.
				s.dequeue(idx)
			}
			return false
		}
		s.enqueue(c)
		return true
	}
	if prev, wasSent := s.sent[idx]; wasSent && prev.Attributes.Equal(c.Attributes) {
		s.dequeue(idx)
		return false
	}
	s.enqueue(c)
	return true
}

// Batch is the outcome of one drain, to be committed after the frames
// are handed to the connection.
type Batch struct {
	family  family.Family
	changes []*Change
}

func (b *Batch) Empty() bool { return len(b.changes) == 0 }

// Changes lists what the drain selected, in drain order.
func (b *Batch) Changes() []*Change { return b.changes }

// Drain selects up to limit bytes of pending changes for one family and
// builds the wire UPDATEs: withdrawals first, then announcements grouped
// by attribute identity (and next-hop). limit <= 0 means everything.
// groupUpdates disabled forces one announcement per UPDATE.
func (r *AdjRIBOut) Drain(f family.Family, limit int, groupUpdates bool, b *message.Builder) ([][]byte, *Batch) {
	s := r.shard(f)
	batch := &Batch{family: f}
	if s == nil || len(s.pending) == 0 {
		return nil, batch
	}

	var withdraws []nlri.NLRI
	type group struct {
		changes []*Change
		nlris   []nlri.NLRI
	}
	groups := make(map[string]*group)
	var groupOrder []string

	taken := 0
	var remaining []string
	for i, idx := range s.order {
		c, ok := s.pending[idx]
		if !ok {
			continue
		}
		size := nlri.PackedLen(c.NLRI, false) + 4
		if limit > 0 && taken+size > limit && len(batch.changes) > 0 {
			remaining = append(remaining, s.order[i:]...)
			break
		}
		taken += size
		batch.changes = append(batch.changes, c)
		delete(s.pending, idx)
		if c.IsWithdraw() {
			withdraws = append(withdraws, c.NLRI)
			continue
		}
		key := c.Attributes.Key() + "|" + c.NLRI.NextHop().String()
		if !groupUpdates {
			key = idx
		}
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		g.changes = append(g.changes, c)
		g.nlris = append(g.nlris, c.NLRI)
	}
	s.order = remaining

	var frames [][]byte
	frames = append(frames, b.Withdraws(withdraws)...)
	for _, key := range groupOrder {
		g := groups[key]
		frames = append(frames, b.Announces(g.changes[0].Attributes, g.nlris)...)
	}
	return frames, batch
}

// Commit records a drained batch as sent.
func (r *AdjRIBOut) Commit(batch *Batch) {
	s := r.shard(batch.family)
	if s == nil {
		return
	}
	for _, c := range batch.changes {
		idx := c.Index()
		if c.IsWithdraw() {
			delete(s.sent, idx)
			continue
		}
		s.sent[idx] = c
	}
}

// Pending reports the number of queued changes for a family.
func (r *AdjRIBOut) Pending(f family.Family) int {
	s := r.shard(f)
	if s == nil {
		return 0
	}
	return len(s.pending)
}

// PendingTotal reports the queued changes across families.
func (r *AdjRIBOut) PendingTotal() int {
	n := 0
	for _, s := range r.shards {
		n += len(s.pending)
	}
	return n
}

// SentCount reports the advertised routes for a family.
func (r *AdjRIBOut) SentCount(f family.Family) int {
	s := r.shard(f)
	if s == nil {
		return 0
	}
	return len(s.sent)
}

// Sent snapshots the advertised routes of a family in index order.
func (r *AdjRIBOut) Sent(f family.Family) []*Change {
	s := r.shard(f)
	if s == nil {
		return nil
	}
	idxs := make([]string, 0, len(s.sent))
	for idx := range s.sent {
		idxs = append(idxs, idx)
	}
	sort.Strings(idxs)
	out := make([]*Change, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.sent[idx])
	}
	return out
}

// Flush queues a withdrawal for everything sent.
func (r *AdjRIBOut) Flush() {
	for _, s := range r.shards {
		for _, c := range s.sent {
			s.enqueue(Withdraw(c.NLRI))
		}
	}
}

// Clear drops every pending change without emitting anything.
func (r *AdjRIBOut) Clear() {
	for _, s := range r.shards {
		s.pending = make(map[string]*Change)
		s.order = nil
	}
}

// Resend re-queues every sent route of a family as an announcement, for
// an incoming route-refresh. A zero family resends everything.
func (r *AdjRIBOut) Resend(f family.Family) {
	for fam, s := range r.shards {
		if (f != family.Family{}) && fam != f {
			continue
		}
		idxs := make([]string, 0, len(s.sent))
		for idx := range s.sent {
			idxs = append(idxs, idx)
		}
		sort.Strings(idxs)
		for _, idx := range idxs {
			c := s.sent[idx]
			s.enqueue(&Change{NLRI: c.NLRI, Attributes: c.Attributes, Watchdog: c.Watchdog})
		}
	}
}

// Reset rolls the advertised state back into pending, so everything is
// re-announced on the next session. Pending replacements win over what
// was sent.
func (r *AdjRIBOut) Reset() {
	for _, s := range r.shards {
		idxs := make([]string, 0, len(s.sent))
		for idx := range s.sent {
			idxs = append(idxs, idx)
		}
		sort.Strings(idxs)
		for _, idx := range idxs {
			c := s.sent[idx]
			delete(s.sent, idx)
			if queued, pending := s.pending[idx]; pending {
				if queued.IsWithdraw() {
					// Nothing was sent on the next session: the pending
					// withdraw cancels out.
					s.dequeue(idx)
				}
				continue
			}
			s.enqueue(c)
		}
	}
}

// WatchdogDisable parks every announce carrying the tag: sent routes are
// withdrawn, pending announces are held back.
func (r *AdjRIBOut) WatchdogDisable(tag string) int {
	n := 0
	for _, s := range r.shards {
		for idx, c := range s.pending {
			if c.Watchdog == tag && !c.IsWithdraw() {
				s.withheld[idx] = c
				s.dequeue(idx)
				n++
			}
		}
		for idx, c := range s.sent {
			if c.Watchdog == tag {
				s.withheld[idx] = c
				s.enqueue(Withdraw(c.NLRI))
				n++
			}
		}
	}
	return n
}

// WatchdogEnable releases the parked announces for the tag.
func (r *AdjRIBOut) WatchdogEnable(tag string) int {
	n := 0
	for _, s := range r.shards {
		for idx, c := range s.withheld {
			if c.Watchdog != tag {
				continue
			}
			delete(s.withheld, idx)
			s.enqueue(c)
			n++
		}
	}
	return n
}
