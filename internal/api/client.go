package api

import (
	"sync/atomic"
	"time"
)

// AckMode is the per-connection acknowledgement behavior: full acks,
// errors only, or nothing at all.
type AckMode uint8

const (
	AckEnabled AckMode = iota
	AckSilenced
	AckDisabled
)

// Client is one API connection: a child process or a unix socket peer.
// Enqueue never blocks; the reader side of each client stops consuming
// commands while the write queue is congested.
type Client interface {
	Name() string
	Encoder() string
	SetEncoder(string)
	AckMode() AckMode
	SetAckMode(AckMode)
	Enqueue(line []byte) bool
	QueueStats() (items int, bytes int64)
	Congested() bool
	WantsNeighbor(key string) bool
}

// Command is one line read from a client, handed to the reactor.
type Command struct {
	Client Client
	Line   string
}

const (
	clientQueueSize      = 4096
	clientQueueHighWater = 3072
	clientQueueLowWater  = 1024
)

// writeQueue is the bounded outgoing buffer every client shares.
type writeQueue struct {
	ch    chan []byte
	bytes atomic.Int64
}

func newWriteQueue() *writeQueue {
	return &writeQueue{ch: make(chan []byte, clientQueueSize)}
}

func (q *writeQueue) enqueue(line []byte) bool {
	select {
	case q.ch <- line:
		q.bytes.Add(int64(len(line)))
		return true
	default:
		return false
	}
}

func (q *writeQueue) stats() (int, int64) { return len(q.ch), q.bytes.Load() }

func (q *writeQueue) congested() bool { return len(q.ch) >= clientQueueHighWater }

func (q *writeQueue) drained() bool { return len(q.ch) <= clientQueueLowWater }

// waitDrained blocks the caller (a client reader goroutine) until the
// queue falls under the low-water mark; this is what suspends command
// intake under backpressure.
func (q *writeQueue) waitDrained(stop <-chan struct{}) bool {
	for !q.drained() {
		select {
		case <-stop:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return true
}

// clientState carries the mutable per-connection modes.
type clientState struct {
	encoder string
	ack     AckMode
	peers   map[string]bool // empty = every neighbor
}

func newClientState(encoder string, peers []string) clientState {
	if encoder == "" {
		encoder = "text"
	}
	st := clientState{encoder: encoder}
	if len(peers) > 0 {
		st.peers = make(map[string]bool, len(peers))
		for _, p := range peers {
			st.peers[p] = true
		}
	}
	return st
}

func (s *clientState) wantsNeighbor(key string) bool {
	if s.peers == nil {
		return true
	}
	return s.peers[key]
}
