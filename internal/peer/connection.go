package peer

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/message"
)

// Direction of a connection relative to this speaker.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Outbound queue sizing: the writer drains a bounded frame queue; the
// RIB is not drained while the queue sits above the high-water mark.
const (
	outQueueSize      = 1024
	outHighWater      = 768
	outLowWater       = 256
	writeDeadline     = 90 * time.Second
	dialTimeout       = 10 * time.Second
)

// EventKind tags what a connection or timer delivered to the reactor.
type EventKind uint8

const (
	EvFrame EventKind = iota
	EvDialOK
	EvDialFail
	EvConnClosed
	EvConnectRetry
	EvHoldExpired
	EvKeepaliveTick
)

// Event is what peers post to the reactor's single event channel. All
// peer state is mutated only by the reactor goroutine that consumes it.
type Event struct {
	Key     string
	Kind    EventKind
	Conn    *Conn
	MsgType message.Type
	Body    []byte
	Err     error
}

// Conn frames BGP messages over one TCP connection. One reader and one
// writer goroutine run per connection; everything they learn goes through
// the event channel.
type Conn struct {
	key       string
	direction Direction
	tcp       net.Conn
	events    chan<- Event
	out       chan []byte
	queued    atomic.Int64
	maxSize   atomic.Int32
	closed    atomic.Bool
	done      chan struct{}
	log       *zap.Logger
}

func newConn(key string, direction Direction, tcp net.Conn, events chan<- Event, log *zap.Logger) *Conn {
	c := &Conn{
		key:       key,
		direction: direction,
		tcp:       tcp,
		events:    events,
		out:       make(chan []byte, outQueueSize),
		done:      make(chan struct{}),
		log:       log,
	}
	c.maxSize.Store(capability.MaxMessageSize)
	go c.reader()
	go c.writer()
	return c
}

// Dial starts an outgoing connection attempt; the result arrives as an
// EvDialOK or EvDialFail event.
func Dial(key string, local, remote string, port int, md5 string, ttl int, events chan<- Event, log *zap.Logger) {
	go func() {
		dialer := net.Dialer{Timeout: dialTimeout}
		if local != "" {
			dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(local)}
		}
		dialer.Control = dialControl(md5, remote, ttl)
		tcp, err := dialer.Dial("tcp", net.JoinHostPort(remote, fmt.Sprintf("%d", port)))
		if err != nil {
			events <- Event{Key: key, Kind: EvDialFail, Err: err}
			return
		}
		events <- Event{Key: key, Kind: EvDialOK, Conn: newConn(key, Outgoing, tcp, events, log)}
	}()
}

// Accept wraps an already-accepted socket.
func Accept(key string, tcp net.Conn, events chan<- Event, log *zap.Logger) *Conn {
	return newConn(key, Incoming, tcp, events, log)
}

func (c *Conn) Direction() Direction { return c.direction }

func (c *Conn) LocalAddr() net.Addr  { return c.tcp.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.tcp.RemoteAddr() }

// SetMaxMessageSize raises the framing limit once Extended Message is
// negotiated.
func (c *Conn) SetMaxMessageSize(n int) { c.maxSize.Store(int32(n)) }

// Send queues one frame; it reports false when the queue is full, in
// which case the connection is beyond saving and will be torn down.
func (c *Conn) Send(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.out <- frame:
		c.queued.Add(int64(len(frame)))
		return true
	default:
		return false
	}
}

// QueueDepth is the number of queued outgoing frames; the RIB drain
// backs off above the high-water mark.
func (c *Conn) QueueDepth() int { return len(c.out) }

func (c *Conn) Congested() bool { return len(c.out) >= outHighWater }

func (c *Conn) Drained() bool { return len(c.out) <= outLowWater }

// QueuedBytes is the outgoing backlog in bytes.
func (c *Conn) QueuedBytes() int64 { return c.queued.Load() }

// Close tears the connection down; the writer flushes what it can and
// closes the socket, unblocking the reader. Safe to call more than once.
func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func (c *Conn) reader() {
	header := make([]byte, message.HeaderSize)
	for {
		if _, err := io.ReadFull(c.tcp, header); err != nil {
			c.closeWith(err)
			return
		}
		bodyLen, msgType, notify := message.ParseHeader(header, int(c.maxSize.Load()))
		if notify != nil {
			c.postEvent(Event{Key: c.key, Kind: EvFrame, Conn: c, Err: notify})
			return
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(c.tcp, body); err != nil {
			c.closeWith(err)
			return
		}
		if !c.postEvent(Event{Key: c.key, Kind: EvFrame, Conn: c, MsgType: msgType, Body: body}) {
			return
		}
	}
}

func (c *Conn) postEvent(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) closeWith(err error) {
	if c.closed.Load() {
		return
	}
	c.postEvent(Event{Key: c.key, Kind: EvConnClosed, Conn: c, Err: err})
}

func (c *Conn) writer() {
	defer c.tcp.Close()
	for {
		select {
		case frame := <-c.out:
			c.tcp.SetWriteDeadline(time.Now().Add(writeDeadline))
			if _, err := c.tcp.Write(frame); err != nil {
				c.queued.Add(int64(-len(frame)))
				c.closeWith(err)
				return
			}
			c.queued.Add(int64(-len(frame)))
		case <-c.done:
			// Flush what was queued before the close, best effort.
			for {
				select {
				case frame := <-c.out:
					c.tcp.SetWriteDeadline(time.Now().Add(2 * time.Second))
					if _, err := c.tcp.Write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
