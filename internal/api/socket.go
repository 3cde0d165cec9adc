package api

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SocketServer accepts API connections on a per-instance unix socket;
// each connection speaks the same line protocol as a child process.
type SocketServer struct {
	path     string
	listener net.Listener
	commands chan<- Command
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*SocketClient]bool
	nextID  int
	closed  bool
}

// SocketClient is one accepted unix socket connection.
type SocketClient struct {
	name   string
	conn   net.Conn
	state  clientState
	queue  *writeQueue
	server *SocketServer
	stop   chan struct{}
}

func NewSocketServer(path string, commands chan<- Command, log *zap.Logger) (*SocketServer, error) {
	// A stale socket from a dead instance blocks the bind.
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("api: listening on %s: %w", path, err)
	}
	s := &SocketServer{
		path:     path,
		listener: l,
		commands: commands,
		log:      log.Named("api.socket"),
		clients:  make(map[*SocketClient]bool),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *SocketServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.nextID++
		c := &SocketClient{
			name:   fmt.Sprintf("socket-%d", s.nextID),
			conn:   conn,
			state:  newClientState("text", nil),
			queue:  newWriteQueue(),
			server: s,
			stop:   make(chan struct{}),
		}
		s.clients[c] = true
		s.mu.Unlock()
		s.log.Info("api connection accepted", zap.String("client", c.name))
		go c.readLoop()
		go c.writeLoop()
	}
}

// Clients snapshots the live connections.
func (s *SocketServer) Clients() []Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *SocketServer) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*SocketClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	s.listener.Close()
	for _, c := range clients {
		c.close()
	}
	os.Remove(s.path)
}

func (s *SocketServer) drop(c *SocketClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (c *SocketClient) Name() string    { return c.name }
func (c *SocketClient) Encoder() string { return c.state.encoder }
func (c *SocketClient) SetEncoder(e string) {
	if e == "text" || e == "json" {
		c.state.encoder = e
	}
}
func (c *SocketClient) AckMode() AckMode     { return c.state.ack }
func (c *SocketClient) SetAckMode(m AckMode) { c.state.ack = m }
func (c *SocketClient) Congested() bool      { return c.queue.congested() }
func (c *SocketClient) QueueStats() (int, int64) { return c.queue.stats() }
func (c *SocketClient) WantsNeighbor(key string) bool { return c.state.wantsNeighbor(key) }

func (c *SocketClient) Enqueue(line []byte) bool { return c.queue.enqueue(line) }

func (c *SocketClient) close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
		c.conn.Close()
	}
}

func (c *SocketClient) readLoop() {
	defer func() {
		c.close()
		c.server.drop(c)
	}()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.queue.congested() && !c.queue.waitDrained(c.stop) {
			return
		}
		select {
		case c.server.commands <- Command{Client: c, Line: line}:
		case <-c.stop:
			return
		}
	}
}

func (c *SocketClient) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for {
		select {
		case line := <-c.queue.ch:
			c.queue.bytes.Add(int64(-len(line)))
			if _, err := w.Write(line); err != nil {
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				return
			}
			if len(c.queue.ch) == 0 {
				if err := w.Flush(); err != nil {
					return
				}
			}
		case <-c.stop:
			return
		}
	}
}
