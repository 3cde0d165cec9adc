package reactor

import (
	"context"
	"fmt"
	"sort"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/api"
	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/config"
	"github.com/exa-networks/exabgp/internal/export"
	"github.com/exa-networks/exabgp/internal/metrics"
	"github.com/exa-networks/exabgp/internal/peer"
)

// Reactor owns the peer table, the listener, the API plane and the event
// counter. All mutable state is touched only by the Run goroutine;
// connections, timers, API readers and the exporter talk to it through
// channels.
type Reactor struct {
	cfg     *config.Config
	cfgPath string
	log     *zap.Logger

	cache *attribute.Cache
	peers map[string]*peer.Peer

	events   chan peer.Event
	commands chan api.Command
	accepted chan net.Conn

	supervisor *api.Supervisor
	socket     *api.SocketServer
	dispatcher *api.Dispatcher
	exporter   *export.Exporter

	listener net.Listener
	ribIn    map[string]map[string]api.RIBInEntry
	counter  uint64
	stopping bool
	stopCh   chan struct{}
}

func New(cfg *config.Config, cfgPath string, exporter *export.Exporter, log *zap.Logger) *Reactor {
	r := &Reactor{
		cfg:      cfg,
		cfgPath:  cfgPath,
		log:      log.Named("reactor"),
		cache:    attribute.NewCache(cfg.Cache.Attributes),
		peers:    make(map[string]*peer.Peer),
		events:   make(chan peer.Event, 1024),
		commands: make(chan api.Command, 1024),
		accepted: make(chan net.Conn, 16),
		exporter: exporter,
		ribIn:    make(map[string]map[string]api.RIBInEntry),
		stopCh:   make(chan struct{}),
	}
	r.dispatcher = api.NewDispatcher(r, log)
	r.supervisor = api.NewSupervisor(cfg.API.Processes, r.commands, log)
	return r
}

// Run starts everything and loops until shutdown. The returned error is
// only non-nil for startup failures.
func (r *Reactor) Run() error {
	if err := r.listen(); err != nil {
		return err
	}

	if r.cfg.SocketPath() != "" {
		socket, err := api.NewSocketServer(r.cfg.SocketPath(), r.commands, r.log)
		if err != nil {
			return err
		}
		r.socket = socket
		r.log.Info("api socket listening", zap.String("path", r.cfg.SocketPath()))
	}

	for _, n := range r.cfg.Descriptors() {
		r.addPeer(n)
	}
	r.supervisor.Start()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	// A slow tick retries drains held back by congestion and refreshes
	// the RIB gauges.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case ev := <-r.events:
			if p, ok := r.peers[ev.Key]; ok {
				p.HandleEvent(ev)
				p.DrainRIB()
			} else if ev.Conn != nil {
				ev.Conn.Close()
			}
		case conn := <-r.accepted:
			r.matchIncoming(conn)
		case cmd := <-r.commands:
			r.dispatcher.Handle(cmd)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				r.log.Info("received shutdown signal", zap.String("signal", sig.String()))
				r.Shutdown("")
			case syscall.SIGHUP:
				r.log.Info("received reload signal")
				if err := r.Reload(); err != nil {
					r.log.Error("reload failed", zap.Error(err))
				}
			case syscall.SIGUSR1:
				r.dumpState()
			}
		case <-tick.C:
			for _, p := range r.peers {
				p.DrainRIB()
				r.updateRIBMetrics(p)
			}
		case <-r.stopCh:
			r.finish()
			return nil
		}
	}
}

func (r *Reactor) listen() error {
	bind := r.cfg.TCP.Bind
	addr := net.JoinHostPort(bind, fmt.Sprintf("%d", r.cfg.TCP.Port))
	lc := net.ListenConfig{Control: listenControl}
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("reactor: listening on %s: %w", addr, err)
	}
	r.listener = l
	r.log.Info("listening", zap.String("address", addr))

	for _, n := range r.cfg.Descriptors() {
		if n.MD5Password != "" {
			if err := peer.ListenerMD5(l, n.PeerAddress.String(), n.MD5Password); err != nil {
				return fmt.Errorf("reactor: md5 for %s: %w", n.Key(), err)
			}
		}
	}

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			select {
			case r.accepted <- conn:
			case <-r.stopCh:
				conn.Close()
				return
			}
		}
	}()
	return nil
}

// matchIncoming hands an accepted socket to the neighbor whose address
// (or permitted incoming range) covers the source.
func (r *Reactor) matchIncoming(conn net.Conn) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}
	source, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		conn.Close()
		return
	}
	source = source.Unmap()
	for _, p := range r.peers {
		if p.Neighbor().Matches(source) {
			r.log.Info("incoming connection matched",
				zap.String("source", source.String()),
				zap.String("neighbor", p.Key()),
			)
			p.HandleIncoming(peer.Accept(p.Key(), conn, r.events, r.log))
			return
		}
	}
	r.log.Warn("incoming connection from unknown source",
		zap.String("source", source.String()))
	conn.Close()
}

func (r *Reactor) addPeer(n *peer.Neighbor) *peer.Peer {
	p := peer.New(n, r.events, r.cache, peer.Hooks{
		SessionUp:   r.onSessionUp,
		SessionDown: r.onSessionDown,
		UpdateIn:    r.onUpdateIn,
		MessageIn:   r.onMessageIn,
		EORIn:       r.onEORIn,
	}, r.log)
	r.peers[n.Key()] = p
	p.Start()
	return p
}

// --- api.Core ---

func (r *Reactor) Peers() []*peer.Peer {
	out := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Reactor) Peer(key string) *peer.Peer { return r.peers[key] }

func (r *Reactor) AddNeighbor(n *peer.Neighbor) error {
	if _, exists := r.peers[n.Key()]; exists {
		return fmt.Errorf("reactor: neighbor %s already exists", n.Key())
	}
	if n.MD5Password != "" {
		if err := peer.ListenerMD5(r.listener, n.PeerAddress.String(), n.MD5Password); err != nil {
			return err
		}
	}
	r.addPeer(n)
	r.log.Info("neighbor created", zap.String("neighbor", n.Key()))
	return nil
}

func (r *Reactor) RemoveNeighbor(key string) error {
	p, ok := r.peers[key]
	if !ok {
		return fmt.Errorf("reactor: no neighbor %s", key)
	}
	p.Stop("peer de-configured")
	delete(r.peers, key)
	r.log.Info("neighbor deleted", zap.String("neighbor", key))
	return nil
}

// Reload loads a fresh configuration snapshot and diffs it against the
// running peer table: new neighbors start, removed ones stop, modified
// ones bounce with the new descriptor.
func (r *Reactor) Reload() error {
	cfg, err := config.Load(r.cfgPath)
	if err != nil {
		return err
	}
	fresh := cfg.Descriptors()

	for key, p := range r.peers {
		next, keep := fresh[key]
		if !keep {
			p.Stop("peer de-configured")
			delete(r.peers, key)
			r.log.Info("neighbor removed on reload", zap.String("neighbor", key))
			continue
		}
		if !p.Neighbor().Equal(next) {
			p.Stop("configuration change")
			p.SetNeighbor(next)
			p.Start()
			r.log.Info("neighbor bounced on reload", zap.String("neighbor", key))
		} else {
			p.SetNeighbor(next)
		}
	}
	for key, n := range fresh {
		if _, exists := r.peers[key]; !exists {
			r.addPeer(n)
			r.log.Info("neighbor added on reload", zap.String("neighbor", key))
		}
	}
	r.cfg = cfg
	return nil
}

func (r *Reactor) Restart(communication string) {
	for _, p := range r.peers {
		p.Restart(communication)
		p.Start()
	}
}

// Shutdown stops every peer, gives the NOTIFICATIONs a two second grace
// to flush, then ends the run loop.
func (r *Reactor) Shutdown(communication string) {
	if r.stopping {
		return
	}
	r.stopping = true
	for _, p := range r.peers {
		p.Stop(communication)
	}
	go func() {
		time.Sleep(2 * time.Second)
		close(r.stopCh)
	}()
}

func (r *Reactor) Drain(p *peer.Peer) { p.DrainRIB() }

// AdjRIBIn snapshots the routes observed from one peer, in stable order.
func (r *Reactor) AdjRIBIn(key string) []api.RIBInEntry {
	table := r.ribIn[key]
	if len(table) == 0 {
		return nil
	}
	idxs := make([]string, 0, len(table))
	for idx := range table {
		idxs = append(idxs, idx)
	}
	sort.Strings(idxs)
	out := make([]api.RIBInEntry, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, table[idx])
	}
	return out
}

func (r *Reactor) finish() {
	if r.listener != nil {
		r.listener.Close()
	}
	if r.socket != nil {
		r.socket.Close()
	}
	r.supervisor.Shutdown()
	if r.exporter != nil {
		r.exporter.Close()
	}
	r.log.Info("reactor stopped")
}

func (r *Reactor) dumpState() {
	for key, p := range r.peers {
		r.log.Info("peer state",
			zap.String("neighbor", key),
			zap.String("state", p.State().String()),
			zap.String("last_error", p.LastError()),
		)
	}
	hits, misses := r.cache.Stats()
	r.log.Info("attribute cache",
		zap.Int("entries", r.cache.Len()),
		zap.Uint64("hits", hits),
		zap.Uint64("misses", misses),
	)
}

func (r *Reactor) updateRIBMetrics(p *peer.Peer) {
	if p.RIB == nil {
		return
	}
	for _, f := range p.RIB.Families() {
		metrics.AdjRIBOutSent.WithLabelValues(p.Key(), f.String()).Set(float64(p.RIB.SentCount(f)))
	}
}
