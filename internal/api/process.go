package api

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/config"
	"github.com/exa-networks/exabgp/internal/metrics"
)

// respawnWindow: exits spaced wider than this reset the consecutive
// failure counter.
const respawnWindow = 30 * time.Second

// Process is one API child: we read commands from its stdout and write
// responses and events to its stdin, line by line.
type Process struct {
	cfg      config.ProcessConfig
	state    clientState
	queue    *writeQueue
	commands chan<- Command
	log      *zap.Logger

	stop     chan struct{}
	restarts int
	lastExit time.Time
}

// Supervisor owns the configured API processes: spawning, respawn with a
// limit, and quarantine.
type Supervisor struct {
	procs    []*Process
	commands chan Command
	log      *zap.Logger
}

func NewSupervisor(cfgs []config.ProcessConfig, commands chan Command, log *zap.Logger) *Supervisor {
	s := &Supervisor{
		commands: commands,
		log:      log.Named("api"),
	}
	for _, cfg := range cfgs {
		p := &Process{
			cfg:      cfg,
			state:    newClientState(cfg.Encoder, cfg.Neighbors),
			queue:    newWriteQueue(),
			commands: s.commands,
			log:      s.log.Named(cfg.Name),
			stop:     make(chan struct{}),
		}
		s.procs = append(s.procs, p)
	}
	return s
}

// Commands is the single stream the reactor consumes.
func (s *Supervisor) Commands() <-chan Command { return s.commands }

func (s *Supervisor) Clients() []Client {
	out := make([]Client, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}

// Start spawns every configured process.
func (s *Supervisor) Start() {
	for _, p := range s.procs {
		go p.supervise()
	}
}

// Shutdown stops every process.
func (s *Supervisor) Shutdown() {
	for _, p := range s.procs {
		close(p.stop)
	}
}

func (p *Process) Name() string    { return p.cfg.Name }
func (p *Process) Encoder() string { return p.state.encoder }
func (p *Process) SetEncoder(e string) {
	if e == "text" || e == "json" {
		p.state.encoder = e
	}
}
func (p *Process) AckMode() AckMode       { return p.state.ack }
func (p *Process) SetAckMode(m AckMode)   { p.state.ack = m }
func (p *Process) Congested() bool        { return p.queue.congested() }
func (p *Process) QueueStats() (int, int64) {
	items, bytes := p.queue.stats()
	metrics.APIQueueBytes.WithLabelValues(p.cfg.Name).Set(float64(bytes))
	return items, bytes
}
func (p *Process) WantsNeighbor(key string) bool { return p.state.wantsNeighbor(key) }

func (p *Process) Enqueue(line []byte) bool {
	ok := p.queue.enqueue(line)
	if !ok {
		p.log.Warn("api queue overflow, dropping line")
	}
	_, bytes := p.queue.stats()
	metrics.APIQueueBytes.WithLabelValues(p.cfg.Name).Set(float64(bytes))
	return ok
}

// supervise runs the child until the supervisor shuts down or the
// respawn budget is spent.
func (p *Process) supervise() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		err := p.runOnce()
		select {
		case <-p.stop:
			return
		default:
		}
		if err != nil {
			p.log.Warn("api process exited", zap.Error(err))
		} else {
			p.log.Info("api process exited")
		}
		if !p.cfg.RespawnEnabled() {
			return
		}
		if time.Since(p.lastExit) > respawnWindow {
			p.restarts = 0
		}
		p.lastExit = time.Now()
		p.restarts++
		limit := p.cfg.RespawnLimit
		if limit == 0 {
			limit = 5
		}
		if p.restarts > limit {
			p.log.Error("api process quarantined",
				zap.Int("restarts", p.restarts))
			return
		}
		metrics.ProcessRestartsTotal.WithLabelValues(p.cfg.Name).Inc()
		time.Sleep(time.Second)
	}
}

func (p *Process) runOnce() error {
	cmd := exec.Command(p.cfg.Run[0], p.cfg.Run[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	p.log.Info("api process started", zap.Int("pid", cmd.Process.Pid))

	done := make(chan struct{})
	go p.writeLoop(stdin, done)
	p.readLoop(stdout)
	close(done)
	stdin.Close()
	return cmd.Wait()
}

// readLoop feeds stdout lines into the reactor. While the write queue
// toward the process is congested, no further commands are consumed: the
// process is not handed more work until it drained what it is owed.
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if p.queue.congested() && !p.queue.waitDrained(p.stop) {
			return
		}
		select {
		case p.commands <- Command{Client: p, Line: line}:
		case <-p.stop:
			return
		}
	}
}

func (p *Process) writeLoop(stdin io.Writer, done chan struct{}) {
	w := bufio.NewWriter(stdin)
	for {
		select {
		case line := <-p.queue.ch:
			p.queue.bytes.Add(int64(-len(line)))
			if _, err := w.Write(line); err != nil {
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				return
			}
			if len(p.queue.ch) == 0 {
				if err := w.Flush(); err != nil {
					return
				}
			}
		case <-done:
			return
		case <-p.stop:
			return
		}
	}
}
