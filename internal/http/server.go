package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/api"
	"github.com/exa-networks/exabgp/internal/peer"
)

// PeerSource abstracts the reactor's peer table for testability.
type PeerSource interface {
	Peers() []*peer.Peer
}

type Server struct {
	srv    *http.Server
	peers  PeerSource
	logger *zap.Logger
}

func NewServer(addr string, peers PeerSource, logger *zap.Logger) *Server {
	s := &Server{
		peers:  peers,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/neighbors", s.handleNeighbors)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyz reports ready once at least one peer left IDLE; a daemon
// whose every session is idle is not usefully serving.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := false
	for _, p := range s.peers.Peers() {
		if p.State() != peer.Idle {
			ready = true
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleNeighbors dumps the same payload `show neighbor json` produces.
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	out := make([]*api.NeighborStatus, 0)
	for _, p := range s.peers.Peers() {
		out = append(out, api.Status(p))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
