package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/exa-networks/exabgp/internal/peer"
)

type fakePeers struct {
	peers []*peer.Peer
}

func (f *fakePeers) Peers() []*peer.Peer { return f.peers }

func TestHealthz(t *testing.T) {
	s := NewServer(":0", &fakePeers{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body %v", body)
	}
}

func TestReadyzWithoutPeers(t *testing.T) {
	s := NewServer(":0", &fakePeers{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.handleReadyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("status %d, want 503 with no active peer", rec.Code)
	}
}

func TestNeighborsEmpty(t *testing.T) {
	s := NewServer(":0", &fakePeers{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.handleNeighbors(rec, httptest.NewRequest("GET", "/neighbors", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var body []any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body) != 0 {
		t.Errorf("body %v", body)
	}
}
