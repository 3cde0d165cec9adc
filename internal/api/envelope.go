package api

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/exa-networks/exabgp/internal/peer"
)

// VersionString identifies the speaker in event envelopes and OPEN
// software-version capabilities.
const VersionString = "5.0.0"

var (
	hostname, _ = os.Hostname()
	pid         = os.Getpid()
)

// Envelope is the JSON event wrapper every subscriber receives.
type Envelope struct {
	ExaBGP   string           `json:"exabgp"`
	Time     float64          `json:"time"`
	Host     string           `json:"host"`
	PID      int              `json:"pid"`
	Counter  uint64           `json:"counter"`
	Type     string           `json:"type"`
	Neighbor EnvelopeNeighbor `json:"neighbor"`
	Direction string          `json:"direction,omitempty"`
	Message  json.RawMessage  `json:"message,omitempty"`
}

type EnvelopeNeighbor struct {
	Address struct {
		Local string `json:"local"`
		Peer  string `json:"peer"`
	} `json:"address"`
	ASN struct {
		Local uint32 `json:"local"`
		Peer  uint32 `json:"peer"`
	} `json:"asn"`
}

// NewEnvelope builds the wrapper; message must marshal cleanly or be nil.
func NewEnvelope(counter uint64, eventType, direction string, nb *peer.Neighbor, message any) ([]byte, error) {
	env := Envelope{
		ExaBGP:    VersionString,
		Time:      float64(time.Now().UnixNano()) / float64(time.Second),
		Host:      hostname,
		PID:       pid,
		Counter:   counter,
		Type:      eventType,
		Direction: direction,
	}
	env.Neighbor.Address.Peer = nb.PeerAddress.String()
	if nb.LocalAddress.IsValid() {
		env.Neighbor.Address.Local = nb.LocalAddress.String()
	}
	env.Neighbor.ASN.Local = nb.LocalASN
	env.Neighbor.ASN.Peer = nb.PeerASN
	if message != nil {
		raw, err := json.Marshal(message)
		if err != nil {
			return nil, err
		}
		env.Message = raw
	}
	return json.Marshal(env)
}

// TextEvent renders the same event for text-mode subscribers.
func TextEvent(eventType string, nb *peer.Neighbor, detail string) []byte {
	line := fmt.Sprintf("neighbor %s %s", nb.PeerAddress, eventType)
	if detail != "" {
		line += " " + strings.TrimSpace(detail)
	}
	return []byte(line)
}
