package api

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/exa-networks/exabgp/internal/peer"
)

// Selector narrows a command to a set of peers: an explicit address, a
// wildcard, or a conjunction of attributes that must all match.
type Selector struct {
	All      bool
	Peers    []netip.Addr
	PeerAS   uint32
	LocalAS  uint32
	LocalIP  netip.Addr
	RouterID netip.Addr
}

// Empty reports whether no selector token was given; most verbs then
// default to every peer.
func (s *Selector) Empty() bool {
	return !s.All && len(s.Peers) == 0 && s.PeerAS == 0 && s.LocalAS == 0 &&
		!s.LocalIP.IsValid() && !s.RouterID.IsValid()
}

// Matches applies the conjunction to one neighbor.
func (s *Selector) Matches(n *peer.Neighbor) bool {
	if s.All || s.Empty() {
		return true
	}
	if len(s.Peers) > 0 {
		found := false
		for _, a := range s.Peers {
			if a == n.PeerAddress {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.PeerAS != 0 && s.PeerAS != n.PeerASN {
		return false
	}
	if s.LocalAS != 0 && s.LocalAS != n.LocalASN {
		return false
	}
	if s.LocalIP.IsValid() && s.LocalIP != n.LocalAddress {
		return false
	}
	if s.RouterID.IsValid() && s.RouterID != n.RouterID {
		return false
	}
	return true
}

// Command is one parsed API line: the selector, the verb, and the
// remaining tokens.
type Command struct {
	Selector Selector
	Verb     string
	Args     []string
}

// Parse splits one line into selector and verb. The selector grammar:
// `neighbor <addr>` (repeatable), `*`, and the attribute pairs peer-as,
// local-as, local-ip, router-id, in any order before the verb.
func Parse(line string) (*Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("api: empty command")
	}

	cmd := &Command{}
	i := 0
	for i < len(tokens) {
		switch tokens[i] {
		case "neighbor":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("api: neighbor needs an address")
			}
			if tokens[i+1] == "*" {
				cmd.Selector.All = true
				i += 2
				continue
			}
			addr, err := netip.ParseAddr(tokens[i+1])
			if err != nil {
				return nil, fmt.Errorf("api: bad neighbor address %q", tokens[i+1])
			}
			cmd.Selector.Peers = append(cmd.Selector.Peers, addr)
			i += 2
		case "*":
			cmd.Selector.All = true
			i++
		case "peer-as":
			v, err := selectorUint(tokens, i)
			if err != nil {
				return nil, err
			}
			cmd.Selector.PeerAS = v
			i += 2
		case "local-as":
			v, err := selectorUint(tokens, i)
			if err != nil {
				return nil, err
			}
			cmd.Selector.LocalAS = v
			i += 2
		case "local-ip":
			a, err := selectorAddr(tokens, i)
			if err != nil {
				return nil, err
			}
			cmd.Selector.LocalIP = a
			i += 2
		case "router-id":
			a, err := selectorAddr(tokens, i)
			if err != nil {
				return nil, err
			}
			cmd.Selector.RouterID = a
			i += 2
		default:
			cmd.Verb = tokens[i]
			cmd.Args = tokens[i+1:]
			return cmd, nil
		}
	}
	return nil, fmt.Errorf("api: no verb in %q", line)
}

func selectorUint(tokens []string, i int) (uint32, error) {
	if i+1 >= len(tokens) {
		return 0, fmt.Errorf("api: %s needs a value", tokens[i])
	}
	v, err := strconv.ParseUint(tokens[i+1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("api: bad %s %q", tokens[i], tokens[i+1])
	}
	return uint32(v), nil
}

func selectorAddr(tokens []string, i int) (netip.Addr, error) {
	if i+1 >= len(tokens) {
		return netip.Addr{}, fmt.Errorf("api: %s needs a value", tokens[i])
	}
	a, err := netip.ParseAddr(tokens[i+1])
	if err != nil {
		return netip.Addr{}, fmt.Errorf("api: bad %s %q", tokens[i], tokens[i+1])
	}
	return a, nil
}
