package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/exa-networks/exabgp/internal/capability"
	"github.com/exa-networks/exabgp/internal/family"
	"github.com/exa-networks/exabgp/internal/peer"
)

type Config struct {
	Service   ServiceConfig    `koanf:"service"`
	TCP       TCPConfig        `koanf:"tcp"`
	API       APIConfig        `koanf:"api"`
	Cache     CacheConfig      `koanf:"cache"`
	Export    ExportConfig     `koanf:"export"`
	Neighbors []NeighborConfig `koanf:"neighbors"`
}

type ServiceConfig struct {
	LogLevel   string `koanf:"log_level"`
	PIDFile    string `koanf:"pid_file"`
	HTTPListen string `koanf:"http_listen"`
}

type TCPConfig struct {
	Port int    `koanf:"port"`
	Bind string `koanf:"bind"`
}

type APIConfig struct {
	SocketPath string          `koanf:"socket_path"`
	SocketName string          `koanf:"socket_name"`
	CLI        bool            `koanf:"cli"`
	Processes  []ProcessConfig `koanf:"processes"`
}

type ProcessConfig struct {
	Name         string   `koanf:"name"`
	Run          []string `koanf:"run"`
	Respawn      *bool    `koanf:"respawn"`
	RespawnLimit int      `koanf:"respawn_limit"`
	Encoder      string   `koanf:"encoder"` // text or json
	Neighbors    []string `koanf:"neighbors"` // peer addresses to report on; empty = all
}

// RespawnEnabled defaults to true when unset.
func (p *ProcessConfig) RespawnEnabled() bool {
	return p.Respawn == nil || *p.Respawn
}

type CacheConfig struct {
	Attributes int `koanf:"attributes"`
}

type ExportConfig struct {
	Brokers       []string   `koanf:"brokers"`
	Topic         string     `koanf:"topic"`
	ClientID      string     `koanf:"client_id"`
	CompressAbove int        `koanf:"compress_above"`
	TLS           TLSConfig  `koanf:"tls"`
	SASL          SASLConfig `koanf:"sasl"`
}

func (e *ExportConfig) Enabled() bool { return len(e.Brokers) > 0 }

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type NeighborConfig struct {
	PeerAddress  string `koanf:"peer_address"`
	LocalAddress string `koanf:"local_address"`
	PeerPort     int    `koanf:"peer_port"`
	PeerAS       uint32 `koanf:"peer_as"`
	LocalAS      uint32 `koanf:"local_as"`
	RouterID     string `koanf:"router_id"`
	HoldTime     *int   `koanf:"hold_time"`
	ConnectRetry int    `koanf:"connect_retry_seconds"`

	Families []string          `koanf:"families"`
	AddPath  map[string]string `koanf:"add_path"`

	RouteRefresh    *bool  `koanf:"route_refresh"`
	EnhancedRR      bool   `koanf:"enhanced_route_refresh"`
	ExtendedMessage bool   `koanf:"extended_message"`
	GracefulRestart int    `koanf:"graceful_restart_seconds"`
	Hostname        string `koanf:"hostname"`
	Domain          string `koanf:"domain"`

	Passive      bool   `koanf:"passive"`
	MD5Password  string `koanf:"md5_password"`
	OutgoingTTL  int    `koanf:"outgoing_ttl"`
	GroupUpdates *bool  `koanf:"group_updates"`
	RateLimit    int    `koanf:"rate_limit"`
	Incoming     string `koanf:"incoming"`

	EmitUpdates    bool `koanf:"emit_updates"`
	EmitKeepalives bool `koanf:"emit_keepalives"`
	EmitRaw        bool `koanf:"emit_raw"`
}

// Load reads the YAML file, overlays EXABGP_ environment variables
// (double underscore maps to a dot), then the historical lowercase
// process knobs, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("EXABGP_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "EXABGP_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			LogLevel:   "info",
			HTTPListen: "",
		},
		TCP: TCPConfig{
			Port: 179,
		},
		Cache: CacheConfig{
			Attributes: 8192,
		},
		Export: ExportConfig{
			ClientID:      "exabgp",
			Topic:         "exabgp-events",
			CompressAbove: 4096,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacyEnv honors the lowercase environment knobs older deployments
// set: exabgp_tcp_port, exabgp_tcp_bind, exabgp_api_socketpath,
// exabgp_api_socketname, exabgp_api_cli.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("exabgp_tcp_port"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.TCP.Port = port
		}
	}
	if v := os.Getenv("exabgp_tcp_bind"); v != "" {
		cfg.TCP.Bind = v
	}
	if v := os.Getenv("exabgp_api_socketpath"); v != "" {
		cfg.API.SocketPath = v
	}
	if v := os.Getenv("exabgp_api_socketname"); v != "" {
		cfg.API.SocketName = v
	}
	if v := os.Getenv("exabgp_api_cli"); v != "" {
		cfg.API.CLI = v == "true" || v == "1"
	}
}

func (c *Config) Validate() error {
	if len(c.Neighbors) == 0 {
		return fmt.Errorf("config: at least one neighbor is required")
	}
	if c.TCP.Port <= 0 || c.TCP.Port > 65535 {
		return fmt.Errorf("config: tcp.port %d out of range", c.TCP.Port)
	}
	seen := make(map[string]bool)
	for i := range c.Neighbors {
		n := &c.Neighbors[i]
		if _, err := netip.ParseAddr(n.PeerAddress); err != nil {
			return fmt.Errorf("config: neighbors[%d].peer_address %q: %w", i, n.PeerAddress, err)
		}
		if seen[n.PeerAddress] {
			return fmt.Errorf("config: duplicate neighbor %s", n.PeerAddress)
		}
		seen[n.PeerAddress] = true
		if n.LocalAS == 0 {
			return fmt.Errorf("config: neighbors[%d].local_as is required", i)
		}
		if _, err := netip.ParseAddr(n.RouterID); err != nil {
			return fmt.Errorf("config: neighbors[%d].router_id %q: %w", i, n.RouterID, err)
		}
		if n.HoldTime != nil {
			ht := *n.HoldTime
			if ht != 0 && ht < 3 {
				return fmt.Errorf("config: neighbors[%d].hold_time %d (0 or >= 3)", i, ht)
			}
			if ht > 65535 || ht < 0 {
				return fmt.Errorf("config: neighbors[%d].hold_time %d out of range", i, ht)
			}
		}
		if _, err := n.families(); err != nil {
			return fmt.Errorf("config: neighbors[%d]: %w", i, err)
		}
		if n.Incoming != "" {
			if _, err := netip.ParsePrefix(n.Incoming); err != nil {
				return fmt.Errorf("config: neighbors[%d].incoming %q: %w", i, n.Incoming, err)
			}
		}
	}
	for i := range c.API.Processes {
		p := &c.API.Processes[i]
		if p.Name == "" {
			return fmt.Errorf("config: api.processes[%d].name is required", i)
		}
		if len(p.Run) == 0 {
			return fmt.Errorf("config: api.processes[%d].run is required", i)
		}
		if p.Encoder != "" && p.Encoder != "text" && p.Encoder != "json" {
			return fmt.Errorf("config: api.processes[%d].encoder %q (text or json)", i, p.Encoder)
		}
		if p.RespawnLimit < 0 {
			return fmt.Errorf("config: api.processes[%d].respawn_limit must be >= 0", i)
		}
	}
	if c.Export.Enabled() && c.Export.Topic == "" {
		return fmt.Errorf("config: export.topic is required when export.brokers is set")
	}
	return nil
}

func (n *NeighborConfig) families() ([]family.Family, error) {
	if len(n.Families) == 0 {
		return []family.Family{family.IPv4Unicast}, nil
	}
	out := make([]family.Family, 0, len(n.Families))
	for _, s := range n.Families {
		parts := strings.Fields(s)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad family %q (want \"afi safi\")", s)
		}
		f, err := family.Parse(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Descriptor converts the file shape into the runtime neighbor handed to
// the reactor. Validate must have passed.
func (n *NeighborConfig) Descriptor() *peer.Neighbor {
	fams, _ := n.families()
	d := &peer.Neighbor{
		PeerAddress:     netip.MustParseAddr(n.PeerAddress),
		PeerPort:        n.PeerPort,
		PeerASN:         n.PeerAS,
		LocalASN:        n.LocalAS,
		RouterID:        netip.MustParseAddr(n.RouterID),
		HoldTime:        180,
		Families:        fams,
		EnhancedRR:      n.EnhancedRR,
		ExtendedMessage: n.ExtendedMessage,
		GracefulRestart: uint16(n.GracefulRestart),
		Hostname:        n.Hostname,
		Domain:          n.Domain,
		Passive:         n.Passive,
		MD5Password:     n.MD5Password,
		OutgoingTTL:     n.OutgoingTTL,
		RateLimit:       n.RateLimit,
		EmitUpdates:     n.EmitUpdates,
		EmitKeepalives:  n.EmitKeepalives,
		EmitRaw:         n.EmitRaw,
	}
	if n.HoldTime != nil {
		d.HoldTime = uint16(*n.HoldTime)
	}
	if n.LocalAddress != "" {
		d.LocalAddress, _ = netip.ParseAddr(n.LocalAddress)
	}
	d.RouteRefresh = n.RouteRefresh == nil || *n.RouteRefresh
	d.GroupUpdates = n.GroupUpdates == nil || *n.GroupUpdates
	d.ConnectRetry = 120 * time.Second
	if n.ConnectRetry > 0 {
		d.ConnectRetry = time.Duration(n.ConnectRetry) * time.Second
	}
	if n.Incoming != "" {
		d.Incoming, _ = netip.ParsePrefix(n.Incoming)
	}
	if len(n.AddPath) > 0 {
		d.AddPath = make(map[family.Family]capability.AddPathDirection, len(n.AddPath))
		for fam, dir := range n.AddPath {
			parts := strings.Fields(fam)
			if len(parts) != 2 {
				continue
			}
			f, err := family.Parse(parts[0], parts[1])
			if err != nil {
				continue
			}
			switch dir {
			case "send":
				d.AddPath[f] = capability.AddPathSend
			case "receive":
				d.AddPath[f] = capability.AddPathReceive
			case "send/receive", "both":
				d.AddPath[f] = capability.AddPathBoth
			}
		}
	}
	return d
}

// Descriptors converts every configured neighbor, keyed by peer address.
func (c *Config) Descriptors() map[string]*peer.Neighbor {
	out := make(map[string]*peer.Neighbor, len(c.Neighbors))
	for i := range c.Neighbors {
		d := c.Neighbors[i].Descriptor()
		out[d.Key()] = d
	}
	return out
}

// SocketPath derives the per-instance unix socket path, so several
// daemons sharing a directory do not collide.
func (c *Config) SocketPath() string {
	if c.API.SocketPath == "" {
		return ""
	}
	name := c.API.SocketName
	if name == "" {
		name = "exabgp"
	}
	return fmt.Sprintf("%s/%s.sock", strings.TrimRight(c.API.SocketPath, "/"), name)
}

// BuildTLSConfig creates a *tls.Config for the export client. Returns nil
// when TLS is disabled.
func (e *ExportConfig) BuildTLSConfig() (*tls.Config, error) {
	if !e.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if e.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(e.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if e.TLS.CertFile != "" && e.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(e.TLS.CertFile, e.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates the SASL mechanism for the export client.
// Returns nil when SASL is disabled.
func (e *ExportConfig) BuildSASLMechanism() sasl.Mechanism {
	if !e.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(e.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: e.SASL.Username, Pass: e.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
