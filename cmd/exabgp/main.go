package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/exa-networks/exabgp/internal/api"
	"github.com/exa-networks/exabgp/internal/attribute"
	"github.com/exa-networks/exabgp/internal/config"
	"github.com/exa-networks/exabgp/internal/export"
	"github.com/exa-networks/exabgp/internal/message"
	exahttp "github.com/exa-networks/exabgp/internal/http"
	"github.com/exa-networks/exabgp/internal/metrics"
	"github.com/exa-networks/exabgp/internal/reactor"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "decode":
		runDecode(os.Args[2:])
	case "version":
		fmt.Println("exabgp " + api.VersionString)
	case "--help", "-h", "help":
		printUsage()
	default:
		runServe(os.Args[1], os.Args[2:])
	}
}

func printUsage() {
	fmt.Println("Usage: exabgp <config-path> [options]")
	fmt.Println("       exabgp decode <hex-frame>")
	fmt.Println("       exabgp version")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --log-level <lvl>  Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (logLevel string) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--log-level" && i+1 < len(args) {
			logLevel = args[i+1]
			i++
		}
	}
	return
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe(configPath string, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if lvl := parseFlags(args); lvl != "" {
		cfg.Service.LogLevel = lvl
	}

	logger := initLogger(cfg.Service.LogLevel)
	defer logger.Sync()

	metrics.Register()

	if cfg.Service.PIDFile != "" {
		pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
		if err := os.WriteFile(cfg.Service.PIDFile, pid, 0o644); err != nil {
			logger.Fatal("failed to write pid file", zap.Error(err))
		}
		defer os.Remove(cfg.Service.PIDFile)
	}

	logger.Info("starting exabgp",
		zap.String("version", api.VersionString),
		zap.Int("neighbors", len(cfg.Neighbors)),
		zap.Int("tcp_port", cfg.TCP.Port),
	)

	var exporter *export.Exporter
	if cfg.Export.Enabled() {
		exporter, err = export.New(&cfg.Export, logger)
		if err != nil {
			logger.Fatal("failed to create event exporter", zap.Error(err))
		}
		logger.Info("event export enabled",
			zap.Strings("brokers", cfg.Export.Brokers),
			zap.String("topic", cfg.Export.Topic),
		)
	}

	core := reactor.New(cfg, configPath, exporter, logger)

	if cfg.Service.HTTPListen != "" {
		httpServer := exahttp.NewServer(cfg.Service.HTTPListen, core, logger.Named("http"))
		if err := httpServer.Start(); err != nil {
			logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}

	if err := core.Run(); err != nil {
		logger.Fatal("reactor failed", zap.Error(err))
	}
	logger.Info("exabgp stopped")
}

// runDecode renders one hex-encoded BGP frame (or bare UPDATE body) as
// JSON, for poking at captures.
func runDecode(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "decode needs a hex string")
		os.Exit(1)
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(strings.Join(args, ""), ":", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad hex: %v\n", err)
		os.Exit(1)
	}

	body := raw
	msgType := message.TypeUpdate
	if len(raw) >= message.HeaderSize && raw[0] == 0xFF {
		bodyLen, t, notify := message.ParseHeader(raw[:message.HeaderSize], 65535)
		if notify != nil {
			fmt.Fprintf(os.Stderr, "bad header: %v\n", notify)
			os.Exit(1)
		}
		if len(raw) != message.HeaderSize+bodyLen {
			fmt.Fprintf(os.Stderr, "frame length mismatch\n")
			os.Exit(1)
		}
		msgType = t
		body = raw[message.HeaderSize:]
	}

	var out any
	switch msgType {
	case message.TypeOpen:
		open, notify := message.ParseOpen(body)
		if notify != nil {
			fmt.Fprintf(os.Stderr, "bad open: %v\n", notify)
			os.Exit(1)
		}
		out = map[string]any{
			"type":         "open",
			"asn":          open.ASN,
			"hold_time":    open.HoldTime,
			"router_id":    open.RouterID.String(),
			"capabilities": open.Caps.String(),
		}
	case message.TypeUpdate:
		u, notify := message.ParseUpdate(body, attribute.Context{AS4: true})
		if notify != nil {
			fmt.Fprintf(os.Stderr, "bad update: %v\n", notify)
			os.Exit(1)
		}
		out = map[string]any{"type": "update", "update": reactor.UpdateJSON(u)}
	case message.TypeNotification:
		n, err := message.ParseNotification(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad notification: %v\n", err)
			os.Exit(1)
		}
		out = map[string]any{
			"type":          "notification",
			"code":          n.Code,
			"subcode":       n.Subcode,
			"communication": n.Communication(),
		}
	case message.TypeKeepAlive:
		out = map[string]any{"type": "keepalive"}
	case message.TypeRouteRefresh:
		rr, notify := message.ParseRouteRefresh(body)
		if notify != nil {
			fmt.Fprintf(os.Stderr, "bad route-refresh: %v\n", notify)
			os.Exit(1)
		}
		out = map[string]any{"type": "route-refresh", "family": rr.Family.String(), "subtype": rr.Subtype}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
