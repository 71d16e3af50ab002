// Package config loads the signaling relay's configuration from environment
// variables with command-line flag overrides.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "RUSTYCLINT_SIGNAL_LISTEN_ADDR"
	envVarLogFormat       = "RUSTYCLINT_SIGNAL_LOG_FORMAT"
	envVarLogLevel        = "RUSTYCLINT_SIGNAL_LOG_LEVEL"
	envVarShutdownTimeout = "RUSTYCLINT_SIGNAL_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Room relay knobs.
	envVarMaxRoomMembers      = "MAX_ROOM_MEMBERS"
	envVarMemberSendQueue     = "MEMBER_SEND_QUEUE"
	envVarMaxEnvelopeBytes    = "MAX_ENVELOPE_BYTES"
	envVarMaxEnvelopesPerSec  = "MAX_ENVELOPES_PER_SECOND"
	envVarRelayWSIdleTimeout  = "RELAY_WS_IDLE_TIMEOUT"
	envVarRelayWSPingInterval = "RELAY_WS_PING_INTERVAL"
	envVarRelayWSWriteTimeout = "RELAY_WS_WRITE_TIMEOUT"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxRoomMembers = 16
	// DefaultMemberSendQueue bounds each member's outbound envelope queue. A
	// member that cannot drain its queue is disconnected rather than allowed to
	// stall the whole room.
	DefaultMemberSendQueue = 64
	// DefaultMaxEnvelopeBytes comfortably fits an SDP with many media sections.
	DefaultMaxEnvelopeBytes    = 128 << 10 // 128KiB
	DefaultMaxEnvelopesPerSec  = 50
	DefaultRelayWSIdleTimeout  = 60 * time.Second
	DefaultRelayWSPingInterval = 20 * time.Second
	DefaultRelayWSWriteTimeout = 5 * time.Second
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts which browser origins may open a relay
	// WebSocket. Empty means no Origin check (non-browser clients).
	AllowedOrigins []string

	MaxRoomMembers      int
	MemberSendQueue     int
	MaxEnvelopeBytes    int64
	MaxEnvelopesPerSec  int
	RelayWSIdleTimeout  time.Duration
	RelayWSPingInterval time.Duration
	RelayWSWriteTimeout time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envVarLogLevel, "info")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	maxRoomMembers, err := envIntOrDefault(lookup, envVarMaxRoomMembers, DefaultMaxRoomMembers)
	if err != nil {
		return Config{}, err
	}
	memberSendQueue, err := envIntOrDefault(lookup, envVarMemberSendQueue, DefaultMemberSendQueue)
	if err != nil {
		return Config{}, err
	}
	maxEnvelopeBytes, err := envIntOrDefault(lookup, envVarMaxEnvelopeBytes, DefaultMaxEnvelopeBytes)
	if err != nil {
		return Config{}, err
	}
	maxEnvelopesPerSec, err := envIntOrDefault(lookup, envVarMaxEnvelopesPerSec, DefaultMaxEnvelopesPerSec)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarRelayWSIdleTimeout, DefaultRelayWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarRelayWSPingInterval, DefaultRelayWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := envDurationOrDefault(lookup, envVarRelayWSWriteTimeout, DefaultRelayWSWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("rustyclint-signal", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.IntVar(&maxRoomMembers, "max-room-members", maxRoomMembers, "Maximum participants per room (env "+envVarMaxRoomMembers+")")
	fs.IntVar(&memberSendQueue, "member-send-queue", memberSendQueue, "Per-member outbound envelope queue length (env "+envVarMemberSendQueue+")")
	fs.IntVar(&maxEnvelopeBytes, "max-envelope-bytes", maxEnvelopeBytes, "Maximum signaling envelope size in bytes (env "+envVarMaxEnvelopeBytes+")")
	fs.IntVar(&maxEnvelopesPerSec, "max-envelopes-per-second", maxEnvelopesPerSec, "Per-connection envelope rate limit (env "+envVarMaxEnvelopesPerSec+")")
	fs.DurationVar(&idleTimeout, "relay-ws-idle-timeout", idleTimeout, "Disconnect relay WebSockets idle longer than this (env "+envVarRelayWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "relay-ws-ping-interval", pingInterval, "WebSocket ping interval (env "+envVarRelayWSPingInterval+")")
	fs.DurationVar(&writeTimeout, "relay-ws-write-timeout", writeTimeout, "WebSocket write timeout (env "+envVarRelayWSWriteTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if maxRoomMembers < 2 {
		return Config{}, fmt.Errorf("invalid %s %d: a call room needs at least 2 members", envVarMaxRoomMembers, maxRoomMembers)
	}
	if memberSendQueue < 1 {
		return Config{}, fmt.Errorf("invalid %s %d: must be at least 1", envVarMemberSendQueue, memberSendQueue)
	}
	if maxEnvelopeBytes < 1 {
		return Config{}, fmt.Errorf("invalid %s %d: must be positive", envVarMaxEnvelopeBytes, maxEnvelopeBytes)
	}
	if maxEnvelopesPerSec < 1 {
		return Config{}, fmt.Errorf("invalid %s %d: must be positive", envVarMaxEnvelopesPerSec, maxEnvelopesPerSec)
	}
	if pingInterval >= idleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)", envVarRelayWSPingInterval, pingInterval, envVarRelayWSIdleTimeout, idleTimeout)
	}

	return Config{
		ListenAddr:          listenAddr,
		LogFormat:           logFormat,
		LogLevel:            logLevel,
		ShutdownTimeout:     shutdownTimeout,
		AllowedOrigins:      allowedOrigins,
		MaxRoomMembers:      maxRoomMembers,
		MemberSendQueue:     memberSendQueue,
		MaxEnvelopeBytes:    int64(maxEnvelopeBytes),
		MaxEnvelopesPerSec:  maxEnvelopesPerSec,
		RelayWSIdleTimeout:  idleTimeout,
		RelayWSPingInterval: pingInterval,
		RelayWSWriteTimeout: writeTimeout,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		if !strings.HasPrefix(entry, "http://") && !strings.HasPrefix(entry, "https://") {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, strings.ToLower(strings.TrimSuffix(entry, "/")))
	}

	return out, nil
}

// OriginAllowed reports whether a browser Origin header value passes the
// configured allowlist. An empty allowlist admits everything.
func (c Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	normalized := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == normalized {
			return true
		}
	}
	return false
}
