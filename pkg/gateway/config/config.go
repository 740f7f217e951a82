// Package config loads the gateway's environment configuration and validates
// it exhaustively, naming the offending variable on failure.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicBaseURL is the scheme+host clients reach the gateway on; the
	// create response derives socket_url from it.
	PublicBaseURL string

	DatabaseURL         string
	DatabaseAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JobQueueKey   string

	ScopedTokenSecret string
	ScopedTokenTTL    time.Duration
	UserTokenSecret   string

	// WorkOSAPIKey enables directory lookups on the user credential path.
	// Empty falls back to trusting verified JWT claims.
	WorkOSAPIKey string

	UpstreamURL              string
	UpstreamAPIKey           string
	UpstreamModel            string
	UpstreamQueueSize        int
	UpstreamHandshakeTimeout time.Duration

	// WSMaxSessionDuration is the optional server-side cap; zero disables
	// it and sessions run until a terminal event.
	WSMaxSessionDuration time.Duration
	WSMaxMessageBytes    int64
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration

	MaxDurationHintSeconds int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins map[string]struct{}

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                     envOr("HTTP_ADDR", ":8080"),
		PublicBaseURL:            envOr("PUBLIC_BASE_URL", "ws://localhost:8080"),
		DatabaseURL:              strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAutoMigrate:      envBoolOr("DATABASE_AUTO_MIGRATE", false),
		RedisAddr:                envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntOr("REDIS_DB", 0),
		JobQueueKey:              envOr("JOB_QUEUE_KEY", "voicebridge:jobs"),
		ScopedTokenSecret:        strings.TrimSpace(os.Getenv("SCOPED_TOKEN_SECRET")),
		ScopedTokenTTL:           envDurationOr("SCOPED_TOKEN_TTL", 15*time.Minute),
		UserTokenSecret:          strings.TrimSpace(os.Getenv("USER_TOKEN_SECRET")),
		WorkOSAPIKey:             strings.TrimSpace(os.Getenv("WORKOS_API_KEY")),
		UpstreamURL:              strings.TrimSpace(os.Getenv("UPSTREAM_URL")),
		UpstreamAPIKey:           strings.TrimSpace(os.Getenv("UPSTREAM_API_KEY")),
		UpstreamModel:            envOr("UPSTREAM_MODEL", "models/gemini-2.0-flash-live-001"),
		UpstreamQueueSize:        envIntOr("UPSTREAM_QUEUE_SIZE", 256),
		UpstreamHandshakeTimeout: envDurationOr("UPSTREAM_HANDSHAKE_TIMEOUT", 15*time.Second),
		WSMaxSessionDuration:     envDurationOr("WS_MAX_SESSION_DURATION", 0),
		WSMaxMessageBytes:        envInt64Or("WS_MAX_MESSAGE_BYTES", 1<<20),
		WSPingInterval:           envDurationOr("WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:           envDurationOr("WS_WRITE_TIMEOUT", 5*time.Second),
		MaxDurationHintSeconds:   envIntOr("MAX_DURATION_HINT_SECONDS", 1800),
		RateLimitRPS:             envFloat64Or("RATE_LIMIT_RPS", 10),
		RateLimitBurst:           envIntOr("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins:       make(map[string]struct{}),
		ReadHeaderTimeout:        envDurationOr("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:              envDurationOr("READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:      envDurationOr("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ScopedTokenSecret == "" {
		return Config{}, fmt.Errorf("SCOPED_TOKEN_SECRET is required")
	}
	if cfg.UserTokenSecret == "" {
		return Config{}, fmt.Errorf("USER_TOKEN_SECRET is required")
	}
	if cfg.UpstreamURL == "" {
		return Config{}, fmt.Errorf("UPSTREAM_URL is required")
	}
	if cfg.UpstreamAPIKey == "" {
		return Config{}, fmt.Errorf("UPSTREAM_API_KEY is required")
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || u.Host == "" {
		return Config{}, fmt.Errorf("PUBLIC_BASE_URL must be a valid URL")
	}
	if cfg.ScopedTokenTTL <= 0 {
		return Config{}, fmt.Errorf("SCOPED_TOKEN_TTL must be > 0")
	}
	if cfg.UpstreamQueueSize <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_QUEUE_SIZE must be > 0")
	}
	if cfg.UpstreamHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("WS_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.MaxDurationHintSeconds <= 0 {
		return Config{}, fmt.Errorf("MAX_DURATION_HINT_SECONDS must be > 0")
	}
	if cfg.RateLimitRPS < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
