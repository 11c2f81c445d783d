package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/galadrimteam/quakewatch/internal/usgs"
)

type Config struct {
	Port              string
	USGSBaseURL       string
	USGSFeed          string
	FetchTimeout      time.Duration
	BroadcastInterval time.Duration
	SnapshotLimit     int
	JWTSecret         string
	TokenTTL          time.Duration
	UsersFile         string
	WSRequireAuth     bool
	ShutdownTimeout   time.Duration
	LogLevel          string
	LogJSON           bool
}

// Load reads the server configuration from the environment, after an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              env("PORT", "4000"),
		USGSBaseURL:       env("QUAKE_USGS_BASE_URL", usgs.DefaultBaseURL),
		USGSFeed:          env("QUAKE_USGS_FEED", string(usgs.FeedSignificantMonth)),
		FetchTimeout:      envDuration("QUAKE_FETCH_TIMEOUT", 10*time.Second),
		BroadcastInterval: envDuration("QUAKE_BROADCAST_INTERVAL", 30*time.Second),
		SnapshotLimit:     envInt("QUAKE_SNAPSHOT_LIMIT", 10),
		JWTSecret:         env("JWT_SECRET", ""),
		TokenTTL:          envDuration("QUAKE_TOKEN_TTL", 24*time.Hour),
		UsersFile:         env("QUAKE_USERS_FILE", ""),
		WSRequireAuth:     envBool("QUAKE_WS_REQUIRE_AUTH", false),
		ShutdownTimeout:   envDuration("QUAKE_SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:          strings.ToLower(env("QUAKE_LOG_LEVEL", "info")),
		LogJSON:           envBool("QUAKE_LOG_JSON", false),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("PORT must be a valid port, got %q", c.Port)
	}
	if u, err := url.Parse(c.USGSBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("QUAKE_USGS_BASE_URL must be an absolute URL, got %q", c.USGSBaseURL)
	}
	if !usgs.ValidFeed(usgs.FeedID(c.USGSFeed)) {
		return fmt.Errorf("QUAKE_USGS_FEED %q is not a known feed", c.USGSFeed)
	}
	if c.FetchTimeout <= 0 {
		return errors.New("QUAKE_FETCH_TIMEOUT must be > 0")
	}
	if c.BroadcastInterval <= 0 {
		return errors.New("QUAKE_BROADCAST_INTERVAL must be > 0")
	}
	if c.SnapshotLimit <= 0 {
		return errors.New("QUAKE_SNAPSHOT_LIMIT must be > 0")
	}
	if c.TokenTTL <= 0 {
		return errors.New("QUAKE_TOKEN_TTL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("QUAKE_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("QUAKE_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }

type ClientConfig struct {
	URL         string
	Token       string
	MaxAttempts int
	Heartbeat   time.Duration
	LogLevel    string
	LogJSON     bool
}

func LoadClient() (ClientConfig, error) {
	_ = godotenv.Load()

	cfg := ClientConfig{
		URL:         env("QUAKEWATCH_URL", "ws://localhost:4000/earthquakes-ws"),
		Token:       env("QUAKEWATCH_TOKEN", ""),
		MaxAttempts: envInt("QUAKEWATCH_MAX_ATTEMPTS", 5),
		Heartbeat:   envDuration("QUAKEWATCH_HEARTBEAT", 30*time.Second),
		LogLevel:    strings.ToLower(env("QUAKE_LOG_LEVEL", "info")),
		LogJSON:     envBool("QUAKE_LOG_JSON", false),
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("QUAKEWATCH_URL must be a ws:// or wss:// URL, got %q", c.URL)
	}
	if c.MaxAttempts <= 0 {
		return errors.New("QUAKEWATCH_MAX_ATTEMPTS must be > 0")
	}
	if c.Heartbeat <= 0 {
		return errors.New("QUAKEWATCH_HEARTBEAT must be > 0")
	}
	return nil
}

// BuildLogger returns a text logger on stdout, or JSON when asJSON is set.
func BuildLogger(level string, asJSON bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
