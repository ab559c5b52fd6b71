package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	cfg     *Config
	cfgOnce sync.Once
	cfgErr  error
)

// Limits applied to the ingestion configuration surface.
const (
	// FlushSizeMax caps a batch at 100 events. The collector accepts 256KB per
	// request and a single event is assumed to be at most ~2KB.
	FlushSizeMax     = 100
	FlushIntervalMin = 100 * time.Millisecond
	RetryCountMax    = 5
	DirtyTTLMin      = time.Minute
)

// Get returns the global config, loading it on first call.
// Panics if config loading fails.
func Get() *Config {
	// If config was set via SetForTesting, return it directly
	if cfg != nil {
		return cfg
	}
	cfgOnce.Do(func() {
		cfg, cfgErr = Load()
	})
	if cfgErr != nil {
		panic(fmt.Sprintf("failed to load config: %v", cfgErr))
	}
	return cfg
}

// MustLoad loads config and panics on error. Call once at startup.
func MustLoad() {
	_ = Get()
}

// SetForTesting sets a custom config for testing purposes.
// This bypasses the sync.Once and allows tests to configure the global config.
// Only use in tests.
func SetForTesting(c *Config) {
	cfg = c
	cfgErr = nil
}

// Config holds all configuration for the telemetry buffer.
type Config struct {
	SQLite    SQLiteConfig
	Ingestion IngestionConfig
	Client    ClientConfig
	Server    ServerConfig
	Log       LogConfig
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string
}

// IngestionConfig controls batching, retry and delivery to the collector.
type IngestionConfig struct {
	URL             string
	Disabled        bool
	FlushSize       int
	FlushInterval   time.Duration
	RetryCountLimit int
	RetryBaseDelay  time.Duration
	SendTimeout     time.Duration
	DirtyTTL        time.Duration // how long a failed event stays eligible for resend
}

// ClientConfig describes the event source. JoinToken authenticates against
// the collector; MeetingID and AttendeeID are stamped onto every reported event.
type ClientConfig struct {
	Type       string
	JoinToken  string
	MeetingID  string
	AttendeeID string
	SDKName    string
	SDKVersion string
}

// ServerConfig holds the intake server configuration.
type ServerConfig struct {
	GRPCPort    string
	MetricsPort string

	// Export is rejected while the live queue holds at least this many events.
	BackpressureMaxEvents     int64
	BackpressureCheckInterval time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns a Config with all default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		SQLite: SQLiteConfig{
			Path: filepath.Join(homeDir, ".meeting-telemetry", "events.db"),
		},
		Ingestion: IngestionConfig{
			FlushSize:       20,
			FlushInterval:   5 * time.Second,
			RetryCountLimit: 2,
			RetryBaseDelay:  500 * time.Millisecond,
			SendTimeout:     10 * time.Second,
			DirtyTTL:        48 * time.Hour,
		},
		Client: ClientConfig{
			Type:       "Meet",
			SDKName:    "meeting-telemetry-go",
			SDKVersion: "0.1.0",
		},
		Server: ServerConfig{
			GRPCPort:                  "4317",
			MetricsPort:               "9464",
			BackpressureMaxEvents:     100_000,
			BackpressureCheckInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Normalize clamps the ingestion settings into their supported ranges.
func (c *IngestionConfig) Normalize() {
	c.FlushSize = clampInt(c.FlushSize, 1, FlushSizeMax)
	if c.FlushInterval < FlushIntervalMin {
		c.FlushInterval = FlushIntervalMin
	}
	c.RetryCountLimit = clampInt(c.RetryCountLimit, 0, RetryCountMax)
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.DirtyTTL < DirtyTTLMin {
		c.DirtyTTL = DirtyTTLMin
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Load reads configuration from environment variables.
// Returns an error for invalid values.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("EVENTS_SQLITE_PATH"); path != "" {
		cfg.SQLite.Path = path
	}

	// Ingestion configuration
	if url := os.Getenv("INGESTION_URL"); url != "" {
		cfg.Ingestion.URL = url
	}

	if disabled := os.Getenv("INGESTION_DISABLED"); disabled != "" {
		b, err := strconv.ParseBool(disabled)
		if err != nil {
			return nil, fmt.Errorf("invalid INGESTION_DISABLED %q: %w", disabled, err)
		}
		cfg.Ingestion.Disabled = b
	}

	if size := os.Getenv("FLUSH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_SIZE %q: %w", size, err)
		}
		cfg.Ingestion.FlushSize = n
	}

	if interval := os.Getenv("FLUSH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_INTERVAL %q: %w", interval, err)
		}
		cfg.Ingestion.FlushInterval = d
	}

	if limit := os.Getenv("RETRY_COUNT_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_COUNT_LIMIT %q: %w", limit, err)
		}
		cfg.Ingestion.RetryCountLimit = n
	}

	if delay := os.Getenv("RETRY_BASE_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BASE_DELAY %q: %w", delay, err)
		}
		cfg.Ingestion.RetryBaseDelay = d
	}

	if timeout := os.Getenv("SEND_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT %q: %w", timeout, err)
		}
		cfg.Ingestion.SendTimeout = d
	}

	if ttl := os.Getenv("DIRTY_EVENT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid DIRTY_EVENT_TTL %q: %w", ttl, err)
		}
		cfg.Ingestion.DirtyTTL = d
	}

	cfg.Ingestion.Normalize()

	if cfg.Ingestion.URL == "" && !cfg.Ingestion.Disabled {
		return nil, fmt.Errorf("INGESTION_URL is required unless INGESTION_DISABLED=true")
	}

	// Client configuration
	if clientType := os.Getenv("EVENT_CLIENT_TYPE"); clientType != "" {
		cfg.Client.Type = clientType
	}

	if token := os.Getenv("EVENT_CLIENT_JOIN_TOKEN"); token != "" {
		cfg.Client.JoinToken = token
	}

	if meetingID := os.Getenv("MEETING_ID"); meetingID != "" {
		cfg.Client.MeetingID = meetingID
	}

	if attendeeID := os.Getenv("ATTENDEE_ID"); attendeeID != "" {
		cfg.Client.AttendeeID = attendeeID
	}

	// Server configuration
	if port := os.Getenv("GRPC_PORT"); port != "" {
		cfg.Server.GRPCPort = port
	}

	if port := os.Getenv("METRICS_PORT"); port != "" {
		cfg.Server.MetricsPort = port
	}

	if maxEvents := os.Getenv("BACKPRESSURE_MAX_EVENTS"); maxEvents != "" {
		n, err := strconv.ParseInt(maxEvents, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKPRESSURE_MAX_EVENTS %q: %w", maxEvents, err)
		}
		cfg.Server.BackpressureMaxEvents = n
	}

	if interval := os.Getenv("BACKPRESSURE_CHECK_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKPRESSURE_CHECK_INTERVAL %q: %w", interval, err)
		}
		cfg.Server.BackpressureCheckInterval = d
	}

	// Log configuration
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	return cfg, nil
}
