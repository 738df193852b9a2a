/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Storage backend selection for the track library.
type StorageBackend string

const (
	StorageFilesystem StorageBackend = "filesystem"
	StorageS3         StorageBackend = "s3"
)

// Event relay selection.
const (
	RelayNone  = "none"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string

	// Raw WebSocket listener
	StreamBind          string
	StreamPort          int
	ReadBufferSize      int           // bytes per socket read
	MaxHandshakeBytes   int           // cap on an HTTP request head
	MaxMessageBytes     int           // cap on a reassembled WebSocket message
	WriteTimeout        time.Duration // per outbound frame
	RegistrySweepPeriod time.Duration

	// Admin HTTP API
	HTTPBind string
	HTTPPort int

	// Playback
	TickIdle       time.Duration // longest driver sleep while nothing is playing
	DefaultTrack   string        // used by get_song without a track
	StartupTracks  []string
	Autoplay       bool
	ChunkFrames    int // PCM frames per decoded chunk
	LogBufferLines int

	// Library storage
	MediaRoot      string
	StorageBackend StorageBackend

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Redis (metadata cache and event relay)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool

	// Event relay
	EventRelay string // none, redis, nats
	NATSURL    string

	// Play history
	DBBackend DatabaseBackend
	DBDSN     string // empty disables history

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	ConfigFile        string
	LegacyEnvWarnings []string
}

// fileConfig mirrors the subset of Config that may be set from a YAML file.
type fileConfig struct {
	Environment    string   `yaml:"environment"`
	StreamBind     string   `yaml:"stream_bind"`
	StreamPort     int      `yaml:"stream_port"`
	HTTPBind       string   `yaml:"http_bind"`
	HTTPPort       int      `yaml:"http_port"`
	MediaRoot      string   `yaml:"media_root"`
	StorageBackend string   `yaml:"storage_backend"`
	DefaultTrack   string   `yaml:"default_track"`
	StartupTracks  []string `yaml:"startup_tracks"`
	Autoplay       *bool    `yaml:"autoplay"`
	S3Bucket       string   `yaml:"s3_bucket"`
	S3Region       string   `yaml:"s3_region"`
	S3Prefix       string   `yaml:"s3_prefix"`
	S3Endpoint     string   `yaml:"s3_endpoint"`
	RedisAddr      string   `yaml:"redis_addr"`
	EventRelay     string   `yaml:"event_relay"`
	NATSURL        string   `yaml:"nats_url"`
	DBBackend      string   `yaml:"db_backend"`
	DBDSN          string   `yaml:"db_dsn"`
	MaxMessageKB   int      `yaml:"max_message_kb"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
}

// Load reads an optional .env file, an optional YAML file, then environment
// variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	file := fileConfig{}
	configFile := getEnvAny([]string{"QUEUECAST_CONFIG_FILE"}, "")
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	autoplay := false
	if file.Autoplay != nil {
		autoplay = *file.Autoplay
	}
	maxMessage := 1024 * 1024
	if file.MaxMessageKB > 0 {
		maxMessage = file.MaxMessageKB * 1024
	}
	writeTimeoutMS := 5000
	if file.WriteTimeoutMS > 0 {
		writeTimeoutMS = file.WriteTimeoutMS
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"QUEUECAST_ENV", "RADIO_ENV"}, orDefault(file.Environment, "development")),

		StreamBind:          getEnvAny([]string{"QUEUECAST_STREAM_BIND"}, orDefault(file.StreamBind, "0.0.0.0")),
		StreamPort:          getEnvIntAny([]string{"QUEUECAST_STREAM_PORT", "RADIO_PORT"}, orDefaultInt(file.StreamPort, 8080)),
		ReadBufferSize:      getEnvIntAny([]string{"QUEUECAST_READ_BUFFER_BYTES"}, 4096),
		MaxHandshakeBytes:   getEnvIntAny([]string{"QUEUECAST_MAX_HANDSHAKE_BYTES"}, 8192),
		MaxMessageBytes:     getEnvIntAny([]string{"QUEUECAST_MAX_MESSAGE_BYTES"}, maxMessage),
		WriteTimeout:        time.Duration(getEnvIntAny([]string{"QUEUECAST_WRITE_TIMEOUT_MS"}, writeTimeoutMS)) * time.Millisecond,
		RegistrySweepPeriod: time.Duration(getEnvIntAny([]string{"QUEUECAST_SWEEP_SECONDS"}, 30)) * time.Second,

		HTTPBind: getEnvAny([]string{"QUEUECAST_HTTP_BIND"}, orDefault(file.HTTPBind, "127.0.0.1")),
		HTTPPort: getEnvIntAny([]string{"QUEUECAST_HTTP_PORT"}, orDefaultInt(file.HTTPPort, 8081)),

		TickIdle:       time.Duration(getEnvIntAny([]string{"QUEUECAST_TICK_IDLE_MS"}, 250)) * time.Millisecond,
		DefaultTrack:   getEnvAny([]string{"QUEUECAST_DEFAULT_TRACK"}, orDefault(file.DefaultTrack, "Captain.mp3")),
		StartupTracks:  getEnvListAny([]string{"QUEUECAST_STARTUP_TRACKS"}, file.StartupTracks),
		Autoplay:       getEnvBoolAny([]string{"QUEUECAST_AUTOPLAY"}, autoplay),
		ChunkFrames:    getEnvIntAny([]string{"QUEUECAST_CHUNK_FRAMES"}, 1152),
		LogBufferLines: getEnvIntAny([]string{"QUEUECAST_LOG_BUFFER_LINES"}, 5000),

		MediaRoot:      getEnvAny([]string{"QUEUECAST_MEDIA_ROOT"}, orDefault(file.MediaRoot, "./media")),
		StorageBackend: StorageBackend(getEnvAny([]string{"QUEUECAST_STORAGE_BACKEND"}, orDefault(file.StorageBackend, string(StorageFilesystem)))),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"QUEUECAST_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"QUEUECAST_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"QUEUECAST_S3_REGION", "AWS_REGION"}, orDefault(file.S3Region, "us-east-1")),
		S3Bucket:          getEnvAny([]string{"QUEUECAST_S3_BUCKET", "S3_BUCKET"}, file.S3Bucket),
		S3Prefix:          getEnvAny([]string{"QUEUECAST_S3_PREFIX"}, file.S3Prefix),
		S3Endpoint:        getEnvAny([]string{"QUEUECAST_S3_ENDPOINT", "S3_ENDPOINT"}, file.S3Endpoint),
		S3UsePathStyle:    getEnvBoolAny([]string{"QUEUECAST_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		RedisAddr:     getEnvAny([]string{"QUEUECAST_REDIS_ADDR"}, orDefault(file.RedisAddr, "localhost:6379")),
		RedisPassword: getEnvAny([]string{"QUEUECAST_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"QUEUECAST_REDIS_DB"}, 0),
		CacheEnabled:  getEnvBoolAny([]string{"QUEUECAST_CACHE_ENABLED"}, false),

		EventRelay: strings.ToLower(getEnvAny([]string{"QUEUECAST_EVENT_RELAY"}, orDefault(file.EventRelay, RelayNone))),
		NATSURL:    getEnvAny([]string{"QUEUECAST_NATS_URL", "NATS_URL"}, orDefault(file.NATSURL, "nats://127.0.0.1:4222")),

		DBBackend: DatabaseBackend(getEnvAny([]string{"QUEUECAST_DB_BACKEND"}, orDefault(file.DBBackend, string(DatabaseSQLite)))),
		DBDSN:     getEnvAny([]string{"QUEUECAST_DB_DSN"}, file.DBDSN),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"QUEUECAST_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"QUEUECAST_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"QUEUECAST_TRACING_SAMPLE_RATE"}, 1.0),

		ConfigFile: configFile,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StreamPort <= 0 || c.StreamPort > 65535 {
		return fmt.Errorf("invalid stream port %d", c.StreamPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.StreamPort == c.HTTPPort && c.StreamBind == c.HTTPBind {
		return fmt.Errorf("stream and http listeners cannot share %s:%d", c.StreamBind, c.StreamPort)
	}
	if c.ReadBufferSize <= 0 || c.MaxHandshakeBytes <= 0 || c.MaxMessageBytes <= 0 {
		return fmt.Errorf("buffer limits must be positive")
	}
	if c.ChunkFrames <= 0 {
		return fmt.Errorf("QUEUECAST_CHUNK_FRAMES must be positive")
	}
	if c.WriteTimeout <= 0 || c.TickIdle <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	switch c.StorageBackend {
	case StorageFilesystem:
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("QUEUECAST_S3_BUCKET must be provided for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.StorageBackend)
	}

	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.EventRelay {
	case RelayNone, RelayRedis, RelayNATS:
	default:
		return fmt.Errorf("unsupported event relay %q", c.EventRelay)
	}
	return nil
}

// HistoryEnabled reports whether play history persistence is configured.
func (c *Config) HistoryEnabled() bool {
	return c != nil && c.DBDSN != ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"RADIO_ENV":  "use QUEUECAST_ENV",
		"RADIO_PORT": "use QUEUECAST_STREAM_PORT",
		"S3_BUCKET":  "use QUEUECAST_S3_BUCKET",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny splits the first set variable on commas, dropping blanks.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out
		}
	}
	return def
}
