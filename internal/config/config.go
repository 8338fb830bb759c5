// Package config provides configuration management for lumo using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8000
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 2
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultScanSchedule    = "0 */6 * * *" // every six hours
	defaultProviderTimeout = 15 * time.Second
	defaultMatchConcurrent = 4

	defaultTargetGOP        = 10 * time.Second
	defaultHardSeekDistance = 10
	defaultReapInterval     = 30 * time.Second
	defaultIdlePauseAfter   = 2 * time.Minute
	defaultIdleDeleteAfter  = 10 * time.Minute
	defaultStderrRingSize   = 64 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Library   LibraryConfig   `mapstructure:"library"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Streaming StreamingConfig `mapstructure:"streaming"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// LibraryConfig holds media library scanning configuration.
type LibraryConfig struct {
	// ScanSchedule is a cron expression controlling periodic rescans.
	ScanSchedule string `mapstructure:"scan_schedule"`
	// ScanOnStart triggers a full scan of all libraries at startup.
	ScanOnStart bool `mapstructure:"scan_on_start"`
}

// MetadataConfig holds external metadata provider configuration.
type MetadataConfig struct {
	// TMDBAPIKey authenticates against the TMDB API. Matching is skipped
	// when empty; files stay unmatched until a key is configured.
	TMDBAPIKey string `mapstructure:"tmdb_api_key"`
	// Language is the preferred metadata language (ISO 639-1).
	Language string `mapstructure:"language"`
	// ProviderTimeout bounds individual provider HTTP calls.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	// MaxConcurrent limits parallel provider lookups per scan batch.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// FFmpegConfig holds external encoder/probe binary configuration.
type FFmpegConfig struct {
	FFmpegBin  string `mapstructure:"ffmpeg_bin"`  // Path to ffmpeg binary (empty = $PATH lookup)
	FFprobeBin string `mapstructure:"ffprobe_bin"` // Path to ffprobe binary (empty = $PATH lookup)
	// EnableHWAccel gates hardware transcode profiles. When false every
	// hardware profile is filtered out of the chain before dispatch.
	EnableHWAccel bool `mapstructure:"enable_hwaccel"`
	// HWAccelDevice is the render device used by VAAPI profiles.
	HWAccelDevice string `mapstructure:"hwaccel_device"`
}

// StreamingConfig holds streaming session manager configuration.
type StreamingConfig struct {
	// StateDir is the root under which per-stream outdirs are created.
	StateDir string `mapstructure:"state_dir"`
	// MaxConcurrentEncoders caps simultaneously running encoder children.
	// Zero means one per CPU.
	MaxConcurrentEncoders int `mapstructure:"max_concurrent_encoders"`
	// TargetGOP is the segment duration handed to the encoder.
	TargetGOP time.Duration `mapstructure:"target_gop"`
	// HardSeekDistance is the forward window, in segments, beyond which a
	// chunk request restarts the encoder at the requested segment.
	HardSeekDistance int `mapstructure:"hard_seek_distance_chunks"`
	// ReapInterval is how often the idle reaper scans sessions.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	// IdlePauseAfter pauses sessions (kill child, keep outdir) after this idle time.
	IdlePauseAfter time.Duration `mapstructure:"idle_pause_after"`
	// IdleDeleteAfter stops sessions and removes their outdir after this idle time.
	IdleDeleteAfter time.Duration `mapstructure:"idle_delete_after"`
	// StderrRingSize bounds the per-session encoder stderr ring.
	// Supports human-readable values like "64KB".
	StderrRingSize ByteSize `mapstructure:"stderr_ring_size"`
	// DefaultVideoQuality selects the default track of a manifest group.
	// "direct" or a resolution height like "1080".
	DefaultVideoQuality string `mapstructure:"default_video_quality"`
}

// SetDefaults sets default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "lumo.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("library.scan_schedule", defaultScanSchedule)
	v.SetDefault("library.scan_on_start", true)

	v.SetDefault("metadata.language", "en")
	v.SetDefault("metadata.provider_timeout", defaultProviderTimeout)
	v.SetDefault("metadata.max_concurrent", defaultMatchConcurrent)

	v.SetDefault("ffmpeg.ffmpeg_bin", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_bin", "ffprobe")
	v.SetDefault("ffmpeg.enable_hwaccel", false)
	v.SetDefault("ffmpeg.hwaccel_device", "/dev/dri/renderD128")

	v.SetDefault("streaming.state_dir", "/var/lib/lumo/streams")
	v.SetDefault("streaming.max_concurrent_encoders", 0)
	v.SetDefault("streaming.target_gop", defaultTargetGOP)
	v.SetDefault("streaming.hard_seek_distance_chunks", defaultHardSeekDistance)
	v.SetDefault("streaming.reap_interval", defaultReapInterval)
	v.SetDefault("streaming.idle_pause_after", defaultIdlePauseAfter)
	v.SetDefault("streaming.idle_delete_after", defaultIdleDeleteAfter)
	v.SetDefault("streaming.stderr_ring_size", defaultStderrRingSize)
	v.SetDefault("streaming.default_video_quality", "direct")
}

// Load reads configuration from the given Viper instance into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	// The text unmarshaller hook lets ByteSize fields accept "64KB" style
	// values from config files and env vars.
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Streaming.StateDir == "" {
		return errors.New("streaming.state_dir is required")
	}
	if c.Streaming.HardSeekDistance < 1 {
		return fmt.Errorf("streaming.hard_seek_distance_chunks must be positive, got %d", c.Streaming.HardSeekDistance)
	}
	if c.Streaming.TargetGOP < time.Second {
		return fmt.Errorf("streaming.target_gop must be at least 1s, got %s", c.Streaming.TargetGOP)
	}
	if c.Streaming.IdleDeleteAfter < c.Streaming.IdlePauseAfter {
		return errors.New("streaming.idle_delete_after must not be shorter than streaming.idle_pause_after")
	}
	return nil
}

// EncoderSlots resolves the effective encoder child cap.
func (c *StreamingConfig) EncoderSlots() int {
	if c.MaxConcurrentEncoders > 0 {
		return c.MaxConcurrentEncoders
	}
	return runtime.NumCPU()
}
