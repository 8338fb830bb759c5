package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "lumo.db", cfg.Database.DSN)
	assert.Equal(t, "0 */6 * * *", cfg.Library.ScanSchedule)
	assert.True(t, cfg.Library.ScanOnStart)
	assert.Equal(t, "en", cfg.Metadata.Language)
	assert.Equal(t, 10*time.Second, cfg.Streaming.TargetGOP)
	assert.Equal(t, 10, cfg.Streaming.HardSeekDistance)
	assert.Equal(t, ByteSize(64*1024), cfg.Streaming.StderrRingSize)
	assert.Equal(t, "direct", cfg.Streaming.DefaultVideoQuality)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: postgres
  dsn: "host=localhost dbname=lumo"
streaming:
  state_dir: /tmp/streams
  target_gop: 4s
  stderr_ring_size: 128KB
metadata:
  tmdb_api_key: secret
  language: de
`), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "/tmp/streams", cfg.Streaming.StateDir)
	assert.Equal(t, 4*time.Second, cfg.Streaming.TargetGOP)
	assert.Equal(t, ByteSize(128*1024), cfg.Streaming.StderrRingSize)
	assert.Equal(t, "secret", cfg.Metadata.TMDBAPIKey)
	assert.Equal(t, "de", cfg.Metadata.Language)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "empty state dir",
			mutate:  func(c *Config) { c.Streaming.StateDir = "" },
			wantErr: "state_dir",
		},
		{
			name:    "zero hard seek distance",
			mutate:  func(c *Config) { c.Streaming.HardSeekDistance = 0 },
			wantErr: "hard_seek_distance",
		},
		{
			name:    "sub-second gop",
			mutate:  func(c *Config) { c.Streaming.TargetGOP = 100 * time.Millisecond },
			wantErr: "target_gop",
		},
		{
			name: "delete before pause",
			mutate: func(c *Config) {
				c.Streaming.IdlePauseAfter = 10 * time.Minute
				c.Streaming.IdleDeleteAfter = time.Minute
			},
			wantErr: "idle_delete_after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncoderSlots(t *testing.T) {
	c := StreamingConfig{MaxConcurrentEncoders: 3}
	assert.Equal(t, 3, c.EncoderSlots())

	c.MaxConcurrentEncoders = 0
	assert.Positive(t, c.EncoderSlots())
}
