package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()

	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 8480, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./catalog", cfg.Catalog.Dir)
	assert.True(t, cfg.Catalog.WatchReload)
	assert.Equal(t, 10, cfg.Compiler.MaxTraversalDepth)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("BIFROST_HTTP_ADDRESS", "127.0.0.1")
	t.Setenv("BIFROST_HTTP_PORT", "9000")
	t.Setenv("BIFROST_HTTP_READ_TIMEOUT", "5s")
	t.Setenv("BIFROST_CATALOG_DIR", "/etc/bifrost/views")
	t.Setenv("BIFROST_CATALOG_RELOAD_ENABLED", "false")
	t.Setenv("BIFROST_MAX_TRAVERSAL_DEPTH", "6")
	t.Setenv("BIFROST_CACHE_ENABLED", "no")
	t.Setenv("BIFROST_CACHE_SIZE", "50")
	t.Setenv("BIFROST_CACHE_TTL", "30")
	t.Setenv("BIFROST_LOG_LEVEL", "debug")
	t.Setenv("BIFROST_LOG_FORMAT", "json")

	cfg := LoadFromEnv()

	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/etc/bifrost/views", cfg.Catalog.Dir)
	assert.False(t, cfg.Catalog.WatchReload)
	assert.Equal(t, 6, cfg.Compiler.MaxTraversalDepth)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 50, cfg.Cache.Size)
	// Bare integers are read as seconds.
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BIFROST_HTTP_PORT", "not-a-number")
	t.Setenv("BIFROST_CACHE_TTL", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 8480, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid http port",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid http port",
		},
		{
			name:    "empty catalog dir",
			mutate:  func(c *Config) { c.Catalog.Dir = "" },
			wantErr: "catalog directory",
		},
		{
			name:    "bad traversal depth",
			mutate:  func(c *Config) { c.Compiler.MaxTraversalDepth = 0 },
			wantErr: "invalid max traversal depth",
		},
		{
			name:    "bad cache size",
			mutate:  func(c *Config) { c.Cache.Size = -1 },
			wantErr: "invalid cache size",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadFromEnv()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDisabledCacheIgnoresSize(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.Cache.Enabled = false
	cfg.Cache.Size = 0
	assert.NoError(t, cfg.Validate())
}
