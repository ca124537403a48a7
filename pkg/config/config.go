// Package config handles Bifrost configuration via environment variables.
//
// All settings are prefixed with BIFROST_ and loaded with LoadFromEnv();
// validate with Validate() before use.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("HTTP server: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
//
// Environment Variables:
//
//   - BIFROST_HTTP_ADDRESS=0.0.0.0
//   - BIFROST_HTTP_PORT=8480
//   - BIFROST_CATALOG_DIR="./catalog"
//   - BIFROST_MAX_TRAVERSAL_DEPTH=10
//   - BIFROST_CACHE_ENABLED=true
//   - BIFROST_CACHE_SIZE=1000
//   - BIFROST_CACHE_TTL=5m
//   - BIFROST_LOG_LEVEL="info"
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all Bifrost configuration loaded from environment
// variables.
//
// Configuration is organized into logical sections:
//   - Server: HTTP compile service settings
//   - Catalog: view catalog location and reload behavior
//   - Compiler: traversal and dialect settings
//   - Cache: compile-result memoizer settings
//   - Logging: logging configuration
//
// Use LoadFromEnv() to create a Config from environment variables.
type Config struct {
	// Server settings for the HTTP compile service
	Server ServerConfig

	// Catalog settings
	Catalog CatalogConfig

	// Compiler settings
	Compiler CompilerConfig

	// Cache settings for the compile-result memoizer
	Cache CacheConfig

	// Logging
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Address to bind to
	Address string
	// Port for HTTP connections (default 8480)
	Port int
	// ReadTimeout for incoming requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// ShutdownTimeout for graceful shutdown
	ShutdownTimeout time.Duration
}

// CatalogConfig holds view catalog settings.
type CatalogConfig struct {
	// Dir is the directory holding view definition YAML files
	Dir string
	// WatchReload enables the POST /views/reload endpoint
	WatchReload bool
}

// CompilerConfig holds compilation settings.
type CompilerConfig struct {
	// MaxTraversalDepth caps unbounded variable-length traversals
	MaxTraversalDepth int
}

// CacheConfig holds memoizer settings.
type CacheConfig struct {
	// Enabled controls whether compilations are memoized
	Enabled bool
	// Size is the maximum number of cached compilations
	Size int
	// TTL for cached entries (0 = no expiration)
	TTL time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: "debug", "info", "warn", "error"
	Level string
	// Format: "text" or "json"
	Format string
}

// LoadFromEnv creates a Config from BIFROST_* environment variables,
// falling back to defaults for anything unset.
func LoadFromEnv() *Config {
	config := &Config{}

	// Server settings
	config.Server.Address = getEnv("BIFROST_HTTP_ADDRESS", "0.0.0.0")
	config.Server.Port = getEnvInt("BIFROST_HTTP_PORT", 8480)
	config.Server.ReadTimeout = getEnvDuration("BIFROST_HTTP_READ_TIMEOUT", 15*time.Second)
	config.Server.WriteTimeout = getEnvDuration("BIFROST_HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.Server.ShutdownTimeout = getEnvDuration("BIFROST_SHUTDOWN_TIMEOUT", 10*time.Second)

	// Catalog settings
	config.Catalog.Dir = getEnv("BIFROST_CATALOG_DIR", "./catalog")
	config.Catalog.WatchReload = getEnvBool("BIFROST_CATALOG_RELOAD_ENABLED", true)

	// Compiler settings
	config.Compiler.MaxTraversalDepth = getEnvInt("BIFROST_MAX_TRAVERSAL_DEPTH", 10)

	// Cache settings
	config.Cache.Enabled = getEnvBool("BIFROST_CACHE_ENABLED", true)
	config.Cache.Size = getEnvInt("BIFROST_CACHE_SIZE", 1000)
	config.Cache.TTL = getEnvDuration("BIFROST_CACHE_TTL", 5*time.Minute)

	// Logging
	config.Logging.Level = getEnv("BIFROST_LOG_LEVEL", "info")
	config.Logging.Format = getEnv("BIFROST_LOG_FORMAT", "text")

	return config
}

// Validate checks the configuration for logical errors and invalid
// values. Call Validate() after LoadFromEnv() and before using the
// Config.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}
	if c.Catalog.Dir == "" {
		return fmt.Errorf("catalog directory must be set")
	}
	if c.Compiler.MaxTraversalDepth <= 0 {
		return fmt.Errorf("invalid max traversal depth: %d", c.Compiler.MaxTraversalDepth)
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Cache.Size)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a safe string representation of the Config, suitable
// for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTP: %s:%d, Catalog: %s, MaxDepth: %d, Cache: %v/%d}",
		c.Server.Address, c.Server.Port,
		c.Catalog.Dir,
		c.Compiler.MaxTraversalDepth,
		c.Cache.Enabled, c.Cache.Size,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
