// Package config loads and holds the proxy's runtime configuration: a YAML
// file with environment-variable overrides, exposed through a
// process-lifetime singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var instance *Config

// Config aggregates every component's configuration for centralized
// management.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit" json:"rateLimit"`
	LoadBalance LoadBalanceConfig `yaml:"loadBalance" json:"loadBalance"`
	Health      HealthConfig      `yaml:"health" json:"health"`
	Tracing     TracingConfig     `yaml:"tracing" json:"tracing"`
	Debug       bool              `yaml:"debug" json:"debug"`
}

// ServerConfig defines HTTP server configuration parameters.
type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" json:"idleTimeout"`
	TLSCertFile  string        `yaml:"tlsCertFile" json:"tlsCertFile"`
	TLSKeyFile   string        `yaml:"tlsKeyFile" json:"tlsKeyFile"`
	// AllowOrigin is the Access-Control-Allow-Origin value applied to every
	// response. "*" in development; a configured origin in deployment.
	AllowOrigin string `yaml:"allowOrigin" json:"allowOrigin"`
}

// CacheConfig controls the core LRUCache's capacity and observability.
type CacheConfig struct {
	MaxBytes      int64         `yaml:"maxBytes" json:"maxBytes"`
	MaxEntryBytes int64         `yaml:"maxEntryBytes" json:"maxEntryBytes"`
	StatsInterval time.Duration `yaml:"statsInterval" json:"statsInterval"`
	// RequestTimeout bounds the whole origin fetch (connect, response headers
	// and body read) as one deadline; exceeding it fails the fetch with a
	// BadGateway. It is not an idle timeout: it is not reset while bytes keep
	// arriving.
	RequestTimeout time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

// RateLimitConfig controls per-client request throttling via token bucket.
type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	Capacity   int  `yaml:"capacity" json:"capacity"`
	RefillRate int  `yaml:"refillRate" json:"refillRate"`
}

// BackendConfig is one origin mirror used by the load balancer when a
// target host has more than one registered mirror.
type BackendConfig struct {
	URL    string `yaml:"url" json:"url"`
	Weight int    `yaml:"weight" json:"weight"`
}

// LoadBalanceConfig configures origin-mirror selection for Phase 3 fetches.
// Empty Backends (the default) means every target is fetched directly, with
// no load balancing involved — the common case spec.md describes.
type LoadBalanceConfig struct {
	Algorithm string          `yaml:"algorithm" json:"algorithm"`
	Backends  []BackendConfig `yaml:"backends" json:"backends"`
}

// HealthConfig controls health monitoring of configured origin mirrors.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Path     string        `yaml:"path" json:"path"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion"`
	Environment    string  `yaml:"environment" json:"environment"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio"`
}

// DefaultConfig returns the spec's documented defaults: PORT 8080,
// CACHE_SIZE 200 MiB, MAX_ELEMENT_SIZE 10 MiB, REQUEST_TIMEOUT 30s,
// CACHE_STATS_INTERVAL 60s.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			AllowOrigin:  "*",
		},
		Cache: CacheConfig{
			MaxBytes:       209_715_200,
			MaxEntryBytes:  10_485_760,
			StatsInterval:  60 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Capacity:   100,
			RefillRate: 10,
		},
		LoadBalance: LoadBalanceConfig{
			Algorithm: "round-robin",
			Backends:  []BackendConfig{},
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
			Path:     "/health",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "cacheproxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// GetInstance returns the singleton config instance, lazily defaulting it
// if LoadConfig has not run yet.
func GetInstance() *Config {
	if instance == nil {
		instance = DefaultConfig()
	}
	return instance
}

// LoadConfig reads path as YAML over the default configuration, applies
// environment-variable overrides, and installs the result as the singleton.
// A missing file is not an error: defaults (plus env overrides) apply.
func LoadConfig(path string) error {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	instance = cfg
	return nil
}

// applyEnvOverrides lets PORT, CACHE_SIZE, MAX_ELEMENT_SIZE,
// REQUEST_TIMEOUT, CACHE_STATS_INTERVAL and DEBUG (per spec.md §6) override
// whatever the YAML file or defaults set, without requiring a config file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupInt("PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := lookupInt64("CACHE_SIZE"); ok {
		cfg.Cache.MaxBytes = v
	}
	if v, ok := lookupInt64("MAX_ELEMENT_SIZE"); ok {
		cfg.Cache.MaxEntryBytes = v
	}
	if v, ok := lookupMillis("REQUEST_TIMEOUT"); ok {
		cfg.Cache.RequestTimeout = v
	}
	if v, ok := lookupMillis("CACHE_STATS_INTERVAL"); ok {
		cfg.Cache.StatsInterval = v
	}
	if _, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Debug = true
	}
}

func lookupInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupInt64(name string) (int64, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupMillis(name string) (time.Duration, bool) {
	v, ok := lookupInt64(name)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}
