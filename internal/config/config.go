// Package config provides configuration management for the CFA console.
//
// The configuration is loaded from a JSON file (default: /etc/cfa/console.json) and
// contains settings for every console component:
//   - Agent: base URL of the local CFA agent (status, anomalies, prediction, enrollment)
//   - AI: base URL of the AI analysis microservice
//   - Discovery: optional mDNS lookup of both services
//   - Sync: polling cadences, history window, per-call timeout
//   - Mock: value ranges of the synthetic fallback data
//   - Enrollment: entropy sampling and the post-success display delay
//   - Storage: credential store backend (badger or redis)
//   - Dashboard: host, port and rate limiting of the local state API
//   - Logging: log level and file path
//
// LoadConfig reads and validates the file. LoadConfigOrDefault falls back to
// DefaultConfig when the file does not exist. A few CFA_* environment variables
// override the file so the console can be pointed at other services without editing it.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config represents the complete application configuration
type Config struct {
	Agent      ServiceConfig    `json:"agent"`
	AI         ServiceConfig    `json:"ai"`
	Discovery  DiscoveryConfig  `json:"discovery"`
	Sync       SyncConfig       `json:"sync"`
	Mock       MockConfig       `json:"mock"`
	Enrollment EnrollmentConfig `json:"enrollment"`
	Storage    StorageConfig    `json:"storage"`
	Dashboard  DashboardConfig  `json:"dashboard"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServiceConfig locates one remote service
type ServiceConfig struct {
	BaseURL string `json:"base_url"`
}

// DiscoveryConfig controls mDNS lookup of the local services
type DiscoveryConfig struct {
	MDNSEnabled    bool   `json:"mdns_enabled"`
	AgentService   string `json:"agent_service"`
	AIService      string `json:"ai_service"`
	Domain         string `json:"domain"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SyncConfig contains synchronizer settings
type SyncConfig struct {
	PrimaryIntervalMs   int `json:"primary_interval_ms"`
	SecondaryIntervalMs int `json:"secondary_interval_ms"`
	HistorySize         int `json:"history_size"`
	RequestTimeoutMs    int `json:"request_timeout_ms"`
}

// Range is an inclusive-exclusive numeric interval [Min, Max)
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MockConfig contains the ranges used when synthesizing fallback data
type MockConfig struct {
	GCS          Range `json:"gcs"`
	WifiCSI      Range `json:"wifi_csi"`
	BtCSI        Range `json:"bt_csi"`
	NetCSI       Range `json:"net_csi"`
	SysCSI       Range `json:"sys_csi"`
	Bayesian     Range `json:"bayesian"`
	AnomalyZ     Range `json:"anomaly_z"`
	AnomalyValue Range `json:"anomaly_value"`
	AnomalyCount int   `json:"anomaly_count"`
}

// EnrollmentConfig contains enrollment protocol settings
type EnrollmentConfig struct {
	EntropySamples int    `json:"entropy_samples"`
	MaxJitterMs    int    `json:"max_jitter_ms"`
	SuccessDelayMs int    `json:"success_delay_ms"`
	Resolution     string `json:"resolution"`
	AutoStart      bool   `json:"auto_start"`
}

// StorageConfig selects and configures the credential store
type StorageConfig struct {
	Backend   string `json:"backend"`
	Path      string `json:"path"`
	RedisAddr string `json:"redis_addr"`
	RedisDB   int    `json:"redis_db"`
}

// DashboardConfig contains local state API settings
type DashboardConfig struct {
	Enabled            bool   `json:"enabled"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: ServiceConfig{BaseURL: "http://127.0.0.1:8765/api"},
		AI:    ServiceConfig{BaseURL: "http://127.0.0.1:8766"},
		Discovery: DiscoveryConfig{
			MDNSEnabled:    false,
			AgentService:   "_cfa-agent._tcp",
			AIService:      "_cfa-ai._tcp",
			Domain:         "local",
			TimeoutSeconds: 3,
		},
		Sync: SyncConfig{
			PrimaryIntervalMs:   2000,
			SecondaryIntervalMs: 10000,
			HistorySize:         60,
			RequestTimeoutMs:    10000,
		},
		Mock: DefaultMockConfig(),
		Enrollment: EnrollmentConfig{
			EntropySamples: 5,
			MaxJitterMs:    20,
			SuccessDelayMs: 1500,
			Resolution:     "",
			AutoStart:      false,
		},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "/var/lib/cfa/console",
		},
		Dashboard: DashboardConfig{
			Enabled:            true,
			Host:               "127.0.0.1",
			Port:               8770,
			RateLimitPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// DefaultMockConfig returns the fallback ranges the dashboard has always used
func DefaultMockConfig() MockConfig {
	return MockConfig{
		GCS:          Range{Min: 60, Max: 90},
		WifiCSI:      Range{Min: 50, Max: 95},
		BtCSI:        Range{Min: 40, Max: 90},
		NetCSI:       Range{Min: 55, Max: 95},
		SysCSI:       Range{Min: 70, Max: 95},
		Bayesian:     Range{Min: 0.70, Max: 0.95},
		AnomalyZ:     Range{Min: 2, Max: 4},
		AnomalyValue: Range{Min: 30, Max: 70},
		AnomalyCount: 3,
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigOrDefault behaves like LoadConfig but returns the defaults (with environment
// overrides applied) when the file does not exist
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfig()
		config.applyEnv()
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}
	return LoadConfig(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CFA_AGENT_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv("CFA_AI_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("CFA_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CFA_RESOLUTION"); v != "" {
		c.Enrollment.Resolution = v
	}
	if v := os.Getenv("CFA_DASHBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Dashboard.Port = port
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateURL("agent", c.Agent.BaseURL); err != nil {
		return err
	}
	if err := validateURL("ai", c.AI.BaseURL); err != nil {
		return err
	}

	if c.Discovery.MDNSEnabled {
		if c.Discovery.AgentService == "" || c.Discovery.AIService == "" {
			return fmt.Errorf("mDNS service names cannot be empty when discovery is enabled")
		}
		if c.Discovery.TimeoutSeconds < 1 {
			return fmt.Errorf("discovery timeout must be at least 1 second")
		}
	}

	if c.Sync.PrimaryIntervalMs < 100 {
		return fmt.Errorf("primary interval must be at least 100ms")
	}
	if c.Sync.SecondaryIntervalMs < 100 {
		return fmt.Errorf("secondary interval must be at least 100ms")
	}
	if c.Sync.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1")
	}
	if c.Sync.RequestTimeoutMs < 1 {
		return fmt.Errorf("request timeout must be at least 1ms")
	}

	if err := c.Mock.Validate(); err != nil {
		return fmt.Errorf("mock: %w", err)
	}

	if c.Enrollment.EntropySamples < 5 {
		return fmt.Errorf("entropy samples must be at least 5")
	}
	if c.Enrollment.MaxJitterMs < 1 {
		return fmt.Errorf("max jitter must be at least 1ms")
	}
	if c.Enrollment.SuccessDelayMs < 0 {
		return fmt.Errorf("success delay cannot be negative")
	}

	switch c.Storage.Backend {
	case "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path cannot be empty for the badger backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage backend must be 'badger', 'redis' or 'memory'")
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard port must be between 1 and 65535")
		}
		if c.Dashboard.Host == "" {
			return fmt.Errorf("dashboard host cannot be empty")
		}
		if c.Dashboard.RateLimitPerMinute < 1 {
			return fmt.Errorf("rate limit must be at least 1 request per minute")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// Validate checks that every range is non-empty
func (m MockConfig) Validate() error {
	ranges := map[string]Range{
		"gcs":           m.GCS,
		"wifi_csi":      m.WifiCSI,
		"bt_csi":        m.BtCSI,
		"net_csi":       m.NetCSI,
		"sys_csi":       m.SysCSI,
		"bayesian":      m.Bayesian,
		"anomaly_z":     m.AnomalyZ,
		"anomaly_value": m.AnomalyValue,
	}
	for name, r := range ranges {
		if r.Max < r.Min {
			return fmt.Errorf("range %s has max %.2f below min %.2f", name, r.Max, r.Min)
		}
	}
	if m.AnomalyCount < 0 {
		return fmt.Errorf("anomaly count cannot be negative")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s base URL cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s base URL is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s base URL must use http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s base URL must include a host", name)
	}
	return nil
}
