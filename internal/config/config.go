// Package config loads and validates the scanwatch daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanwatch/scanwatch/internal/db"
)

// Config represents the complete daemon configuration.
type Config struct {
	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Session registry configuration
	Sessions SessionConfig `yaml:"sessions" json:"sessions"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Listen address
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// HTTP timeouts. WriteTimeout applies to regular endpoints only;
	// streaming connections are exempted via http.NewResponseController.
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// CORS settings
	EnableCORS  bool     `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// Bearer authentication. Keys map API credentials to owner identifiers.
	AuthEnabled bool        `yaml:"auth_enabled" json:"auth_enabled"`
	APIKeys     []APIKeyRef `yaml:"api_keys" json:"api_keys"`
}

// APIKeyRef binds a bearer credential to the owner it authenticates as.
type APIKeyRef struct {
	Key     string `yaml:"key" json:"key"`
	OwnerID string `yaml:"owner_id" json:"owner_id"`
}

// ScanningConfig holds scanner subprocess settings.
type ScanningConfig struct {
	// Path to the nmap binary
	ScannerPath string `yaml:"scanner_path" json:"scanner_path"`

	// Default scan profile when a request omits one
	DefaultProfile string `yaml:"default_profile" json:"default_profile"`

	// Per-scan host timeout passed to the scanner
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`

	// Safety margin added on top of ScanTimeout before the runner kills
	// the subprocess
	KillGracePeriod time.Duration `yaml:"kill_grace_period" json:"kill_grace_period"`

	// Progress statistics interval passed to the scanner
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`
}

// SessionConfig holds in-memory session registry settings.
type SessionConfig struct {
	// Maximum retained log lines per session
	MaxLogLines int `yaml:"max_log_lines" json:"max_log_lines"`

	// How long terminal sessions stay resident before eviction
	RetentionWindow time.Duration `yaml:"retention_window" json:"retention_window"`

	// Reaper sweep interval
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// Keep-alive interval for streaming connections
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			EnableCORS:      true,
			CORSOrigins:     []string{"*"},
			AuthEnabled:     true,
			APIKeys:         []APIKeyRef{},
		},
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			ScannerPath:     "nmap",
			DefaultProfile:  "standard",
			ScanTimeout:     5 * time.Minute,
			KillGracePeriod: 30 * time.Second,
			StatsInterval:   2 * time.Second,
		},
		Sessions: SessionConfig{
			MaxLogLines:       200,
			RetentionWindow:   time.Hour,
			SweepInterval:     time.Minute,
			KeepAliveInterval: 25 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.API.Host == "" {
		return fmt.Errorf("API host is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Scanning.ScannerPath == "" {
		return fmt.Errorf("scanner path is required")
	}
	if c.Scanning.ScanTimeout <= 0 {
		return fmt.Errorf("scan timeout must be positive")
	}
	if c.Scanning.KillGracePeriod < 0 {
		return fmt.Errorf("kill grace period must not be negative")
	}

	validProfiles := map[string]bool{
		"quick":    true,
		"standard": true,
		"deep":     true,
	}
	if !validProfiles[c.Scanning.DefaultProfile] {
		return fmt.Errorf("invalid default profile: %s", c.Scanning.DefaultProfile)
	}

	if c.Sessions.MaxLogLines <= 0 {
		return fmt.Errorf("session max log lines must be positive")
	}
	if c.Sessions.RetentionWindow <= 0 {
		return fmt.Errorf("session retention window must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
