package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Database.Database = "scanwatch"
	cfg.Database.Username = "scanwatch"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "nmap", cfg.Scanning.ScannerPath)
	assert.Equal(t, "standard", cfg.Scanning.DefaultProfile)
	assert.Equal(t, 5*time.Minute, cfg.Scanning.ScanTimeout)
	assert.Equal(t, 200, cfg.Sessions.MaxLogLines)
	assert.Equal(t, time.Hour, cfg.Sessions.RetentionWindow)
	assert.Equal(t, time.Minute, cfg.Sessions.SweepInterval)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanwatch.yaml")

	cfg := validConfig()
	cfg.API.Port = 9090
	cfg.Scanning.DefaultProfile = "deep"
	cfg.Sessions.RetentionWindow = 2 * time.Hour
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.API.Port)
	assert.Equal(t, "deep", loaded.Scanning.DefaultProfile)
	assert.Equal(t, 2*time.Hour, loaded.Sessions.RetentionWindow)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.API.Port = 0 }, true},
		{"empty host", func(c *Config) { c.API.Host = "" }, true},
		{"missing database name", func(c *Config) { c.Database.Database = "" }, true},
		{"empty scanner path", func(c *Config) { c.Scanning.ScannerPath = "" }, true},
		{"zero scan timeout", func(c *Config) { c.Scanning.ScanTimeout = 0 }, true},
		{"negative kill grace", func(c *Config) { c.Scanning.KillGracePeriod = -time.Second }, true},
		{"unknown profile", func(c *Config) { c.Scanning.DefaultProfile = "stealth" }, true},
		{"zero log lines", func(c *Config) { c.Sessions.MaxLogLines = 0 }, true},
		{"zero retention", func(c *Config) { c.Sessions.RetentionWindow = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetAPIAddress(t *testing.T) {
	cfg := Default()
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 9999
	assert.Equal(t, "0.0.0.0:9999", cfg.GetAPIAddress())
}
