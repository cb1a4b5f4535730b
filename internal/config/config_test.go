package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "stream", cfg.Remediation.Mode)
	assert.Equal(t, "weekly", cfg.Remediation.Granularity)
	assert.Equal(t, 3000, cfg.Remediation.PageSize)
	assert.Equal(t, 8000, cfg.Remediation.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Remediation.PollInterval)
	assert.Equal(t, 5, cfg.Remediation.MaxPasses)
	assert.False(t, cfg.Splunk.InsecureSkipVerify)
	assert.Equal(t, 180*time.Second, cfg.Splunk.Timeout)
}

func TestLoad_WithConfigFile(t *testing.T) {
	path := writeConfig(t, `auth:
  token: test-token-123
splunk:
  base_url: https://splunk.example.com:8089
  insecure_skip_verify: true
  timeout: 30s
remediation:
  mode: snapshot
  page_size: 500
  poll_interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-token-123", cfg.Auth.Token)
	assert.Equal(t, "https://splunk.example.com:8089", cfg.Splunk.BaseURL)
	assert.True(t, cfg.Splunk.InsecureSkipVerify)
	assert.Equal(t, 30*time.Second, cfg.Splunk.Timeout)
	assert.Equal(t, "snapshot", cfg.Remediation.Mode)
	assert.Equal(t, 500, cfg.Remediation.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Remediation.PollInterval)
	// untouched keys keep defaults
	assert.Equal(t, 8000, cfg.Remediation.BatchSize)
	assert.Equal(t, "weekly", cfg.Remediation.Granularity)
	assert.Equal(t, path, cfg.Path())
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "auth: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `auth:
  token: file-token
splunk:
  base_url: https://file.example.com:8089
`)
	t.Setenv("SEKRIPGABUT_AUTH_TOKEN", "env-token")
	t.Setenv("SEKRIPGABUT_SPLUNK_BASE_URL", "https://env.example.com:8089")
	t.Setenv("SEKRIPGABUT_REMEDIATION_PAGE_SIZE", "1234")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Auth.Token)
	assert.Equal(t, "https://env.example.com:8089", cfg.Splunk.BaseURL)
	assert.Equal(t, 1234, cfg.Remediation.PageSize)
}

func TestLoad_NoFileSearchPaths(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Path())
	assert.Equal(t, 3000, cfg.Remediation.PageSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.Token = "tok"
		cfg.Splunk.BaseURL = "https://splunk:8089"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Auth.Token = "" }, wantErr: "auth.token (required)"},
		{name: "missing base url", mutate: func(c *Config) { c.Splunk.BaseURL = "" }, wantErr: "splunk.base_url (required)"},
		{name: "bad base url", mutate: func(c *Config) { c.Splunk.BaseURL = "not a url" }, wantErr: "splunk.base_url (url)"},
		{name: "bad mode", mutate: func(c *Config) { c.Remediation.Mode = "yolo" }, wantErr: "remediation.mode (oneof)"},
		{name: "bad granularity", mutate: func(c *Config) { c.Remediation.Granularity = "monthly" }, wantErr: "remediation.granularity (oneof)"},
		{name: "zero page size", mutate: func(c *Config) { c.Remediation.PageSize = 0 }, wantErr: "remediation.page_size (min)"},
		{name: "zero passes", mutate: func(c *Config) { c.Remediation.MaxPasses = 0 }, wantErr: "remediation.max_passes (min)"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level (oneof)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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

func TestConfigKey(t *testing.T) {
	assert.Equal(t, "splunk.base_url", configKey("Config.Splunk.BaseURL"))
	assert.Equal(t, "splunk.insecure_skip_verify", configKey("Config.Splunk.InsecureSkipVerify"))
	assert.Equal(t, "remediation.not_ready_delay", configKey("Config.Remediation.NotReadyDelay"))
}

func TestWriteStarter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteStarter(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://splunk.example.com:8089", cfg.Splunk.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Remediation.PollInterval)
	assert.Equal(t, 180*time.Second, cfg.Splunk.Timeout)
	assert.NoError(t, cfg.Validate())

	// second call refuses to clobber
	assert.Error(t, WriteStarter(path))
}
