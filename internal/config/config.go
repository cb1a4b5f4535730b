// Package config loads sekripgabut settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. SEKRIPGABUT_AUTH_TOKEN.
const EnvPrefix = "SEKRIPGABUT"

// Config is the full runtime configuration.
type Config struct {
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Splunk      SplunkConfig      `yaml:"splunk" mapstructure:"splunk"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Remediation RemediationConfig `yaml:"remediation" mapstructure:"remediation"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`

	path string
}

// AuthConfig holds the bearer token used for every REST call.
type AuthConfig struct {
	Token string `yaml:"token" mapstructure:"token" validate:"required"`
}

// SplunkConfig captures the management endpoint settings.
type SplunkConfig struct {
	BaseURL            string        `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
}

// LoggingConfig captures logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error critical"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json text"`
	File   string `yaml:"file" mapstructure:"file"`
}

// RemediationConfig tunes the notable cleanup pipeline.
type RemediationConfig struct {
	Mode          string        `yaml:"mode" mapstructure:"mode" validate:"oneof=stream snapshot sid"`
	Granularity   string        `yaml:"granularity" mapstructure:"granularity" validate:"oneof=daily weekly"`
	PageSize      int           `yaml:"page_size" mapstructure:"page_size" validate:"min=1"`
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gte=0"`
	NotReadyDelay time.Duration `yaml:"not_ready_delay" mapstructure:"not_ready_delay" validate:"gte=0"`
	MaxPasses     int           `yaml:"max_passes" mapstructure:"max_passes" validate:"min=1"`
	Owner         string        `yaml:"owner" mapstructure:"owner"`
	Comment       string        `yaml:"comment" mapstructure:"comment"`
	SnapshotDir   string        `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// MetricsConfig controls the optional Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Splunk: SplunkConfig{
			Timeout: 180 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "sekripgabut.log",
		},
		Remediation: RemediationConfig{
			Mode:          "stream",
			Granularity:   "weekly",
			PageSize:      3000,
			BatchSize:     8000,
			PollInterval:  3 * time.Second,
			NotReadyDelay: 3 * time.Second,
			MaxPasses:     5,
			SnapshotDir:   "unclosed-notables",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("auth.token", "")
	v.SetDefault("splunk.base_url", "")
	v.SetDefault("splunk.insecure_skip_verify", false)
	v.SetDefault("splunk.timeout", d.Splunk.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("remediation.mode", d.Remediation.Mode)
	v.SetDefault("remediation.granularity", d.Remediation.Granularity)
	v.SetDefault("remediation.page_size", d.Remediation.PageSize)
	v.SetDefault("remediation.batch_size", d.Remediation.BatchSize)
	v.SetDefault("remediation.poll_interval", d.Remediation.PollInterval)
	v.SetDefault("remediation.not_ready_delay", d.Remediation.NotReadyDelay)
	v.SetDefault("remediation.max_passes", d.Remediation.MaxPasses)
	v.SetDefault("remediation.owner", "")
	v.SetDefault("remediation.comment", "")
	v.SetDefault("remediation.snapshot_dir", d.Remediation.SnapshotDir)

	v.SetDefault("metrics.textfile", "")
}

// Load reads configuration from the provided path and environment variables.
// An empty path searches ./config.yaml and $HOME/.sekripgabut/config.yaml; a
// missing file is not an error. An explicitly named file must exist.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sekripgabut"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()

	return cfg, nil
}

// Path returns the config file that was read, or "" when defaults/env were used.
func (c *Config) Path() string { return c.path }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings needed to talk to the backend.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", configKey(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// configKey turns "Config.Splunk.BaseURL" into the YAML key "splunk.base_url".
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WriteStarter writes a starter config to path. Existing files are left alone.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	d := Default()
	starter := map[string]any{
		"auth": map[string]any{"token": "<splunk bearer token>"},
		"splunk": map[string]any{
			"base_url":             "https://splunk.example.com:8089",
			"insecure_skip_verify": false,
			"timeout":              d.Splunk.Timeout.String(),
		},
		"logging": map[string]any{
			"level":  d.Logging.Level,
			"format": d.Logging.Format,
			"file":   d.Logging.File,
		},
		"remediation": map[string]any{
			"mode":            d.Remediation.Mode,
			"granularity":     d.Remediation.Granularity,
			"page_size":       d.Remediation.PageSize,
			"batch_size":      d.Remediation.BatchSize,
			"poll_interval":   d.Remediation.PollInterval.String(),
			"not_ready_delay": d.Remediation.NotReadyDelay.String(),
			"max_passes":      d.Remediation.MaxPasses,
			"owner":           "",
			"comment":         "",
			"snapshot_dir":    d.Remediation.SnapshotDir,
		},
		"metrics": map[string]any{"textfile": ""},
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
