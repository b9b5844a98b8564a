// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Playback PlaybackConfig `yaml:"playback"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig represents backend endpoints.
type ServerConfig struct {
	ChannelURL string `yaml:"channel_url" validate:"required,url"`
	APIBase    string `yaml:"api_base" validate:"required,url"`
	Token      string `yaml:"token"`
}

// PlaybackConfig represents playback behavior configuration.
type PlaybackConfig struct {
	AutoPlay      *bool   `yaml:"auto_play" default:"true"`
	Volume        float64 `yaml:"volume" default:"0.7" validate:"gte=0,lte=1"`
	LoadTimeoutMs int     `yaml:"load_timeout_ms" default:"15000" validate:"gte=0,lte=120000"`
}

// StatusConfig represents aggregate status polling configuration.
type StatusConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec" default:"10" validate:"gte=1,lte=300"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Output string `yaml:"output" default:"stdout"`
	File   string `yaml:"file"`
}

// AutoPlayEnabled reports whether ingestion may auto-start playback.
func (c PlaybackConfig) AutoPlayEnabled() bool {
	return c.AutoPlay == nil || *c.AutoPlay
}

// LoadTimeout returns the load watchdog duration, 0 meaning disabled.
func (c PlaybackConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutMs) * time.Millisecond
}

// PollInterval returns the status poll interval.
func (c StatusConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for endpoint and credential fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("VOICEBOX_CHANNEL_URL"); v != "" {
		c.Server.ChannelURL = v
	}
	if v := os.Getenv("VOICEBOX_API_BASE"); v != "" {
		c.Server.APIBase = v
	}
	if v := os.Getenv("VOICEBOX_TOKEN"); v != "" {
		c.Server.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}
