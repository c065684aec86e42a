package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "config.json"
	DefaultServerAddress  = ":8090"
	DefaultBackendBaseURL = "http://127.0.0.1:8000/api"
	DefaultCSRFCookieName = "csrftoken"
	DefaultCSRFHeaderName = "X-CSRFToken"
	DefaultSessionTTL     = 120 // minutes
)

// Config represents runtime configuration for the desk server and terminal client.
type Config struct {
	BasicConfig BasicConfig   `json:"basic_config" yaml:"basic_config"`
	Backend     BackendConfig `json:"backend" yaml:"backend"`
	Desk        DeskConfig    `json:"desk" yaml:"desk"`
	Redis       RedisConfig   `json:"redis" yaml:"redis"`
	Logging     LoggingConfig `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	SessionTTL        int    `json:"session_ttl" yaml:"session_ttl"`                 // minutes
}

// BackendConfig describes the library REST backend the desk talks to.
type BackendConfig struct {
	BaseURL        string            `json:"base_url" yaml:"base_url"`
	CSRFCookieName string            `json:"csrf_cookie_name" yaml:"csrf_cookie_name"`
	CSRFHeaderName string            `json:"csrf_header_name" yaml:"csrf_header_name"`
	BootstrapURL   string            `json:"bootstrap_url" yaml:"bootstrap_url"`
	Cookies        map[string]string `json:"cookies" yaml:"cookies"`
	Timeout        int               `json:"timeout" yaml:"timeout"` // seconds, 0 disables
}

type DeskConfig struct {
	Locale         string `json:"locale" yaml:"locale"`
	WelcomeMessage string `json:"welcome_message" yaml:"welcome_message"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file yields Default(); a missing explicit file is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 2
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers * 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 256
	}
	if c.BasicConfig.WorkerIdleTimeout <= 0 {
		c.BasicConfig.WorkerIdleTimeout = 30
	}
	if c.BasicConfig.SessionTTL <= 0 {
		c.BasicConfig.SessionTTL = DefaultSessionTTL
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendBaseURL
	}
	if c.Backend.CSRFCookieName == "" {
		c.Backend.CSRFCookieName = DefaultCSRFCookieName
	}
	if c.Backend.CSRFHeaderName == "" {
		c.Backend.CSRFHeaderName = DefaultCSRFHeaderName
	}
	if c.Desk.Locale == "" {
		c.Desk.Locale = "en"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first configuration value that cannot be used.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend base_url must be http or https, got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend base_url has no host: %q", c.Backend.BaseURL)
	}
	if c.Backend.BootstrapURL != "" {
		if _, err := url.Parse(c.Backend.BootstrapURL); err != nil {
			return fmt.Errorf("backend bootstrap_url: %w", err)
		}
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout cannot be negative")
	}
	switch c.Desk.Locale {
	case "en", "zh-TW":
	default:
		return fmt.Errorf("unsupported desk locale %q", c.Desk.Locale)
	}
	return nil
}
