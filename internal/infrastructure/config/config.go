package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Search   SearchConfig   `yaml:"search"`
	Keys     KeysConfig     `yaml:"keys"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig contains language model provider settings. The API keys
// themselves live in KeysConfig because they rotate through the shared pool.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// KeysConfig lists the rotating API keys. When empty, the pool falls back
// to the GEMINI_API_KEYS / GEMINI_API_KEY environment variables.
type KeysConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables before parsing so secrets can be
	// referenced as ${VAR} in the YAML.
	expanded := os.Expand(string(data), os.Getenv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model must be specified")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search max_results must be positive: %d", c.Search.MaxResults)
	}
	return nil
}

// setDefaults sets default values for optional fields.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8123
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gemini-2.0-flash"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 60 * time.Second
	}

	if c.Search.Endpoint == "" {
		c.Search.Endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = 20 * time.Second
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
