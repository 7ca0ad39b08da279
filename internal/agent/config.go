package agent

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete agent configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Unload    UnloadConfig    `yaml:"unload"`
}

// ServerConfig locates the session API.
type ServerConfig struct {
	BaseURL     string        `yaml:"base_url"`
	BearerToken string        `yaml:"bearer_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SessionConfig carries the default session creation parameters.
type SessionConfig struct {
	Language            string  `yaml:"language"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	CustomPrompt        string  `yaml:"custom_prompt"`
}

// HeartbeatConfig tunes keep-alive behavior.
type HeartbeatConfig struct {
	// Interval enables the periodic heartbeat timer. Zero disables it
	// so the session expires purely on inactivity.
	Interval time.Duration `yaml:"interval"`

	// ActivityThrottle is the minimum spacing between accepted
	// activity-triggered heartbeats.
	ActivityThrottle time.Duration `yaml:"activity_throttle"`

	// TransientLimit is the number of consecutive transient failures
	// before a connection warning is surfaced.
	TransientLimit int `yaml:"transient_limit"`
}

// UnloadConfig tunes the teardown close notification.
type UnloadConfig struct {
	BeaconTimeout time.Duration `yaml:"beacon_timeout"`
}

// DefaultConfig returns a config with all defaults applied. The
// server base URL is left empty and must be supplied by the caller.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 10 * time.Second
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "en"
	}
	if cfg.Session.SimilarityThreshold == 0 {
		cfg.Session.SimilarityThreshold = 0.7
	}
	if cfg.Heartbeat.ActivityThrottle == 0 {
		cfg.Heartbeat.ActivityThrottle = time.Minute
	}
	if cfg.Heartbeat.TransientLimit == 0 {
		cfg.Heartbeat.TransientLimit = 3
	}
	if cfg.Unload.BeaconTimeout == 0 {
		cfg.Unload.BeaconTimeout = 2 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.BaseURL == "" {
		errs = append(errs, "server.base_url is required")
	}
	if c.Heartbeat.Interval < 0 {
		errs = append(errs, "heartbeat.interval must not be negative")
	}
	if c.Heartbeat.ActivityThrottle < 0 {
		errs = append(errs, "heartbeat.activity_throttle must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
