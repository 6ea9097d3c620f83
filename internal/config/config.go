package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Remote API
	DefaultBaseURL = "https://mystb.in"
	APIPrefix      = "/api"

	// Request execution
	ClientTimeout      = 15 * time.Second
	MaxAttempts        = 5
	NetworkRetryDelay  = 5 * time.Second
	RateLimitPadding   = 1 * time.Second
	ServerBackoffBase  = 1 * time.Second
	ServerBackoffScale = 2 * time.Second

	// Mock API
	MockHTTPAddr       = "127.0.0.1:8181"
	MockTCPAddr        = "127.0.0.1:9999"
	MockRedisPassword  = ""
	MockRedisDB        = 0
	MockPasteTTL       = 72 * time.Hour
	MockIDLength       = 12
	MockMaxPayloadSize = 5_000_000
	MockRequestsPerWin = 5
	MockWindow         = 5 * time.Second
)

// Config is the on-disk CLI configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Debug   bool          `yaml:"debug"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Timeout: ClientTimeout,
	}
}

// Load reads the YAML file at path, applies MYSTBIN_* environment overrides
// and fills in defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MYSTBIN_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("MYSTBIN_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("MYSTBIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing MYSTBIN_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = ClientTimeout
	}
}

// RedisURI returns the Redis address for the mock API, empty when unset.
func RedisURI() string {
	return os.Getenv("REDIS_URI")
}
