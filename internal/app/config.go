package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/mlscore"
	"github.com/raysh454/ztguard/internal/network"
	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scanner"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/server"
)

// ML provider kinds.
const (
	ProviderLinear = "linear"
	ProviderRemote = "remote"
	ProviderNone   = "none"
)

// Config is the whole runtime configuration. It is read once at startup and
// not changed after the engine is built.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   server.Config  `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`

	ML MLConfig `yaml:"ml"`
	// Semantic is the optional second model; it is used only when an
	// endpoint is set.
	Semantic mlscore.RemoteConfig `yaml:"semantic"`

	Features features.Config `yaml:"features"`
	Rules    rules.Config    `yaml:"rules"`
	Scoring  scoring.Config  `yaml:"scoring"`
	Scanner  scanner.Config  `yaml:"scanner"`
	Alerts   alerts.Config   `yaml:"alerts"`
	Network  network.Config  `yaml:"network"`
	Intel    intel.Config    `yaml:"intel"`
}

type DatabaseConfig struct {
	// URL is a postgres:// URL, a sqlite:// URL or a plain SQLite file path.
	URL string `yaml:"url"`
}

type MLConfig struct {
	Provider string               `yaml:"provider"`
	Remote   mlscore.RemoteConfig `yaml:"remote"`
	Linear   mlscore.LinearConfig `yaml:"linear"`
}

// DefaultConfig returns a Config with every documented default.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server:   server.DefaultConfig(),
		Database: DatabaseConfig{URL: "data/ztguard.db"},
		ML: MLConfig{
			Provider: ProviderLinear,
			Remote:   mlscore.RemoteConfig{Timeout: 5 * time.Second},
			Linear:   mlscore.DefaultLinearConfig(),
		},
		Semantic: mlscore.RemoteConfig{Timeout: 5 * time.Second},
		Features: features.DefaultConfig(),
		Rules:    rules.DefaultConfig(),
		Scoring:  scoring.DefaultConfig(),
		Scanner:  scanner.DefaultConfig(),
		Alerts:   alerts.DefaultConfig(),
		Network:  network.DefaultConfig(),
		Intel:    intel.DefaultConfig(),
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("ZTGUARD_LISTEN_ADDR"); ok && v != "" {
		c.Server.ListenAddr = v
	}
	if v, ok := lookup("ZTGUARD_DATABASE_URL"); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup("ZTGUARD_ML_ENDPOINT"); ok && v != "" {
		c.ML.Provider = ProviderRemote
		c.ML.Remote.Endpoint = v
	}
	if v, ok := lookup("ZTGUARD_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("config: database.url is required")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("config: server.listen_addr is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return errors.New("config: server.rate_limit_per_minute must not be negative")
	}
	switch c.ML.Provider {
	case ProviderLinear, ProviderNone:
	case ProviderRemote:
		if c.ML.Remote.Endpoint == "" {
			return errors.New("config: ml.remote.endpoint is required for the remote provider")
		}
	default:
		return fmt.Errorf("config: unknown ml.provider %q", c.ML.Provider)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("config: rules: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("config: scoring: %w", err)
	}
	if err := c.Scanner.Validate(); err != nil {
		return fmt.Errorf("config: scanner: %w", err)
	}
	if c.Alerts.DedupWindow <= 0 {
		return errors.New("config: alerts.dedup_window must be positive")
	}
	if !c.Network.AlertSeverity.IsValid() {
		return fmt.Errorf("config: network.alert_severity %q is not a severity", c.Network.AlertSeverity)
	}
	return nil
}
