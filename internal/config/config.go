package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/stream"
)

// FileName is the config file written by init and read by default.
const FileName = "harvest.yaml"

// Environment overrides.
const (
	EnvDB           = "HARVEST_DB"
	EnvListen       = "HARVEST_LISTEN"
	EnvExtractorURL = "HARVEST_EXTRACTOR_URL"
	EnvLogLevel     = "HARVEST_LOG_LEVEL"
)

// Config represents the top-level harvest.yaml configuration.
type Config struct {
	Store       StoreConfig     `yaml:"store"`
	Server      ServerConfig    `yaml:"server"`
	Extractor   ExtractorConfig `yaml:"extractor"`
	MFA         MFAConfig       `yaml:"mfa"`
	Auth        AuthConfig      `yaml:"auth"`
	Concurrency int             `yaml:"concurrency"`
	Paths       PathsConfig     `yaml:"paths"`
	Log         LogConfig       `yaml:"log"`
	Banks       []BankConfig    `yaml:"banks,omitempty"`
	// Credentials are keyed by bank id.
	Credentials map[string]model.BankCredentials `yaml:"credentials,omitempty"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the aggregating service's HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ExtractorConfig controls the extraction process. An empty URL runs the
// extractor in-process.
type ExtractorConfig struct {
	Listen  string `yaml:"listen"`
	URL     string `yaml:"url,omitempty"`
	Framing string `yaml:"framing"`
}

// MFAConfig controls the relay's polling. URL is the service the extractor
// reaches the MFA channel on; empty means the local store.
type MFAConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	URL          string        `yaml:"url,omitempty"`
}

// AuthConfig controls the authentication state machine.
type AuthConfig struct {
	Settle time.Duration `yaml:"settle"`
}

// PathsConfig holds working directories. Relative paths are resolved
// against the config file's directory.
type PathsConfig struct {
	Sessions    string `yaml:"sessions"`
	Screenshots string `yaml:"screenshots"`
	Import      string `yaml:"import"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// BankConfig registers a statement-directory bank. Format names a column
// layout: chase, chase_card or split. A nil BalanceColumn means exports
// carry no running balance.
type BankConfig struct {
	ID            string   `yaml:"id"`
	Names         []string `yaml:"names,omitempty"`
	Format        string   `yaml:"format"`
	BalanceColumn *int     `yaml:"balance_column,omitempty"`
	MaxSpanMonths int      `yaml:"max_span_months,omitempty"`
}

// Load reads a harvest.yaml file from disk, applies a sibling .env file and
// environment overrides, and resolves relative paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	dir := filepath.Dir(path)
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Resolve(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Path: "harvest.db"},
		Server: ServerConfig{Listen: "127.0.0.1:8480"},
		Extractor: ExtractorConfig{
			Listen:  "127.0.0.1:8481",
			Framing: string(stream.FramingNDJSON),
		},
		MFA: MFAConfig{
			PollInterval: time.Second,
			MaxPolls:     240,
		},
		Auth:        AuthConfig{Settle: 3 * time.Second},
		Concurrency: 2,
		Paths: PathsConfig{
			Sessions:    "sessions",
			Screenshots: "screenshots",
			Import:      "import",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Banks: []BankConfig{
			{ID: "chase", Names: []string{"Chase", "JPMorgan Chase"}, Format: "chase", BalanceColumn: intPtr(5), MaxSpanMonths: 3},
		},
	}
}

// ApplyEnv overrides fields from the environment. Unset variables leave the
// file's values alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
	if v := getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
	if v := getenv(EnvExtractorURL); v != "" {
		c.Extractor.URL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Resolve makes relative paths absolute against dir.
func (c *Config) Resolve(dir string) {
	for _, p := range []*string{&c.Store.Path, &c.Paths.Sessions, &c.Paths.Screenshots, &c.Paths.Import} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if _, err := stream.ParseFraming(c.Extractor.Framing); err != nil {
		errs = append(errs, fmt.Errorf("extractor.framing: %w", err))
	}
	if c.MFA.PollInterval <= 0 || c.MFA.MaxPolls < 1 {
		errs = append(errs, errors.New("mfa.poll_interval and mfa.max_polls must be positive"))
	}
	if c.Auth.Settle < 0 {
		errs = append(errs, errors.New("auth.settle must not be negative"))
	}
	seen := make(map[string]bool, len(c.Banks))
	for i, b := range c.Banks {
		id := strings.ToLower(b.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("banks[%d]: id is required", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("banks[%d]: duplicate id %q", i, b.ID))
		}
		seen[id] = true
	}
	return errors.Join(errs...)
}

// CredentialsFor returns the login for bankID, matched case-insensitively.
func (c *Config) CredentialsFor(bankID string) (model.BankCredentials, bool) {
	for id, creds := range c.Credentials {
		if strings.EqualFold(id, bankID) {
			return creds, true
		}
	}
	return model.BankCredentials{}, false
}

func intPtr(n int) *int { return &n }
