package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"p2pescrow/crypto"
)

// Config captures runtime configuration for escrowd.
type Config struct {
	ListenAddress     string          `toml:"ListenAddress" yaml:"listen"`
	Environment       string          `toml:"Environment" yaml:"environment"`
	DataDir           string          `toml:"DataDir" yaml:"data_dir"`
	StorageBackend    string          `toml:"StorageBackend" yaml:"storage_backend"`
	Owner             string          `toml:"Owner" yaml:"owner"`
	OwnerKeystorePath string          `toml:"OwnerKeystorePath,omitempty" yaml:"owner_keystore,omitempty"`
	LPFeeBps          uint32          `toml:"LPFeeBps" yaml:"lp_fee_bps"`
	IndexDSN          string          `toml:"IndexDSN" yaml:"index_dsn"`
	JournalPath       string          `toml:"JournalPath" yaml:"journal_path"`
	JWTSecretEnv      string          `toml:"JWTSecretEnv" yaml:"jwt_secret_env"`
	DevFaucet         bool            `toml:"DevFaucet" yaml:"dev_faucet"`
	RateLimit         RateLimitConfig `toml:"RateLimit" yaml:"rate_limit"`
	IdempotencyTTL    Duration        `toml:"IdempotencyTTL" yaml:"idempotency_ttl"`
	Log               LogConfig       `toml:"Log" yaml:"log"`
	Telemetry         TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
}

// RateLimitConfig throttles API callers per identity.
type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
}

// LogConfig selects the log level and optional rotating file output.
type LogConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool              `toml:"Insecure" yaml:"insecure"`
	Headers  map[string]string `toml:"Headers" yaml:"headers"`
	Traces   bool              `toml:"Traces" yaml:"traces"`
	Metrics  bool              `toml:"Metrics" yaml:"metrics"`
}

// OwnerPassphraseEnv names the variable holding the passphrase for a
// generated owner keystore.
const OwnerPassphraseEnv = "ESCROWD_OWNER_PASSPHRASE"

var defaultKeystoreStrength = crypto.StandardKeystore

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, everything else as TOML. A missing file is
// created with defaults and a freshly generated owner key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodeFile(path string, cfg *Config) error {
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// applyEnv overlays ESCROWD_* variables on top of the decoded file.
func applyEnv(cfg *Config) {
	cfg.ListenAddress = getenvDefault("ESCROWD_LISTEN", cfg.ListenAddress)
	cfg.Environment = getenvDefault("ESCROWD_ENV", cfg.Environment)
	cfg.DataDir = getenvDefault("ESCROWD_DATA_DIR", cfg.DataDir)
	cfg.StorageBackend = getenvDefault("ESCROWD_STORAGE", cfg.StorageBackend)
	cfg.IndexDSN = getenvDefault("ESCROWD_INDEX_DSN", cfg.IndexDSN)
	cfg.Log.Level = getenvDefault("ESCROWD_LOG_LEVEL", cfg.Log.Level)
	cfg.Telemetry.Endpoint = getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	if raw := strings.TrimSpace(os.Getenv("ESCROWD_DEV_FAUCET")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			cfg.DevFaucet = enabled
		}
	}
}

func (c *Config) normalise() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8088"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	switch c.StorageBackend {
	case "":
		c.StorageBackend = "leveldb"
	case "memory", "leveldb":
	default:
		return fmt.Errorf("config: unsupported StorageBackend %q", c.StorageBackend)
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: Owner is required")
	}
	if _, err := crypto.ParseAddress(c.Owner); err != nil {
		return fmt.Errorf("config: invalid Owner: %w", err)
	}
	if c.LPFeeBps > 10_000 {
		return fmt.Errorf("config: LPFeeBps %d exceeds 10000", c.LPFeeBps)
	}
	if strings.TrimSpace(c.IndexDSN) == "" {
		c.IndexDSN = "sqlite://" + filepath.Join(c.DataDir, "index.db")
	}
	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerMinute
	}
	if c.IdempotencyTTL.Duration <= 0 {
		c.IdempotencyTTL = Duration{24 * time.Hour}
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	return nil
}

// OwnerAddress returns the parsed owner identity.
func (c *Config) OwnerAddress() ([20]byte, error) {
	return crypto.ParseAddress(c.Owner)
}

// JWTSecret resolves the signing secret from the configured environment
// variable. An empty result disables bearer authentication.
func (c *Config) JWTSecret() []byte {
	name := strings.TrimSpace(c.JWTSecretEnv)
	if name == "" {
		return nil
	}
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return nil
	}
	return []byte(value)
}

// StoragePath is the LevelDB directory under DataDir.
func (c *Config) StoragePath() string {
	return filepath.Join(c.DataDir, "state")
}

// createDefault creates and saves a default configuration file together with
// an owner keystore next to it.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, os.Getenv(OwnerPassphraseEnv), defaultKeystoreStrength); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:     ":8088",
		Environment:       "local",
		DataDir:           "./escrow-data",
		StorageBackend:    "leveldb",
		Owner:             key.PubKey().Address().String(),
		OwnerKeystorePath: keystorePath,
		LPFeeBps:          200,
		JWTSecretEnv:      "ESCROWD_JWT_SECRET",
		RateLimit:         RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		IdempotencyTTL:    Duration{24 * time.Hour},
		Log:               LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.keystore")
}
