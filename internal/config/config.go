// Package config loads embedkit settings from defaults, a JSON5 file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService and KeyringUser locate the master secret in the OS keyring.
	KeyringService = "embedkit"
	KeyringUser    = "master-secret"

	DefaultConfigPath = "embedkit.json5"
)

var (
	ErrMissingMasterSecret = errors.New("encryption key not configured: set EMBEDKIT_ENCRYPTION_KEY or run 'embedkit keygen --keyring'")
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Security  SecurityConfig  `json:"security"`
	Upstream  UpstreamConfig  `json:"upstream"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Backup    BackupConfig    `json:"backup"`
}

type ServerConfig struct {
	Listen string `json:"listen"`
	// TrustProxy makes the limiter key on X-Forwarded-For instead of the peer address.
	TrustProxy bool `json:"trust_proxy"`
}

type StoreConfig struct {
	Backend     string `json:"backend"` // sqlite | postgres | redis | file
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	RedisURL    string `json:"redis_url,omitempty"`
	RedisPrefix string `json:"redis_prefix"`
	FilePath    string `json:"file_path"`
}

type SecurityConfig struct {
	EncryptionKey     string `json:"encryption_key,omitempty"`
	DashboardPassword string `json:"dashboard_password,omitempty"`
}

type UpstreamConfig struct {
	BaseURL    string  `json:"base_url"`
	Beta       string  `json:"beta"`
	TimeoutSec int     `json:"timeout_sec"`
	MaxRPS     float64 `json:"max_rps"`
	// DefaultCredential is the last-resort credential, usually from OPENAI_API_KEY.
	DefaultCredential string `json:"default_credential,omitempty"`
}

type RateLimitConfig struct {
	MutationPerWindow int `json:"mutation_per_window"`
	IssuancePerWindow int `json:"issuance_per_window"`
	WindowSec         int `json:"window_sec"`
	MaxKeys           int `json:"max_keys"`
	// Shared keeps windows in Redis so every instance sees the same counts.
	Shared bool `json:"shared"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text | json
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol"` // grpc | http
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"service_name"`
}

type BackupConfig struct {
	Bucket       string `json:"bucket,omitempty"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style"`
	Schedule     string `json:"schedule,omitempty"` // cron expression; empty disables scheduled backups
	// Static credentials; when empty the AWS default chain is used.
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":3000"},
		Store: StoreConfig{
			Backend:     "sqlite",
			SQLitePath:  filepath.Join("data", "embedkit.db"),
			RedisPrefix: "embedkit:",
			FilePath:    filepath.Join("data", "config.json"),
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.openai.com/v1",
			Beta:       "chatkit_beta=v1",
			TimeoutSec: 20,
		},
		RateLimit: RateLimitConfig{
			MutationPerWindow: 30,
			IssuancePerWindow: 20,
			WindowSec:         60,
			MaxKeys:           10000,
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "embedkit"},
		Backup:    BackupConfig{Prefix: "embedkit/"},
	}
}

// Load reads path (if it exists) over the defaults and applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	return cfg, nil
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Save writes cfg as indented JSON (a JSON5 subset) with owner-only permissions.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// ApplyEnvOverrides overlays environment variables onto cfg.
func (c *Config) ApplyEnvOverrides() {
	envStr("EMBEDKIT_LISTEN", &c.Server.Listen)
	envBool("EMBEDKIT_TRUST_PROXY", &c.Server.TrustProxy)

	envStr("EMBEDKIT_STORE_BACKEND", &c.Store.Backend)
	envStr("EMBEDKIT_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("EMBEDKIT_POSTGRES_DSN", &c.Store.PostgresDSN)
	envStr("EMBEDKIT_REDIS_URL", &c.Store.RedisURL)
	envStr("EMBEDKIT_REDIS_PREFIX", &c.Store.RedisPrefix)
	envStr("EMBEDKIT_FILE_PATH", &c.Store.FilePath)

	// Unprefixed names are the ones earlier deployments used.
	envStr("ENCRYPTION_KEY", &c.Security.EncryptionKey)
	envStr("EMBEDKIT_ENCRYPTION_KEY", &c.Security.EncryptionKey)
	envStr("DASHBOARD_PASSWORD", &c.Security.DashboardPassword)
	envStr("EMBEDKIT_DASHBOARD_PASSWORD", &c.Security.DashboardPassword)

	envStr("OPENAI_API_KEY", &c.Upstream.DefaultCredential)
	envStr("EMBEDKIT_UPSTREAM_BASE_URL", &c.Upstream.BaseURL)
	envStr("EMBEDKIT_UPSTREAM_BETA", &c.Upstream.Beta)
	envInt("EMBEDKIT_UPSTREAM_TIMEOUT_SEC", &c.Upstream.TimeoutSec)
	envFloat("EMBEDKIT_UPSTREAM_MAX_RPS", &c.Upstream.MaxRPS)

	envInt("EMBEDKIT_RATE_MUTATION", &c.RateLimit.MutationPerWindow)
	envInt("EMBEDKIT_RATE_ISSUANCE", &c.RateLimit.IssuancePerWindow)
	envInt("EMBEDKIT_RATE_WINDOW_SEC", &c.RateLimit.WindowSec)
	envBool("EMBEDKIT_RATE_SHARED", &c.RateLimit.Shared)

	envStr("EMBEDKIT_LOG_LEVEL", &c.Log.Level)
	envStr("EMBEDKIT_LOG_FORMAT", &c.Log.Format)

	envStr("EMBEDKIT_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("EMBEDKIT_OTLP_PROTOCOL", &c.Telemetry.Protocol)
	envBool("EMBEDKIT_OTLP_INSECURE", &c.Telemetry.Insecure)
	if os.Getenv("EMBEDKIT_OTLP_ENDPOINT") != "" {
		c.Telemetry.Enabled = true
	}

	envStr("EMBEDKIT_BACKUP_BUCKET", &c.Backup.Bucket)
	envStr("EMBEDKIT_BACKUP_PREFIX", &c.Backup.Prefix)
	envStr("EMBEDKIT_BACKUP_REGION", &c.Backup.Region)
	envStr("EMBEDKIT_BACKUP_ENDPOINT", &c.Backup.Endpoint)
	envStr("EMBEDKIT_BACKUP_SCHEDULE", &c.Backup.Schedule)
	envStr("EMBEDKIT_BACKUP_ACCESS_KEY_ID", &c.Backup.AccessKeyID)
	envStr("EMBEDKIT_BACKUP_SECRET_ACCESS_KEY", &c.Backup.SecretAccessKey)
}

// ResolveEncryptionKey falls back to the OS keyring when no key is configured.
func (c *Config) ResolveEncryptionKey() error {
	if c.Security.EncryptionKey != "" {
		return nil
	}
	secret, err := keyring.Get(KeyringService, KeyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrMissingMasterSecret
		}
		return fmt.Errorf("%w (keyring: %v)", ErrMissingMasterSecret, err)
	}
	c.Security.EncryptionKey = secret
	return nil
}

// Validate rejects configs the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Security.EncryptionKey == "" {
		errs = append(errs, ErrMissingMasterSecret)
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis backend"))
		}
	case "file":
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("store.file_path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.RateLimit.MutationPerWindow <= 0 || c.RateLimit.IssuancePerWindow <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.RateLimit.WindowSec <= 0 {
		errs = append(errs, errors.New("rate_limit.window_sec must be positive"))
	}
	if c.RateLimit.Shared && c.Store.RedisURL == "" {
		errs = append(errs, errors.New("rate_limit.shared requires store.redis_url"))
	}
	if c.Upstream.TimeoutSec <= 0 {
		errs = append(errs, errors.New("upstream.timeout_sec must be positive"))
	}
	return errors.Join(errs...)
}

// UpstreamTimeout is the per-call deadline for session creation.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSec) * time.Second
}

// RateWindow is the limiter window length.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSec) * time.Second
}

// MaskedCopy returns a copy safe to print: secrets are reduced to "***".
func (c *Config) MaskedCopy() *Config {
	cp := *c
	maskNonEmpty(&cp.Security.EncryptionKey)
	maskNonEmpty(&cp.Security.DashboardPassword)
	maskNonEmpty(&cp.Upstream.DefaultCredential)
	maskNonEmpty(&cp.Backup.SecretAccessKey)
	if cp.Store.PostgresDSN != "" {
		cp.Store.PostgresDSN = maskDSN(cp.Store.PostgresDSN)
	}
	if cp.Store.RedisURL != "" {
		cp.Store.RedisURL = maskDSN(cp.Store.RedisURL)
	}
	return &cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = "***"
	}
}

// maskDSN hides the password in a URL-style connection string.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "***"
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return dsn
	}
	return scheme + "://" + user + ":***@" + host
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
