package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.RateLimit.MutationPerWindow != 30 || cfg.RateLimit.IssuancePerWindow != 20 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.RateWindow() != time.Minute || cfg.UpstreamTimeout() != 20*time.Second {
		t.Errorf("durations: window=%v timeout=%v", cfg.RateWindow(), cfg.UpstreamTimeout())
	}
}

func TestLoad_JSON5File(t *testing.T) {
	p := writeFile(t, t.TempDir(), "embedkit.json5", `{
		// comments and trailing commas are fine
		store: { backend: "PG", postgres_dsn: "postgres://u:p@db/embed", redis_prefix: "tenant" },
		upstream: { base_url: "https://example.test/v1/", },
		rate_limit: { issuance_per_window: 5 },
	}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.RedisPrefix != "tenant:" {
		t.Errorf("redis prefix = %q", cfg.Store.RedisPrefix)
	}
	if cfg.Upstream.BaseURL != "https://example.test/v1" {
		t.Errorf("base url = %q", cfg.Upstream.BaseURL)
	}
	if cfg.RateLimit.IssuancePerWindow != 5 || cfg.RateLimit.MutationPerWindow != 30 {
		t.Errorf("rate limits = %+v", cfg.RateLimit)
	}
}

func TestLoad_BadFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.json5", `{ store: `)
	if _, err := Load(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeFile(t, t.TempDir(), "embedkit.json5", `{ security: { dashboard_password: "from-file" } }`)
	t.Setenv("EMBEDKIT_DASHBOARD_PASSWORD", "from-env")
	t.Setenv("ENCRYPTION_KEY", "legacy-key")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("EMBEDKIT_RATE_MUTATION", "7")
	t.Setenv("EMBEDKIT_TRUST_PROXY", "true")
	t.Setenv("EMBEDKIT_RATE_ISSUANCE", "not-a-number")

	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.DashboardPassword != "from-env" {
		t.Errorf("password = %q", cfg.Security.DashboardPassword)
	}
	if cfg.Security.EncryptionKey != "legacy-key" {
		t.Errorf("encryption key = %q", cfg.Security.EncryptionKey)
	}
	if cfg.Upstream.DefaultCredential != "sk-env" {
		t.Errorf("default credential = %q", cfg.Upstream.DefaultCredential)
	}
	if cfg.RateLimit.MutationPerWindow != 7 || cfg.RateLimit.IssuancePerWindow != 20 {
		t.Errorf("rate limits = %+v", cfg.RateLimit)
	}
	if !cfg.Server.TrustProxy {
		t.Error("trust proxy not applied")
	}
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "legacy")
	t.Setenv("EMBEDKIT_ENCRYPTION_KEY", "current")
	cfg, _ := Load("")
	if cfg.Security.EncryptionKey != "current" {
		t.Errorf("encryption key = %q", cfg.Security.EncryptionKey)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "EMBEDKIT_TEST_DOTENV=hello\nEMBEDKIT_TEST_PRESET=from-file\n")
	t.Setenv("EMBEDKIT_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("EMBEDKIT_TEST_DOTENV") })

	if err := LoadDotEnv(p); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("EMBEDKIT_TEST_DOTENV"); got != "hello" {
		t.Errorf("EMBEDKIT_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("EMBEDKIT_TEST_PRESET"); got != "from-env" {
		t.Errorf(".env must not override the environment, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Security.EncryptionKey = "k"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing_key", func(c *Config) { c.Security.EncryptionKey = "" }, "encryption key"},
		{"unknown_backend", func(c *Config) { c.Store.Backend = "mongo" }, "unknown store.backend"},
		{"postgres_without_dsn", func(c *Config) { c.Store.Backend = "postgres" }, "postgres_dsn"},
		{"redis_without_url", func(c *Config) { c.Store.Backend = "redis" }, "redis_url"},
		{"zero_limit", func(c *Config) { c.RateLimit.IssuancePerWindow = 0 }, "rate limits"},
		{"zero_window", func(c *Config) { c.RateLimit.WindowSec = 0 }, "window_sec"},
		{"shared_without_redis", func(c *Config) { c.RateLimit.Shared = true }, "shared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveEncryptionKey_Keyring(t *testing.T) {
	keyring.MockInit()

	c := Default()
	if err := c.ResolveEncryptionKey(); !errors.Is(err, ErrMissingMasterSecret) {
		t.Fatalf("err = %v, want ErrMissingMasterSecret", err)
	}

	if err := keyring.Set(KeyringService, KeyringUser, "from-keyring"); err != nil {
		t.Fatal(err)
	}
	if err := c.ResolveEncryptionKey(); err != nil {
		t.Fatal(err)
	}
	if c.Security.EncryptionKey != "from-keyring" {
		t.Errorf("key = %q", c.Security.EncryptionKey)
	}

	c.Security.EncryptionKey = "explicit"
	if err := c.ResolveEncryptionKey(); err != nil || c.Security.EncryptionKey != "explicit" {
		t.Errorf("configured key must win: %q, %v", c.Security.EncryptionKey, err)
	}
}

func TestMaskedCopy(t *testing.T) {
	c := Default()
	c.Security.EncryptionKey = "secret"
	c.Security.DashboardPassword = "pw"
	c.Upstream.DefaultCredential = "sk-live"
	c.Store.PostgresDSN = "postgres://app:hunter2@db:5432/embed"
	c.Store.RedisURL = "redis://localhost:6379/0"

	m := c.MaskedCopy()
	if m.Security.EncryptionKey != "***" || m.Security.DashboardPassword != "***" || m.Upstream.DefaultCredential != "***" {
		t.Errorf("secrets not masked: %+v", m.Security)
	}
	if m.Store.PostgresDSN != "postgres://app:***@db:5432/embed" {
		t.Errorf("dsn = %q", m.Store.PostgresDSN)
	}
	if m.Store.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("redis url without password changed: %q", m.Store.RedisURL)
	}
	if c.Security.EncryptionKey != "secret" {
		t.Error("MaskedCopy mutated the original")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "embedkit.json5")
	c := Default()
	c.Server.Listen = ":9999"
	if err := Save(p, c); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Server.Listen != ":9999" {
		t.Errorf("listen = %q", got.Server.Listen)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "embedkit.json5", `{ security: { dashboard_password: "one" } }`)

	w, err := NewWatcher(p)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	got := make(chan string, 4)
	w.OnChange(func(cfg *Config) { got <- cfg.Security.DashboardPassword })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "other.txt", "ignored")
	writeFile(t, dir, "embedkit.json5", `{ security: { dashboard_password: "two" } }`)

	select {
	case pw := <-got:
		if pw != "two" {
			t.Errorf("reloaded password = %q", pw)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcher_CloseBeforeRun(t *testing.T) {
	p := writeFile(t, t.TempDir(), "embedkit.json5", `{}`)
	w, err := NewWatcher(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run on a closed watcher returned nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run on a closed watcher did not return")
	}
}
