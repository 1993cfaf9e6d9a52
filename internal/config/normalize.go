package config

import "strings"

// Normalize canonicalizes free-form values so later comparisons are exact.
//   - backend and log settings are lowercased; "pg" means postgres
//   - the upstream base URL loses its trailing slash
//   - a non-empty redis prefix always ends with ":"
func (c *Config) Normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "pg" || c.Store.Backend == "postgresql" {
		c.Store.Backend = "postgres"
	}
	if c.Store.RedisPrefix != "" && !strings.HasSuffix(c.Store.RedisPrefix, ":") {
		c.Store.RedisPrefix += ":"
	}

	c.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upstream.BaseURL), "/")

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(c.Telemetry.Protocol))
}
