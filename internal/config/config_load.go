package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         18820,
			RateLimitRPM: 30,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.inboxrelay/processed.db",
		},
		Processor: ProcessorConfig{
			DispatchMode: "sync",
			Poll: PollConfig{
				Interval:    "1s",
				MaxAttempts: 180,
			},
		},
		Mailbox: MailboxConfig{
			Provider:   "imap",
			FetchLimit: 50,
		},
		Sites: map[string]SiteConfig{},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets (tokens, DSN,
// mailbox credentials) are env-only and never persisted.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("INBOXRELAY_SERVER_TOKEN", &c.Server.Token)
	envStr("INBOXRELAY_HOST", &c.Server.Host)
	if v := os.Getenv("INBOXRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	// Database
	envStr("INBOXRELAY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("INBOXRELAY_MODE", &c.Database.Mode)
	envStr("INBOXRELAY_SQLITE_PATH", &c.Database.SQLitePath)

	// Processor
	envStr("INBOXRELAY_PROCESSOR_URL", &c.Processor.BaseURL)
	envStr("INBOXRELAY_PROCESSOR_TOKEN", &c.Processor.Token)
	envStr("INBOXRELAY_PROCESSOR_AGENT_ID", &c.Processor.AgentID)
	envStr("INBOXRELAY_DISPATCH_MODE", &c.Processor.DispatchMode)

	// Mailbox provider
	envStr("INBOXRELAY_MAILBOX_URL", &c.Mailbox.BaseURL)

	// Per-site mailbox secrets: INBOXRELAY_SITE_<NAME>_SECRET, with the
	// site name uppercased and dashes mapped to underscores.
	for name, sc := range c.Sites {
		key := "INBOXRELAY_SITE_" + siteEnvKey(name) + "_SECRET"
		if v := os.Getenv(key); v != "" {
			sc.Secret = v
			c.Sites[name] = sc
		}
	}

	// Telemetry
	envStr("INBOXRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("INBOXRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("INBOXRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("INBOXRELAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("INBOXRELAY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config as plain JSON. Secret fields carry `json:"-"`
// tags and never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func siteEnvKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// ExpandHome expands a leading ~/ against the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
