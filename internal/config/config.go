package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/dispatch"
	"github.com/nextlevelbuilder/inboxrelay/internal/pipeline"
	"github.com/nextlevelbuilder/inboxrelay/internal/telemetry"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", v))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the relay service.
type Config struct {
	Server    ServerConfig          `json:"server"`
	Database  DatabaseConfig        `json:"database,omitempty"`
	Processor ProcessorConfig       `json:"processor"`
	Mailbox   MailboxConfig         `json:"mailbox,omitempty"`
	Sites     map[string]SiteConfig `json:"sites"`
	Telemetry TelemetryConfig       `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"-"` // from env INBOXRELAY_SERVER_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
}

// DatabaseConfig selects the processed-record backend.
// PostgresDSN is NEVER read from the config file (secret), only from env
// INBOXRELAY_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone mode store location
}

// IsManagedMode returns true when the service runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// ProcessorConfig configures the downstream analysis processor.
type ProcessorConfig struct {
	BaseURL      string     `json:"base_url"`
	Token        string     `json:"-"` // from env INBOXRELAY_PROCESSOR_TOKEN only
	AgentID      string     `json:"agent_id,omitempty"`
	DispatchMode string     `json:"dispatch_mode,omitempty"` // "sync" (default) or "detached"
	Poll         PollConfig `json:"poll,omitempty"`
}

// PollConfig tunes the completion wait.
type PollConfig struct {
	Interval    string `json:"interval,omitempty"` // Go duration, default "1s"
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// ToPollConfig converts PollConfig to dispatch.PollConfig with defaults applied.
func (pc PollConfig) ToPollConfig() dispatch.PollConfig {
	cfg := dispatch.DefaultPollConfig()
	if pc.Interval != "" {
		if d, err := time.ParseDuration(pc.Interval); err == nil && d > 0 {
			cfg.Interval = d
		}
	}
	if pc.MaxAttempts > 0 {
		cfg.MaxAttempts = pc.MaxAttempts
	}
	return cfg
}

// MailboxConfig configures message retrieval.
type MailboxConfig struct {
	BaseURL               string `json:"base_url,omitempty"` // mailbox provider relay API
	Provider              string `json:"provider,omitempty"` // "imap" (default) or "pop3"
	FetchLimit            int    `json:"fetch_limit,omitempty"`
	DeleteAfterProcessing bool   `json:"delete_after_processing,omitempty"`
}

// SiteConfig describes one tenant inbox and its filter rules.
// The mailbox secret comes from env INBOXRELAY_SITE_<NAME>_SECRET only.
type SiteConfig struct {
	Address         string              `json:"address"`
	Secret          string              `json:"-"`
	Aliases         FlexibleStringSlice `json:"aliases,omitempty"`
	NoReplyAddress  string              `json:"no_reply_address,omitempty"`
	SystemDomain    string              `json:"system_domain,omitempty"`
	SuspiciousTerms FlexibleStringSlice `json:"suspicious_terms,omitempty"`
	Cron            string              `json:"cron,omitempty"` // schedule expression, empty = on-demand only
	AnalysisContext string              `json:"analysis_context,omitempty"`
}

// ToSiteRules converts a SiteConfig into the filter rule set.
func (sc SiteConfig) ToSiteRules() pipeline.SiteRules {
	return pipeline.SiteRules{
		Aliases:         sc.Aliases,
		SystemDomain:    sc.SystemDomain,
		NoReplyAddress:  sc.NoReplyAddress,
		SuspiciousTerms: sc.SuspiciousTerms,
	}
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // set true for local dev
	ServiceName string            `json:"service_name,omitempty"` // default "inboxrelay"
	Headers     map[string]string `json:"headers,omitempty"`
}

// ToTelemetryConfig converts TelemetryConfig into the exporter settings.
func (tc TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:     tc.Enabled,
		Endpoint:    tc.Endpoint,
		Protocol:    tc.Protocol,
		Insecure:    tc.Insecure,
		ServiceName: tc.ServiceName,
		Headers:     tc.Headers,
	}
}

// ProcessorCfg returns a snapshot of the processor settings. Callers that
// may overlap a live reload must read through this instead of c.Processor.
func (c *Config) ProcessorCfg() ProcessorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Processor
}

// MailboxCfg returns a snapshot of the mailbox settings.
func (c *Config) MailboxCfg() MailboxConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mailbox
}

// Site returns the config for one site, case-sensitively.
func (c *Config) Site(name string) (SiteConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.Sites[name]
	return sc, ok
}

// SiteNames returns the configured site names.
func (c *Config) SiteNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.Sites))
	for name := range c.Sites {
		names = append(names, name)
	}
	return names
}

// ReplaceFrom swaps this config's contents for src's, preserving the mutex.
// Used by the file watcher to apply a reload in place.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = src.Server
	c.Database = src.Database
	c.Processor = src.Processor
	c.Mailbox = src.Mailbox
	c.Sites = src.Sites
	c.Telemetry = src.Telemetry
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
