package config

import (
	"sync"
	"time"
)

// BotMode controls whether the AI replies at all.
type BotMode string

const (
	BotModeAuto      BotMode = "auto"       // AI replies unless escalated
	BotModeHumanOnly BotMode = "human_only" // messages stored, no AI call ever
)

// Config is the root configuration for the StoreChat gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Dedupe    DedupeConfig    `json:"dedupe,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	AI        AIConfig        `json:"ai"`
	Analysis  AnalysisConfig  `json:"analysis,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP listener and dashboard access.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // dashboard API token, env STORECHAT_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"` // per-source webhook rate limit (0 = default)
}

// DatabaseConfig configures the Postgres conversation store.
// DSN is never read from the config file — env STORECHAT_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// DedupeConfig selects the idempotency cache backend.
type DedupeConfig struct {
	Backend   string `json:"backend,omitempty"` // "memory" (default), "redis", "sqlite"
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	RedisPass string `json:"-"` // env STORECHAT_REDIS_PASSWORD only
	SQLitePath string `json:"sqlite_path,omitempty"`
	TTL        string `json:"ttl,omitempty"` // Go duration, default "24h"
}

// TTLDuration returns the parsed dedupe TTL with the 24h default.
func (d DedupeConfig) TTLDuration() time.Duration {
	if d.TTL != "" {
		if v, err := time.ParseDuration(d.TTL); err == nil && v > 0 {
			return v
		}
	}
	return 24 * time.Hour
}

// ChannelsConfig holds per-channel connection config and secrets.
// Secrets are read-only to the core and never logged in cleartext.
type ChannelsConfig struct {
	WhatsApp  MetaChannelConfig `json:"whatsapp,omitempty"`
	Messenger MetaChannelConfig `json:"messenger,omitempty"`
	Telegram  TelegramConfig    `json:"telegram,omitempty"`
	WebChat   WebChatConfig     `json:"webchat,omitempty"`
}

// MetaChannelConfig covers the Meta-family channels (WhatsApp Cloud API,
// Messenger). Signature verification is HMAC-SHA256 over the raw body
// with AppSecret; VerifyToken answers the subscription handshake.
type MetaChannelConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	AppSecret   string `json:"-"` // env only
	AccessToken string `json:"-"` // env only
	VerifyToken string `json:"-"` // env only
	PhoneNumberID string `json:"phone_number_id,omitempty"` // WhatsApp sender number ID
	PageID        string `json:"page_id,omitempty"`          // Messenger page
	APIBase       string `json:"api_base,omitempty"`         // override for tests
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"` // outbound rate limit (default 10)
}

// TelegramConfig configures the Telegram bot webhook.
// Inbound authenticity uses the shared-secret header
// X-Telegram-Bot-Api-Secret-Token set at setWebhook time.
type TelegramConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Token         string `json:"-"` // env only
	WebhookSecret string `json:"-"` // env only
	APIBase       string `json:"api_base,omitempty"` // override for tests
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"` // default 25 (Telegram caps ~30/s)
}

// WebChatConfig configures the website widget channel.
type WebChatConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	WidgetToken string `json:"-"` // env only; widget clients present it on connect
}

// ProvidersConfig holds AI generation provider credentials.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig is one provider's connection config.
type ProviderConfig struct {
	APIKey  string `json:"-"` // env only
	BaseURL string `json:"base_url,omitempty"`
}

// AIConfig configures response generation and context assembly.
type AIConfig struct {
	Provider           string  `json:"provider,omitempty"`             // "anthropic" (default) or "openai"
	FastModel          string  `json:"fast_model,omitempty"`           // default tier
	AdvancedModel      string  `json:"advanced_model,omitempty"`       // high-value customer tier
	MaxTokens          int     `json:"max_tokens,omitempty"`           // default 1024
	Temperature        float64 `json:"temperature,omitempty"`          // default 0.7
	HistoryWindow      int     `json:"history_window,omitempty"`       // max history turns in context (default 10)
	GenerationTimeout  string  `json:"generation_timeout,omitempty"`   // Go duration, default "20s"
	MaxDiscountPercent int     `json:"max_discount_percent,omitempty"` // discount ceiling in prompts (default 10)
	Persona            string  `json:"persona,omitempty"`              // tone/persona instructions
	BotMode            BotMode `json:"bot_mode,omitempty"`             // "auto" (default) or "human_only"
	FallbackMessage    string  `json:"fallback_message,omitempty"`
	CatalogLimit       int     `json:"catalog_limit,omitempty"` // products included in context (default 12)
}

// GenerationTimeoutDuration returns the parsed generation timeout with default.
func (a AIConfig) GenerationTimeoutDuration() time.Duration {
	if a.GenerationTimeout != "" {
		if v, err := time.ParseDuration(a.GenerationTimeout); err == nil && v > 0 {
			return v
		}
	}
	return 20 * time.Second
}

// AnalysisConfig holds the named thresholds of the analysis pipeline.
type AnalysisConfig struct {
	// EscalationScoreThreshold: scores below this force escalation.
	EscalationScoreThreshold float64 `json:"escalation_score_threshold,omitempty"` // default -0.5
	// DeepPassThreshold: scores below this trigger the deep model pass.
	DeepPassThreshold float64 `json:"deep_pass_threshold,omitempty"` // default -0.3
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // OTLP endpoint
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "storechat"
	Headers     map[string]string `json:"headers,omitempty"`
}

// Snapshot returns a copy of the runtime-mutable AI settings.
// The dispatch path reads these per message so hot reload takes effect
// without restart.
func (c *Config) Snapshot() AIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AI
}

// AnalysisSnapshot returns a copy of the analysis thresholds.
func (c *Config) AnalysisSnapshot() AnalysisConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Analysis
}

// ReplaceRuntime swaps the hot-reloadable sections from a freshly
// loaded config, preserving secrets that only exist in the running copy.
func (c *Config) ReplaceRuntime(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AI = src.AI
	c.Analysis = src.Analysis
	c.Gateway.AllowedOrigins = src.Gateway.AllowedOrigins
	c.Gateway.RateLimitRPM = src.Gateway.RateLimitRPM
}
