package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8790,
			RateLimitRPM: 120,
		},
		Dedupe: DedupeConfig{
			Backend: "memory",
			TTL:     "24h",
		},
		AI: AIConfig{
			Provider:           "anthropic",
			FastModel:          "claude-haiku-4-5",
			AdvancedModel:      "claude-sonnet-4-5",
			MaxTokens:          1024,
			Temperature:        0.7,
			HistoryWindow:      10,
			GenerationTimeout:  "20s",
			MaxDiscountPercent: 10,
			BotMode:            BotModeAuto,
			FallbackMessage:    "Thanks for reaching out! One of our team members will be with you shortly.",
			CatalogLimit:       12,
		},
		Analysis: AnalysisConfig{
			EscalationScoreThreshold: -0.5,
			DeepPassThreshold:        -0.3,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "storechat",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
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
// All secrets come from env only; env values win over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("STORECHAT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("STORECHAT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("STORECHAT_REDIS_PASSWORD", &c.Dedupe.RedisPass)

	envStr("STORECHAT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("STORECHAT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)

	envStr("STORECHAT_WHATSAPP_APP_SECRET", &c.Channels.WhatsApp.AppSecret)
	envStr("STORECHAT_WHATSAPP_ACCESS_TOKEN", &c.Channels.WhatsApp.AccessToken)
	envStr("STORECHAT_WHATSAPP_VERIFY_TOKEN", &c.Channels.WhatsApp.VerifyToken)
	envStr("STORECHAT_MESSENGER_APP_SECRET", &c.Channels.Messenger.AppSecret)
	envStr("STORECHAT_MESSENGER_ACCESS_TOKEN", &c.Channels.Messenger.AccessToken)
	envStr("STORECHAT_MESSENGER_VERIFY_TOKEN", &c.Channels.Messenger.VerifyToken)
	envStr("STORECHAT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("STORECHAT_TELEGRAM_WEBHOOK_SECRET", &c.Channels.Telegram.WebhookSecret)
	envStr("STORECHAT_WEBCHAT_WIDGET_TOKEN", &c.Channels.WebChat.WidgetToken)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.WhatsApp.AppSecret != "" && c.Channels.WhatsApp.AccessToken != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.Messenger.AppSecret != "" && c.Channels.Messenger.AccessToken != "" {
		c.Channels.Messenger.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.WebChat.WidgetToken != "" {
		c.Channels.WebChat.Enabled = true
	}

	envStr("STORECHAT_HOST", &c.Gateway.Host)
	if v := os.Getenv("STORECHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("STORECHAT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("STORECHAT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("STORECHAT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("STORECHAT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// MaskedCopy returns a deep copy safe to expose over the dashboard
// config endpoint. Secrets carry `json:"-"` tags, so the marshal
// round-trip strips every one of them; only non-secret settings survive.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	return cp
}
