package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 8790 {
		t.Errorf("default port = %d", cfg.Gateway.Port)
	}
	if cfg.AI.BotMode != BotModeAuto {
		t.Errorf("default bot mode = %q", cfg.AI.BotMode)
	}
	if cfg.Dedupe.TTLDuration().Hours() != 24 {
		t.Errorf("default dedupe ttl = %v", cfg.Dedupe.TTLDuration())
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// gateway listener
		gateway: {port: 9000},
		ai: {bot_mode: "human_only", persona: "friendly outdoor-gear expert"},
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.AI.BotMode != BotModeHumanOnly {
		t.Errorf("bot mode = %q", cfg.AI.BotMode)
	}
	// Unset sections keep their defaults.
	if cfg.AI.MaxTokens != 1024 {
		t.Errorf("max tokens = %d, want default 1024", cfg.AI.MaxTokens)
	}
}

func TestEnvOverridesAndAutoEnable(t *testing.T) {
	t.Setenv("STORECHAT_TELEGRAM_TOKEN", "123:env-token")
	t.Setenv("STORECHAT_POSTGRES_DSN", "postgres://env/db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "123:env-token" {
		t.Errorf("telegram token not overlaid: %q", cfg.Channels.Telegram.Token)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram not auto-enabled by env credentials")
	}
	if cfg.Database.PostgresDSN != "postgres://env/db" {
		t.Errorf("dsn not overlaid: %q", cfg.Database.PostgresDSN)
	}
}

func TestMaskedCopyStripsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "dash-secret"
	cfg.Channels.Telegram.Token = "123:bot-secret"
	cfg.Providers.Anthropic.APIKey = "sk-ant-secret"
	cfg.Gateway.Port = 9999

	masked := cfg.MaskedCopy()
	data, err := json.Marshal(masked)
	if err != nil {
		t.Fatalf("marshal masked: %v", err)
	}
	for _, secret := range []string{"dash-secret", "bot-secret", "sk-ant-secret"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("masked config contains %q", secret)
		}
	}
	if masked.Gateway.Port != 9999 {
		t.Errorf("non-secret setting lost: port = %d", masked.Gateway.Port)
	}
}

func TestReplaceRuntimePreservesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "keep-me"
	cfg.AI.Persona = "old persona"

	fresh := Default()
	fresh.AI.Persona = "new persona"
	fresh.AI.BotMode = BotModeHumanOnly
	fresh.Analysis.DeepPassThreshold = -0.1

	cfg.ReplaceRuntime(fresh)

	snap := cfg.Snapshot()
	if snap.Persona != "new persona" || snap.BotMode != BotModeHumanOnly {
		t.Errorf("runtime sections not replaced: %+v", snap)
	}
	if cfg.AnalysisSnapshot().DeepPassThreshold != -0.1 {
		t.Errorf("analysis thresholds not replaced")
	}
	if cfg.Gateway.Token != "keep-me" {
		t.Errorf("secret lost on reload: %q", cfg.Gateway.Token)
	}
}
