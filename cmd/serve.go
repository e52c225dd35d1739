package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storechat/storechat/internal/ai"
	"github.com/storechat/storechat/internal/analysis"
	"github.com/storechat/storechat/internal/catalog"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/channels/messenger"
	"github.com/storechat/storechat/internal/channels/telegram"
	"github.com/storechat/storechat/internal/channels/webchat"
	"github.com/storechat/storechat/internal/channels/whatsapp"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/dedupe"
	"github.com/storechat/storechat/internal/dispatch"
	"github.com/storechat/storechat/internal/gateway"
	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/realtime"
	"github.com/storechat/storechat/internal/store"
	"github.com/storechat/storechat/internal/store/memory"
	"github.com/storechat/storechat/internal/store/pg"
	"github.com/storechat/storechat/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the StoreChat gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	// Conversation store: Postgres when a DSN is configured, in-memory
	// otherwise. Memory mode loses everything on restart.
	var (
		st  store.ConversationStore
		cat catalog.Provider
		crt catalog.CartProvider
	)
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		db, err := pg.OpenDB(dsn)
		if err != nil {
			slog.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		st = pg.New(db)
		pgCat := catalog.NewPGStore(db)
		cat = pgCat
		crt = pgCat
		slog.Info("conversation store ready", "backend", "postgres")
	} else {
		st = memory.New()
		slog.Warn("no STORECHAT_POSTGRES_DSN set, using in-memory store")
	}

	cache, err := dedupe.Open(cfg.Dedupe)
	if err != nil {
		slog.Error("dedupe cache setup failed", "backend", cfg.Dedupe.Backend, "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("AI provider setup failed", "provider", cfg.AI.Provider, "error", err)
		os.Exit(1)
	}
	slog.Info("AI provider ready", "provider", provider.Name(), "fast_model", cfg.AI.FastModel, "advanced_model", cfg.AI.AdvancedModel)

	deep := analysis.NewDeepAnalyzer(provider, cfg.AI.FastModel, logger)
	bot := ai.New(provider, cfg, cat, crt, logger)

	registry := channels.NewRegistry()
	widget := registerChannels(registry, cfg)
	if len(registry.Names()) == 0 {
		slog.Error("no channels enabled, nothing to serve")
		os.Exit(1)
	}
	slog.Info("channels registered", "channels", registry.Names())

	hub := realtime.NewHub(logger)
	coord := dispatch.New(st, cache, registry, bot, deep, cfg, hub, logger)

	// Hot reload of the runtime config sections (AI, analysis thresholds,
	// gateway origins). Secrets stay env-only and are never reloaded.
	go func() {
		if err := config.Watch(ctx, cfgPath, cfg); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	server := gateway.NewServer(cfg, coord, hub, widget, st, logger)
	slog.Info("storechat gateway starting",
		"version", Version,
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"bot_mode", cfg.AI.BotMode,
	)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// buildProvider resolves the configured generation provider and its key.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.AI.Provider
	if name == "" {
		name = "anthropic"
	}
	var pc config.ProviderConfig
	switch name {
	case "openai":
		pc = cfg.Providers.OpenAI
	default:
		pc = cfg.Providers.Anthropic
	}
	return providers.New(name, pc.APIKey, pc.BaseURL)
}

// registerChannels wires every enabled channel adapter. Returns the
// webchat adapter separately so the gateway can serve its socket route.
func registerChannels(registry *channels.Registry, cfg *config.Config) *webchat.Adapter {
	if cfg.Channels.WhatsApp.Enabled {
		registry.Register(whatsapp.New(cfg.Channels.WhatsApp))
	}
	if cfg.Channels.Messenger.Enabled {
		registry.Register(messenger.New(cfg.Channels.Messenger))
	}
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			slog.Error("telegram setup failed", "error", err)
			os.Exit(1)
		}
		registry.Register(tg)
	}
	var widget *webchat.Adapter
	if cfg.Channels.WebChat.Enabled {
		widget = webchat.New(cfg.Channels.WebChat)
		registry.Register(widget)
	}
	return widget
}
