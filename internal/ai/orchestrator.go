// Package ai turns an inbound customer message plus store context into the
// bot's reply.
package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/storechat/storechat/internal/catalog"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/store"
)

// Tier thresholds for routing a customer to the advanced model.
const (
	highValueSpend  = 1000.0
	highValueOrders = 10
)

// Orchestrator generates bot replies. It reads the AI config snapshot per
// request so config reloads apply without restart.
type Orchestrator struct {
	provider providers.Provider
	cfg      *config.Config
	catalog  catalog.Provider
	cart     catalog.CartProvider
	logger   *slog.Logger
}

// New builds an orchestrator. catalog and cart may be nil when no product
// database is wired; prompts then omit those sections.
func New(p providers.Provider, cfg *config.Config, cat catalog.Provider, cart catalog.CartProvider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{provider: p, cfg: cfg, catalog: cat, cart: cart, logger: logger}
}

// Input is one reply request.
type Input struct {
	Customer     *store.Customer
	Conversation *store.Conversation
	History      []store.Message
	Text         string
}

// SelectModel picks the model tier for the customer. High-value customers
// get the advanced model, everyone else the fast one.
func SelectModel(c *store.Customer, ai config.AIConfig) string {
	if c != nil && isHighValue(c) && ai.AdvancedModel != "" {
		return ai.AdvancedModel
	}
	return ai.FastModel
}

func isHighValue(c *store.Customer) bool {
	if c.Segment == "vip" || c.Segment == "high_value" {
		return true
	}
	switch strings.ToLower(c.LoyaltyTier) {
	case "gold", "platinum":
		return true
	}
	return c.TotalSpend >= highValueSpend || c.OrderCount >= highValueOrders
}

// Respond generates the bot reply for in. It never returns an error: when
// generation fails or times out the reply is the configured fallback with
// ShouldHandoff set, so the customer always hears something and a human
// picks up.
func (o *Orchestrator) Respond(ctx context.Context, in Input) Reply {
	aiCfg := o.cfg.Snapshot()

	prompt := PromptInput{
		Persona:            aiCfg.Persona,
		Customer:           in.Customer,
		Conversation:       in.Conversation,
		History:            in.History,
		MaxDiscountPercent: float64(aiCfg.MaxDiscountPercent),
		HistoryWindow:      aiCfg.HistoryWindow,
	}
	if o.catalog != nil {
		prompt.Products = o.promptProducts(ctx, in.Text, aiCfg.CatalogLimit)
	}
	if o.cart != nil && in.Customer != nil {
		items, err := o.cart.Cart(ctx, in.Customer.ID.String())
		if err != nil {
			o.logger.Warn("cart unavailable for prompt", "error", err)
		}
		prompt.Cart = items
	}

	model := SelectModel(in.Customer, aiCfg)

	genCtx, cancel := context.WithTimeout(ctx, aiCfg.GenerationTimeoutDuration())
	defer cancel()

	resp, err := o.provider.Generate(genCtx, providers.Request{
		Model:       model,
		System:      buildSystemPrompt(prompt),
		Messages:    buildMessages(in.History, aiCfg.HistoryWindow, in.Text),
		MaxTokens:   aiCfg.MaxTokens,
		Temperature: aiCfg.Temperature,
	})
	if err != nil {
		o.logger.Error("generation failed", "model", model, "error", err)
		return o.fallback(aiCfg)
	}

	reply := parseReply(resp.Text)
	reply.Model = resp.Model
	if reply.Model == "" {
		reply.Model = model
	}
	return reply
}

// promptProducts prefers products matching the customer's message; when the
// text matches nothing the storefront's default listing fills the prompt
// instead, so the model always sees some inventory.
func (o *Orchestrator) promptProducts(ctx context.Context, text string, limit int) []catalog.Product {
	if q := strings.TrimSpace(text); q != "" {
		products, err := o.catalog.Search(ctx, q, limit)
		if err != nil {
			o.logger.Warn("catalog search failed", "error", err)
		} else if len(products) > 0 {
			return products
		}
	}
	products, err := o.catalog.Products(ctx, limit)
	if err != nil {
		o.logger.Warn("catalog unavailable for prompt", "error", err)
	}
	return products
}

func (o *Orchestrator) fallback(aiCfg config.AIConfig) Reply {
	return Reply{
		Text:          aiCfg.FallbackMessage,
		Intent:        "inquiry",
		Sentiment:     "neutral",
		Confidence:    0,
		ShouldHandoff: true,
		HandoffReason: "assistant unavailable",
		Fallback:      true,
	}
}
