package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storechat/storechat/internal/catalog"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/store"
)

type stubProvider struct {
	text string
	err  error
	last providers.Request
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Generate(_ context.Context, req providers.Request) (*providers.Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &providers.Response{Text: s.text, Model: req.Model}, nil
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantText     string
		wantIntent   string
		wantHandoff  bool
		quickReplies int
		suggested    int
		components   int
	}{
		{
			name:       "contract json",
			raw:        `{"reply": "The jacket is 45 USD.", "intent": "price_inquiry", "sentiment": "neutral", "confidence": 0.9, "quickReplies": ["Add to cart", "See more"]}`,
			wantText:   "The jacket is 45 USD.",
			wantIntent: "price_inquiry",
			quickReplies: 2,
		},
		{
			name:       "json wrapped in prose",
			raw:        "Sure, here you go:\n{\"reply\": \"We ship in 2 days.\", \"intent\": \"shipping_inquiry\"}",
			wantText:   "We ship in 2 days.",
			wantIntent: "shipping_inquiry",
		},
		{
			name:       "plain text output",
			raw:        "We are open until 10pm.",
			wantText:   "We are open until 10pm.",
			wantIntent: "inquiry",
		},
		{
			name:        "model asks for handoff",
			raw:         `{"reply": "Let me get a colleague.", "shouldHandoff": true, "handoffReason": "billing dispute"}`,
			wantText:    "Let me get a colleague.",
			wantIntent:  "inquiry",
			wantHandoff: true,
		},
		{
			name:         "quick replies capped",
			raw:          `{"reply": "ok", "quickReplies": ["a", "b", "c", "d", "e", "f"]}`,
			wantText:     "ok",
			wantIntent:   "inquiry",
			quickReplies: 4,
		},
		{
			name:       "suggested products and components",
			raw:        `{"reply": "Two options for you.", "suggestedProducts": ["p1", "p2"], "components": [{"type": "product_card", "title": "Linen Jacket", "payload": {"product_id": "p1", "price": 45}}]}`,
			wantText:   "Two options for you.",
			wantIntent: "inquiry",
			suggested:  2,
			components: 1,
		},
		{
			name:       "malformed components keep the reply",
			raw:        `{"reply": "Here you go.", "suggestedProducts": "p1", "components": ["oops"]}`,
			wantText:   "Here you go.",
			wantIntent: "inquiry",
		},
		{
			name:       "components without a type dropped",
			raw:        `{"reply": "ok", "components": [{"title": "no type"}, {"type": "carousel"}]}`,
			wantText:   "ok",
			wantIntent: "inquiry",
			components: 1,
		},
		{
			name:       "suggested products capped",
			raw:        `{"reply": "ok", "suggestedProducts": ["a", "b", "c", "d", "e", "f"]}`,
			wantText:   "ok",
			wantIntent: "inquiry",
			suggested:  4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := parseReply(tt.raw)
			if r.Text != tt.wantText {
				t.Errorf("text = %q, want %q", r.Text, tt.wantText)
			}
			if r.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", r.Intent, tt.wantIntent)
			}
			if r.ShouldHandoff != tt.wantHandoff {
				t.Errorf("shouldHandoff = %v, want %v", r.ShouldHandoff, tt.wantHandoff)
			}
			if len(r.QuickReplies) != tt.quickReplies {
				t.Errorf("quickReplies = %d, want %d", len(r.QuickReplies), tt.quickReplies)
			}
			if len(r.SuggestedProducts) != tt.suggested {
				t.Errorf("suggestedProducts = %d, want %d", len(r.SuggestedProducts), tt.suggested)
			}
			if len(r.Components) != tt.components {
				t.Errorf("components = %d, want %d", len(r.Components), tt.components)
			}
			if r.Confidence <= 0 || r.Confidence > 1 {
				t.Errorf("confidence %v out of (0, 1]", r.Confidence)
			}
		})
	}
}

func TestSelectModel(t *testing.T) {
	aiCfg := config.AIConfig{FastModel: "fast", AdvancedModel: "advanced"}

	tests := []struct {
		name     string
		customer *store.Customer
		want     string
	}{
		{"new customer", &store.Customer{}, "fast"},
		{"vip segment", &store.Customer{Segment: "vip"}, "advanced"},
		{"gold tier", &store.Customer{LoyaltyTier: "Gold"}, "advanced"},
		{"big spender", &store.Customer{TotalSpend: 1500}, "advanced"},
		{"frequent buyer", &store.Customer{OrderCount: 12}, "advanced"},
		{"regular", &store.Customer{TotalSpend: 120, OrderCount: 2}, "fast"},
		{"nil customer", nil, "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectModel(tt.customer, aiCfg); got != tt.want {
				t.Errorf("SelectModel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	history := []store.Message{
		{Direction: store.DirectionInbound, Content: "hi"},
		{Direction: store.DirectionOutbound, Content: "hello!"},
		{Direction: store.DirectionInbound, Content: "price of the jacket?"},
		{Direction: store.DirectionOutbound, Content: "45 USD"},
	}
	msgs := buildMessages(history, 10, "do you ship to Riyadh?")

	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("first role = %q, want user", msgs[0].Role)
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "do you ship to Riyadh?" {
		t.Errorf("last turn = %+v", last)
	}
}

func TestBuildMessagesWindow(t *testing.T) {
	var history []store.Message
	for i := 0; i < 30; i++ {
		dir := store.DirectionInbound
		if i%2 == 1 {
			dir = store.DirectionOutbound
		}
		history = append(history, store.Message{Direction: dir, Content: "turn"})
	}
	msgs := buildMessages(history, 6, "latest")
	// 6 history turns plus the incoming message, minus any leading
	// assistant turns trimmed to keep the user first.
	if len(msgs) > 7 {
		t.Errorf("got %d messages, window not applied", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("first role = %q, want user", msgs[0].Role)
	}
}

func TestBuildSystemPromptSections(t *testing.T) {
	in := PromptInput{
		Persona:            "You are the Noor boutique assistant.",
		Customer:           &store.Customer{DisplayName: "Sara", LoyaltyTier: "gold", OrderCount: 4, TotalSpend: 320},
		MaxDiscountPercent: 15,
	}
	prompt := buildSystemPrompt(in)

	for _, want := range []string{"Noor boutique", "Sara", "gold", "15%", `"shouldHandoff"`, `"suggestedProducts"`, `"components"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRespondFallbackOnProviderError(t *testing.T) {
	cfg := config.Default()
	cfg.AI.FallbackMessage = "One moment, connecting you to our team."
	p := &stubProvider{err: errors.New("upstream down")}
	o := New(p, cfg, nil, nil, nil)

	reply := o.Respond(context.Background(), Input{Text: "hello"})

	if !reply.Fallback {
		t.Error("expected fallback reply")
	}
	if reply.Text != cfg.AI.FallbackMessage {
		t.Errorf("text = %q, want fallback message", reply.Text)
	}
	if !reply.ShouldHandoff {
		t.Error("fallback must request handoff")
	}
	if reply.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", reply.Confidence)
	}
}

type stubCatalog struct {
	hits      []catalog.Product
	searchErr error
	defaults  []catalog.Product
	lastQuery string
}

func (s *stubCatalog) Products(_ context.Context, _ int) ([]catalog.Product, error) {
	return s.defaults, nil
}

func (s *stubCatalog) Search(_ context.Context, query string, _ int) ([]catalog.Product, error) {
	s.lastQuery = query
	return s.hits, s.searchErr
}

func TestRespondSearchesCatalogByMessage(t *testing.T) {
	defaults := []catalog.Product{{ID: "p2", Name: "Silk Scarf", Price: 30, Currency: "USD", InStock: true}}

	tests := []struct {
		name        string
		cat         *stubCatalog
		wantProduct string
	}{
		{
			name: "search hit wins",
			cat: &stubCatalog{
				hits:     []catalog.Product{{ID: "p1", Name: "Linen Jacket", Price: 45, Currency: "USD", InStock: true}},
				defaults: defaults,
			},
			wantProduct: "Linen Jacket",
		},
		{
			name:        "no hits falls back to listing",
			cat:         &stubCatalog{defaults: defaults},
			wantProduct: "Silk Scarf",
		},
		{
			name:        "search error falls back to listing",
			cat:         &stubCatalog{searchErr: errors.New("db down"), defaults: defaults},
			wantProduct: "Silk Scarf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{text: `{"reply": "ok"}`}
			o := New(p, config.Default(), tt.cat, nil, nil)

			o.Respond(context.Background(), Input{Text: "do you have the linen jacket?"})

			if tt.cat.lastQuery != "do you have the linen jacket?" {
				t.Errorf("search query = %q", tt.cat.lastQuery)
			}
			if !strings.Contains(p.last.System, tt.wantProduct) {
				t.Errorf("prompt missing %q", tt.wantProduct)
			}
		})
	}
}

func TestRespondUsesAdvancedModelForVIP(t *testing.T) {
	cfg := config.Default()
	p := &stubProvider{text: `{"reply": "Welcome back!"}`}
	o := New(p, cfg, nil, nil, nil)

	reply := o.Respond(context.Background(), Input{
		Customer: &store.Customer{Segment: "vip"},
		Text:     "hi",
	})

	if p.last.Model != cfg.AI.AdvancedModel {
		t.Errorf("model = %q, want %q", p.last.Model, cfg.AI.AdvancedModel)
	}
	if reply.Text != "Welcome back!" {
		t.Errorf("text = %q", reply.Text)
	}
}
