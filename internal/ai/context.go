package ai

import (
	"fmt"
	"strings"

	"github.com/storechat/storechat/internal/catalog"
	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/store"
)

// PromptInput is everything the prompt builder folds into one request.
type PromptInput struct {
	Persona            string
	Customer           *store.Customer
	Conversation       *store.Conversation
	History            []store.Message
	Products           []catalog.Product
	Cart               []catalog.CartItem
	MaxDiscountPercent float64
	HistoryWindow      int
}

// buildSystemPrompt assembles the system prompt: persona, store rules,
// customer profile, catalog slice and cart, plus the output contract.
func buildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	persona := in.Persona
	if persona == "" {
		persona = "You are a friendly and concise sales assistant for an online store."
	}
	b.WriteString(persona)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Answer only from the product data below. Never invent products, prices or stock.\n")
	fmt.Fprintf(&b, "- You may offer discounts up to %.0f%%. Never exceed that.\n", in.MaxDiscountPercent)
	b.WriteString("- Reply in the customer's language.\n")
	b.WriteString("- Keep replies short enough for a chat bubble.\n")

	if c := in.Customer; c != nil {
		b.WriteString("\nCustomer:\n")
		if c.DisplayName != "" {
			fmt.Fprintf(&b, "- name: %s\n", c.DisplayName)
		}
		if c.LoyaltyTier != "" {
			fmt.Fprintf(&b, "- loyalty tier: %s\n", c.LoyaltyTier)
		}
		if c.Segment != "" {
			fmt.Fprintf(&b, "- segment: %s\n", c.Segment)
		}
		fmt.Fprintf(&b, "- orders: %d, total spend: %.2f\n", c.OrderCount, c.TotalSpend)
	}

	if conv := in.Conversation; conv != nil && conv.Intent != "" {
		fmt.Fprintf(&b, "\nDetected intent: %s\n", conv.Intent)
	}

	if len(in.Products) > 0 {
		b.WriteString("\nProducts:\n")
		for _, p := range in.Products {
			stock := "in stock"
			if !p.InStock {
				stock = "out of stock"
			}
			fmt.Fprintf(&b, "- %s: %.2f %s (%s)", p.Name, p.Price, p.Currency, stock)
			if p.Description != "" {
				fmt.Fprintf(&b, " - %s", firstLine(p.Description))
			}
			b.WriteString("\n")
		}
	}

	if len(in.Cart) > 0 {
		b.WriteString("\nCustomer's cart:\n")
		for _, it := range in.Cart {
			fmt.Fprintf(&b, "- %dx %s (%.2f each)\n", it.Quantity, it.Name, it.Price)
		}
	}

	b.WriteString(`
Respond with only a JSON object:
{"reply": "message to the customer",
"intent": "detected intent",
"sentiment": "positive|neutral|negative",
"confidence": 0.0 to 1.0,
"quickReplies": ["up to 4 short suggested answers"],
"suggestedProducts": ["ids of up to 4 catalog products worth showing"],
"components": [{"type": "product_card", "title": "...", "payload": {"product_id": "...", "price": "..."}}],
"shouldHandoff": true|false,
"handoffReason": "why, if shouldHandoff"}`)

	return b.String()
}

// buildMessages converts stored history into model turns, newest last,
// bounded by the history window. Inbound turns are the user, everything the
// store sent (bot or human) is the assistant.
func buildMessages(history []store.Message, window int, incoming string) []providers.Message {
	if window <= 0 {
		window = 10
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	msgs := make([]providers.Message, 0, len(history)+1)
	for _, m := range history {
		role := "assistant"
		if m.Direction == store.DirectionInbound {
			role = "user"
		}
		// Models reject empty turns and consecutive same-role turns are
		// merged rather than dropped.
		if m.Content == "" {
			continue
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + m.Content
			continue
		}
		msgs = append(msgs, providers.Message{Role: role, Content: m.Content})
	}

	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
		msgs[n-1].Content += "\n" + incoming
	} else {
		msgs = append(msgs, providers.Message{Role: "user", Content: incoming})
	}
	// The first turn must be the user's.
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	return msgs
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
