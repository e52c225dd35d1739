package ai

import (
	"encoding/json"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/textutil"
)

const (
	maxQuickReplies      = 4
	maxSuggestedProducts = 4
	maxComponents        = 3
)

// Reply is the bot's structured answer.
type Reply struct {
	Text              string          `json:"reply"`
	Intent            string          `json:"intent"`
	Sentiment         string          `json:"sentiment"`
	Confidence        float64         `json:"confidence"`
	QuickReplies      []string        `json:"quickReplies"`
	SuggestedProducts []string        `json:"suggestedProducts"`
	Components        []bus.Component `json:"components"`
	ShouldHandoff     bool            `json:"shouldHandoff"`
	HandoffReason     string          `json:"handoffReason"`
	Model             string          `json:"-"`
	Fallback          bool            `json:"-"`
}

// parseReply decodes the model output into a Reply. Output that is not the
// JSON contract is still usable: the raw text becomes the reply with
// defaulted metadata, because a slightly off-contract answer beats no answer.
func parseReply(raw string) Reply {
	r := Reply{
		Intent:     "inquiry",
		Sentiment:  "neutral",
		Confidence: 0.5,
	}

	obj, ok := textutil.ExtractJSONObject(raw)
	if !ok {
		r.Text = raw
		return r
	}
	// The decorative arrays stay raw here: a model that botches a product
	// card must not cost us the reply text around it.
	var decoded struct {
		Text              string          `json:"reply"`
		Intent            string          `json:"intent"`
		Sentiment         string          `json:"sentiment"`
		Confidence        float64         `json:"confidence"`
		QuickReplies      []string        `json:"quickReplies"`
		SuggestedProducts json.RawMessage `json:"suggestedProducts"`
		Components        json.RawMessage `json:"components"`
		ShouldHandoff     bool            `json:"shouldHandoff"`
		HandoffReason     string          `json:"handoffReason"`
	}
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil || decoded.Text == "" {
		r.Text = raw
		return r
	}

	r = Reply{
		Text:          decoded.Text,
		Intent:        decoded.Intent,
		Sentiment:     decoded.Sentiment,
		Confidence:    decoded.Confidence,
		QuickReplies:  decoded.QuickReplies,
		ShouldHandoff: decoded.ShouldHandoff,
		HandoffReason: decoded.HandoffReason,
	}
	if r.Intent == "" {
		r.Intent = "inquiry"
	}
	if r.Sentiment == "" {
		r.Sentiment = "neutral"
	}
	if r.Confidence <= 0 || r.Confidence > 1 {
		r.Confidence = 0.5
	}
	if len(r.QuickReplies) > maxQuickReplies {
		r.QuickReplies = r.QuickReplies[:maxQuickReplies]
	}
	r.SuggestedProducts = parseSuggestedProducts(decoded.SuggestedProducts)
	r.Components = parseComponents(decoded.Components)
	return r
}

func parseSuggestedProducts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, id)
		if len(out) == maxSuggestedProducts {
			break
		}
	}
	return out
}

func parseComponents(raw json.RawMessage) []bus.Component {
	if len(raw) == 0 {
		return nil
	}
	var comps []bus.Component
	if err := json.Unmarshal(raw, &comps); err != nil {
		return nil
	}
	var out []bus.Component
	for _, c := range comps {
		if c.Type == "" {
			continue
		}
		out = append(out, c)
		if len(out) == maxComponents {
			break
		}
	}
	return out
}
