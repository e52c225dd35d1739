package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/textutil"
)

const deepPassTimeout = 10 * time.Second

const deepSystemPrompt = `You analyze a customer message from an online store chat.
Respond with only a JSON object, no other text:
{"sentiment": "positive|neutral|negative|hostile", "score": -1.0 to 1.0,
"emotions": ["..."], "urgency": "low|medium|high|critical",
"shouldEscalate": true|false, "escalationReason": "..."}`

type deepVerdict struct {
	Sentiment        string   `json:"sentiment"`
	Score            float64  `json:"score"`
	Emotions         []string `json:"emotions"`
	Urgency          string   `json:"urgency"`
	ShouldEscalate   bool     `json:"shouldEscalate"`
	EscalationReason string   `json:"escalationReason"`
}

// DeepAnalyzer refines lexical results with an LLM when they look negative.
type DeepAnalyzer struct {
	provider providers.Provider
	model    string
	logger   *slog.Logger
}

// NewDeepAnalyzer builds the deep pass over the given provider and model.
func NewDeepAnalyzer(p providers.Provider, model string, logger *slog.Logger) *DeepAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepAnalyzer{provider: p, model: model, logger: logger}
}

// Refine runs the deep pass over text, starting from the lexical result.
// Any failure returns the lexical result unchanged: the cheap pass is always
// a usable answer.
func (d *DeepAnalyzer) Refine(ctx context.Context, text string, lexical Result) Result {
	if d == nil || d.provider == nil {
		return lexical
	}

	ctx, cancel := context.WithTimeout(ctx, deepPassTimeout)
	defer cancel()

	resp, err := d.provider.Generate(ctx, providers.Request{
		Model:     d.model,
		System:    deepSystemPrompt,
		Messages:  []providers.Message{{Role: "user", Content: text}},
		MaxTokens: 300,
	})
	if err != nil {
		d.logger.Warn("deep sentiment pass failed, keeping lexical result", "error", err)
		return lexical
	}

	verdict, err := parseDeepVerdict(resp.Text)
	if err != nil {
		d.logger.Warn("deep sentiment pass returned unusable output", "error", err)
		return lexical
	}

	refined := lexical
	refined.Deep = true
	refined.Sentiment = verdict.Sentiment
	refined.Score = clamp(verdict.Score, -1, 1)
	refined.Emotions = verdict.Emotions
	refined.Urgency = verdict.Urgency
	if verdict.Sentiment == SentimentHostile {
		refined.Hostile = true
		if refined.Score > -0.8 {
			refined.Score = -0.8
		}
	}
	if verdict.ShouldEscalate {
		refined.Escalate = true
		refined.EscalateReason = verdict.EscalationReason
		if refined.EscalateReason == "" {
			refined.EscalateReason = "model flagged for escalation"
		}
	}
	return refined
}

func parseDeepVerdict(text string) (*deepVerdict, error) {
	obj, ok := textutil.ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in output")
	}
	var v deepVerdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	switch v.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentHostile:
	default:
		return nil, fmt.Errorf("unknown sentiment %q", v.Sentiment)
	}
	return &v, nil
}
