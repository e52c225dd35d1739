// Package analysis classifies inbound customer messages: sentiment, intent
// and whether the conversation needs a human. A cheap lexical pass runs on
// every message; a deep LLM pass runs only when the lexical pass looks
// negative enough to be worth the cost.
package analysis

import "strings"

// Sentiment labels produced by both passes.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentHostile  = "hostile"
)

// Result is the outcome of analyzing a single inbound message.
type Result struct {
	Sentiment      string
	Score          float64 // [-1, 1], negative is bad
	Intent         string
	HumanRequested bool
	Hostile        bool
	Urgency        string // set by the deep pass, "" otherwise
	Emotions       []string
	Escalate       bool
	EscalateReason string
	Deep           bool // true when a deep pass produced this result
}

// Analyze runs the lexical pass over the message text.
func Analyze(text string) Result {
	lower := strings.ToLower(text)

	res := Result{
		Sentiment: SentimentNeutral,
		Intent:    detectIntent(lower),
	}

	var pos, neg int
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			pos++
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			neg++
		}
	}
	for _, kw := range hostileKeywords {
		if strings.Contains(lower, kw) {
			res.Hostile = true
			break
		}
	}
	for _, kw := range humanRequestKeywords {
		if strings.Contains(lower, kw) {
			res.HumanRequested = true
			break
		}
	}

	res.Score = clamp(float64(pos-neg)*0.25, -1, 1)
	switch {
	case res.Score > 0.2:
		res.Sentiment = SentimentPositive
	case res.Score < -0.2:
		res.Sentiment = SentimentNegative
	}

	// Hostile keywords override whatever the counts said.
	if res.Hostile {
		res.Sentiment = SentimentHostile
		if res.Score > -0.8 {
			res.Score = -0.8
		}
		res.Escalate = true
		res.EscalateReason = "hostile language detected"
	}

	return res
}

func detectIntent(lower string) string {
	for _, r := range intentRules {
		if r.pattern.MatchString(lower) {
			return r.intent
		}
	}
	if productInquiryHint.MatchString(lower) {
		return "product_inquiry"
	}
	return "browsing"
}

// Thresholds control when analysis results demand a human takeover.
type Thresholds struct {
	// EscalationScore: strictly below this, escalate immediately.
	EscalationScore float64
	// DeepPass: at or below this, the deep pass is worth running.
	DeepPass float64
}

// RequiresImmediateEscalation reports whether the result alone, before any
// conversation-level rules, requires a human.
func RequiresImmediateEscalation(res Result, th Thresholds) (bool, string) {
	if res.Hostile {
		return true, "hostile language detected"
	}
	if res.Escalate {
		return true, res.EscalateReason
	}
	if res.Score < th.EscalationScore {
		return true, "strongly negative sentiment"
	}
	if res.Urgency == "critical" {
		return true, "critical urgency"
	}
	return false, ""
}

// NeedsDeepPass reports whether the lexical result warrants the LLM pass.
func NeedsDeepPass(res Result, th Thresholds) bool {
	if res.Hostile {
		// Already a forced escalation, no need to spend tokens.
		return false
	}
	return res.Score <= th.DeepPass
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
