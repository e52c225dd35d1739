package analysis

import "testing"

func TestAnalyzeSentiment(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		sentiment string
		hostile   bool
		escalate  bool
	}{
		{"gratitude", "thanks, this is perfect!", SentimentPositive, false, false},
		{"plain question", "do you ship on fridays", SentimentNeutral, false, false},
		{"frustrated", "this is terrible, my order is broken and late", SentimentNegative, false, false},
		{"accusation english", "you are scammers, I want my money", SentimentHostile, true, true},
		{"accusation arabic", "انتو نصابين ابغى فلوسي", SentimentHostile, true, true},
		{"arabic praise", "شكرا لكم المنتج ممتاز", SentimentPositive, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(tt.text)
			if res.Sentiment != tt.sentiment {
				t.Errorf("sentiment = %q, want %q", res.Sentiment, tt.sentiment)
			}
			if res.Hostile != tt.hostile {
				t.Errorf("hostile = %v, want %v", res.Hostile, tt.hostile)
			}
			if res.Escalate != tt.escalate {
				t.Errorf("escalate = %v, want %v", res.Escalate, tt.escalate)
			}
		})
	}
}

func TestAnalyzeHostileForcesScore(t *testing.T) {
	// Positive words must not soften a hostile message.
	res := Analyze("thanks for nothing, نصب pure نصب, great job scammers")
	if res.Sentiment != SentimentHostile {
		t.Fatalf("sentiment = %q, want hostile", res.Sentiment)
	}
	if res.Score > -0.8 {
		t.Errorf("score = %v, want <= -0.8", res.Score)
	}
}

func TestAnalyzeScoreBounds(t *testing.T) {
	res := Analyze("great great awesome perfect love amazing excellent wonderful nice helpful")
	if res.Score > 1 || res.Score < -1 {
		t.Errorf("score %v out of [-1, 1]", res.Score)
	}
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text   string
		intent string
	}{
		{"hi there", "greeting"},
		{"how much is the blue jacket?", "price_inquiry"},
		{"where is my order #1234", "order_status"},
		{"do you have this in stock?", "availability"},
		{"I want to speak to a manager", "human_request"},
		{"add it to my cart", "cart_action"},
		{"I'll take it, let me pay", "checkout"},
		{"i want a refund", "return_refund"},
		{"is this waterproof?", "product_inquiry"},
		{"هل هذا متوفر؟", "availability"},
		{"just looking around", "browsing"},
	}
	for _, tt := range tests {
		t.Run(tt.intent+"/"+tt.text, func(t *testing.T) {
			res := Analyze(tt.text)
			if res.Intent != tt.intent {
				t.Errorf("Analyze(%q).Intent = %q, want %q", tt.text, res.Intent, tt.intent)
			}
		})
	}
}

func TestRequiresImmediateEscalation(t *testing.T) {
	th := Thresholds{EscalationScore: -0.5, DeepPass: -0.3}

	tests := []struct {
		name string
		res  Result
		want bool
	}{
		{"hostile", Result{Hostile: true, Score: -0.9}, true},
		{"very negative", Result{Sentiment: SentimentNegative, Score: -0.6}, true},
		{"exactly at threshold", Result{Sentiment: SentimentNegative, Score: -0.5}, false},
		{"just below threshold", Result{Sentiment: SentimentNegative, Score: -0.51}, true},
		{"mildly negative", Result{Sentiment: SentimentNegative, Score: -0.3}, false},
		{"critical urgency", Result{Sentiment: SentimentNeutral, Urgency: "critical"}, true},
		{"neutral", Result{Sentiment: SentimentNeutral}, false},
		{"deep flagged", Result{Escalate: true, EscalateReason: "threats"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := RequiresImmediateEscalation(tt.res, th)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if got && reason == "" {
				t.Error("escalation without a reason")
			}
		})
	}
}

func TestNeedsDeepPass(t *testing.T) {
	th := Thresholds{EscalationScore: -0.5, DeepPass: -0.3}

	if NeedsDeepPass(Result{Hostile: true, Score: -0.9}, th) {
		t.Error("hostile message should skip the deep pass")
	}
	if !NeedsDeepPass(Result{Score: -0.4}, th) {
		t.Error("negative message should get the deep pass")
	}
	if NeedsDeepPass(Result{Score: 0.1}, th) {
		t.Error("positive message should skip the deep pass")
	}
}
