package analysis

import "testing"

func TestParseDeepVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		score   float64
	}{
		{
			name:  "clean json",
			text:  `{"sentiment": "negative", "score": -0.6, "emotions": ["anger"], "urgency": "high", "shouldEscalate": true, "escalationReason": "threat to leave"}`,
			score: -0.6,
		},
		{
			name:  "fenced json",
			text:  "Here is my analysis:\n```json\n{\"sentiment\": \"neutral\", \"score\": 0.0, \"urgency\": \"low\", \"shouldEscalate\": false}\n```",
			score: 0,
		},
		{
			name:    "no json",
			text:    "the customer seems upset",
			wantErr: true,
		},
		{
			name:    "bad sentiment label",
			text:    `{"sentiment": "furious", "score": -0.9}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseDeepVerdict(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDeepVerdict: %v", err)
			}
			if v.Score != tt.score {
				t.Errorf("score = %v, want %v", v.Score, tt.score)
			}
		})
	}
}
