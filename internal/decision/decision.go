// Package decision decides what happens to an inbound message after
// analysis: the bot answers, the message is stored for a human, or the
// conversation is handed off.
package decision

import (
	"github.com/storechat/storechat/internal/analysis"
	"github.com/storechat/storechat/internal/store"
)

// Action is what the pipeline does next.
type Action int

const (
	// Continue: the bot generates and sends a reply.
	Continue Action = iota
	// StoreOnly: persist the message, never invoke the bot.
	StoreOnly
	// HandOff: move the conversation to a human, then persist only.
	HandOff
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case StoreOnly:
		return "store_only"
	case HandOff:
		return "hand_off"
	default:
		return "unknown"
	}
}

// Rules are the knobs the decision depends on.
type Rules struct {
	Thresholds analysis.Thresholds
	HumanOnly  bool // bot never replies, everything waits for a human
}

// Outcome is a decision plus the reason when it hands off.
type Outcome struct {
	Action Action
	Reason string
}

// Decide applies the routing rules in order. The order matters: a
// conversation already with a human must never bounce back to the bot, and
// an explicit request for a human wins over everything the analyzer says,
// including positive sentiment.
func Decide(res analysis.Result, convo *store.Conversation, rules Rules) Outcome {
	if convo.State == store.StateActiveHuman {
		return Outcome{Action: StoreOnly}
	}
	if res.HumanRequested || res.Intent == "human_request" {
		return Outcome{Action: HandOff, Reason: "customer requested a human"}
	}
	if escalate, reason := analysis.RequiresImmediateEscalation(res, rules.Thresholds); escalate {
		return Outcome{Action: HandOff, Reason: reason}
	}
	if rules.HumanOnly {
		return Outcome{Action: StoreOnly}
	}
	return Outcome{Action: Continue}
}
