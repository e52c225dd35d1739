package dispatch

import "net/http"

// Status is the internal outcome of processing one inbound message. It is
// independent of the webhook acknowledgment: providers that re-deliver on
// non-200 get their 200 as soon as the request authenticates, whatever
// happens inside.
type Status string

const (
	// StatusAccepted: stored and routed (bot replied, or parked for a human).
	StatusAccepted Status = "accepted"
	// StatusRejected: authenticated but unprocessable (malformed payload,
	// storage failure).
	StatusRejected Status = "rejected"
	// StatusDuplicate: already processed; the previous outcome stands.
	StatusDuplicate Status = "duplicate"
	// StatusDropped: nothing to process (status callback, unknown channel,
	// failed authentication).
	StatusDropped Status = "dropped"
)

// Result is the two-layer outcome of a webhook delivery: Ack is what the
// provider sees, Status what actually happened.
type Result struct {
	Ack            int    `json:"-"`
	Status         Status `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func rejected(reason string) Result {
	return Result{Ack: http.StatusOK, Status: StatusRejected, Reason: reason}
}
func dropped(ack int, reason string) Result {
	return Result{Ack: ack, Status: StatusDropped, Reason: reason}
}
