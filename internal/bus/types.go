// Package bus defines the normalized message types exchanged between
// channel adapters and the dispatch coordinator, plus the event
// publisher contract used for realtime dashboard broadcast.
package bus

// InboundMessage is a channel-agnostic inbound customer message.
// Adapters produce it from raw webhook payloads; the coordinator never
// sees provider wire formats.
type InboundMessage struct {
	Channel             string            `json:"channel"`
	ExternalCustomerID  string            `json:"external_customer_id"`
	ExternalMessageID   string            `json:"external_message_id"`
	Text                string            `json:"text"`
	ContentType         string            `json:"content_type,omitempty"` // "text" (default), "image", "audio", ...
	CustomerDisplayName string            `json:"customer_display_name,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a normalized reply to be delivered by a channel adapter.
type OutboundMessage struct {
	Channel            string            `json:"channel"`
	ExternalCustomerID string            `json:"external_customer_id"`
	Text               string            `json:"text"`
	QuickReplies       []QuickReply      `json:"quick_replies,omitempty"`
	SuggestedProducts  []string          `json:"suggested_products,omitempty"`
	Components         []Component       `json:"components,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// QuickReply is a suggested-response chip shown to the customer.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
}

// Component is a structured UI element attached to a reply, such as a
// product card or a carousel. An adapter that cannot render a component
// type drops it and delivers the text alone.
type Component struct {
	Type    string         `json:"type"`
	Title   string         `json:"title,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Event is a state-change notification broadcast to dashboard subscribers.
type Event struct {
	Topic   string      `json:"topic"` // conversation ID or "conversations"
	Name    string      `json:"name"`  // e.g. "message.created", "conversation.handoff"
	Payload interface{} `json:"payload,omitempty"`
}

// Event names published by the dispatch coordinator.
const (
	EventMessageCreated       = "message.created"
	EventMessageDeliveryFail  = "message.delivery_failed"
	EventConversationCreated  = "conversation.created"
	EventConversationHandoff  = "conversation.handoff"
	EventConversationReturned = "conversation.returned_to_bot"
	EventConversationClosed   = "conversation.closed"
)

// EventPublisher fans out events to dashboard subscribers.
// Publish is fire-and-forget: a dropped broadcast must never fail the
// inbound-processing transaction.
type EventPublisher interface {
	Publish(event Event)
}

// EventPublisherFunc adapts a function to the EventPublisher interface.
type EventPublisherFunc func(Event)

func (f EventPublisherFunc) Publish(e Event) { f(e) }
