// Package store defines the durable conversation data model and the
// storage contract enforced by every backend: one customer per
// (channel, external-id) pair, at most one open conversation per
// (customer, channel), totally ordered messages with a unique
// (conversation, external-id) idempotency guard, and a one-way
// conversation lifecycle that terminates in Closed.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/storechat/storechat/internal/bus"
)

// Sentinel errors returned by ConversationStore implementations.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateMessage   = errors.New("duplicate message external id")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
)

// ConversationState is the lifecycle state of a conversation.
type ConversationState string

const (
	StateActiveBot   ConversationState = "active_bot"
	StateActiveHuman ConversationState = "active_human"
	StateClosed      ConversationState = "closed"
)

// Open reports whether the conversation can still receive messages.
func (s ConversationState) Open() bool {
	return s == StateActiveBot || s == StateActiveHuman
}

// Direction of a message relative to the store.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderCustomer   SenderKind = "customer"
	SenderBot        SenderKind = "bot"
	SenderHumanAgent SenderKind = "human_agent"
)

// Customer is a canonical identity merged across channels.
// Never deleted — only deactivated.
type Customer struct {
	ID          uuid.UUID          `json:"id"`
	DisplayName string             `json:"display_name"`
	Segment     string             `json:"segment,omitempty"` // e.g. "new", "regular", "high_value"
	LoyaltyTier string             `json:"loyalty_tier,omitempty"`
	TotalSpend  float64            `json:"total_spend"`
	OrderCount  int                `json:"order_count"`
	Active      bool               `json:"active"`
	Identities  []CustomerIdentity `json:"identities,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// CustomerIdentity binds a customer to one channel-specific external id.
// At most one customer per (channel, external-id) pair.
type CustomerIdentity struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
}

// Conversation is the unit of escalation and AI context.
type Conversation struct {
	ID                uuid.UUID         `json:"id"`
	CustomerID        uuid.UUID         `json:"customer_id"`
	Channel           string            `json:"channel"`
	State             ConversationState `json:"state"`
	Sentiment         string            `json:"sentiment,omitempty"` // latest snapshot
	SentimentScore    float64           `json:"sentiment_score"`
	Intent            string            `json:"intent,omitempty"` // latest snapshot
	MessageCount      int               `json:"message_count"`
	BotMessageCount   int               `json:"bot_message_count"`
	HumanMessageCount int               `json:"human_message_count"`
	HandoffReason     string            `json:"handoff_reason,omitempty"`
	HandoffAt         *time.Time        `json:"handoff_at,omitempty"`
	ClosedAt          *time.Time        `json:"closed_at,omitempty"`
	LastMessageAt     time.Time         `json:"last_message_at"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Message is an immutable append-only conversation record.
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Direction      Direction       `json:"direction"`
	Sender         SenderKind      `json:"sender"`
	Content        string          `json:"content"`
	ContentType    string          `json:"content_type"` // "text" default
	Sentiment      string          `json:"sentiment,omitempty"`
	SentimentScore *float64        `json:"sentiment_score,omitempty"`
	QuickReplies   []string        `json:"quick_replies,omitempty"`
	Components     []bus.Component `json:"components,omitempty"`
	ExternalID     string          `json:"external_id,omitempty"` // provider-assigned, "" = none
	DeliveryFailed bool            `json:"delivery_failed,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewID returns a time-ordered UUID for entity identifiers.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
