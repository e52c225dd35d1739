package store

import (
	"context"

	"github.com/google/uuid"
)

// ConversationStore is the durable state behind the dispatch coordinator.
//
// Implementations must enforce the invariants documented on the types:
// they are the final guard against duplicate webhook deliveries and
// cross-channel races, regardless of what the caller already checked.
type ConversationStore interface {
	// ResolveCustomer returns the customer owning (channel, externalID),
	// creating one on first contact. The display name is set on create
	// and refreshed when the stored name is empty.
	ResolveCustomer(ctx context.Context, channel, externalID, displayName string) (*Customer, error)

	// GetCustomer loads a customer by id.
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)

	// OpenConversation returns the open conversation for (customer,
	// channel), creating a new one in StateActiveBot when none is open.
	// A closed conversation is never reopened.
	OpenConversation(ctx context.Context, customerID uuid.UUID, channel string) (*Conversation, error)

	// GetConversation loads a conversation by id.
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// AppendMessage stores a message and updates the owning
	// conversation's counters and last-message timestamp atomically.
	// Returns ErrDuplicateMessage when the (conversation, external-id)
	// pair already exists, ErrConversationClosed when the conversation
	// is no longer open.
	AppendMessage(ctx context.Context, msg *Message) error

	// FindMessageByExternalID looks up a stored message by its
	// provider-assigned id within a channel. Used by the dedupe path.
	FindMessageByExternalID(ctx context.Context, channel, externalID string) (*Message, error)

	// UpdateSnapshot stores the latest sentiment/intent snapshot on the
	// conversation.
	UpdateSnapshot(ctx context.Context, conversationID uuid.UUID, sentiment string, score float64, intent string) error

	// Handoff transitions ActiveBot → ActiveHuman, recording the reason
	// and timestamp. ErrInvalidTransition from any other state.
	Handoff(ctx context.Context, conversationID uuid.UUID, reason string) error

	// ReturnToBot transitions ActiveHuman → ActiveBot.
	ReturnToBot(ctx context.Context, conversationID uuid.UUID) error

	// Close transitions any open state → Closed. Closed is terminal.
	Close(ctx context.Context, conversationID uuid.UUID) error

	// MarkDeliveryFailed flags a stored outbound message whose
	// provider send failed.
	MarkDeliveryFailed(ctx context.Context, messageID uuid.UUID) error

	// RecentMessages returns up to limit messages of a conversation,
	// oldest first, taken from the most recent end.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)

	// UndeliveredMessages lists outbound messages flagged
	// delivery_failed, for external reconciliation.
	UndeliveredMessages(ctx context.Context, limit int) ([]Message, error)
}
