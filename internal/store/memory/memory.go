// Package memory provides an in-memory ConversationStore used by tests
// and local development. It enforces the same invariants as the
// Postgres backend.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storechat/storechat/internal/store"
)

// Store is an in-memory ConversationStore. Safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	customers     map[uuid.UUID]*store.Customer
	identityIndex map[string]uuid.UUID // "channel:externalID" → customer
	conversations map[uuid.UUID]*store.Conversation
	messages      map[uuid.UUID][]*store.Message // by conversation
	externalIndex map[string]uuid.UUID           // "channel:externalID" → message
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		customers:     make(map[uuid.UUID]*store.Customer),
		identityIndex: make(map[string]uuid.UUID),
		conversations: make(map[uuid.UUID]*store.Conversation),
		messages:      make(map[uuid.UUID][]*store.Message),
		externalIndex: make(map[string]uuid.UUID),
	}
}

func identityKey(channel, externalID string) string {
	return channel + ":" + externalID
}

func (s *Store) ResolveCustomer(_ context.Context, channel, externalID, displayName string) (*store.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.identityIndex[identityKey(channel, externalID)]; ok {
		c := s.customers[id]
		if c.DisplayName == "" && displayName != "" {
			c.DisplayName = displayName
		}
		cp := *c
		return &cp, nil
	}

	c := &store.Customer{
		ID:          store.NewID(),
		DisplayName: displayName,
		Segment:     "new",
		Active:      true,
		Identities:  []store.CustomerIdentity{{Channel: channel, ExternalID: externalID}},
		CreatedAt:   time.Now(),
	}
	s.customers[c.ID] = c
	s.identityIndex[identityKey(channel, externalID)] = c.ID

	cp := *c
	return &cp, nil
}

func (s *Store) GetCustomer(_ context.Context, id uuid.UUID) (*store.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// SetCustomerProfile overrides segment/spend fields. Test and dev helper
// standing in for the external order/loyalty subsystems.
func (s *Store) SetCustomerProfile(id uuid.UUID, segment, loyaltyTier string, spend float64, orders int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.customers[id]; ok {
		c.Segment = segment
		c.LoyaltyTier = loyaltyTier
		c.TotalSpend = spend
		c.OrderCount = orders
	}
}

func (s *Store) OpenConversation(_ context.Context, customerID uuid.UUID, channel string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.ErrNotFound
	}

	for _, c := range s.conversations {
		if c.CustomerID == customerID && c.Channel == channel && c.State.Open() {
			cp := *c
			return &cp, nil
		}
	}

	now := time.Now()
	c := &store.Conversation{
		ID:            store.NewID(),
		CustomerID:    customerID,
		Channel:       channel,
		State:         store.StateActiveBot,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return store.ErrNotFound
	}
	if !conv.State.Open() {
		return store.ErrConversationClosed
	}

	if msg.ExternalID != "" {
		if _, dup := s.externalIndex[identityKey(conv.Channel, msg.ExternalID)]; dup {
			return store.ErrDuplicateMessage
		}
	}

	if msg.ID == uuid.Nil {
		msg.ID = store.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ContentType == "" {
		msg.ContentType = "text"
	}

	cp := *msg
	s.messages[conv.ID] = append(s.messages[conv.ID], &cp)
	if msg.ExternalID != "" {
		s.externalIndex[identityKey(conv.Channel, msg.ExternalID)] = cp.ID
	}

	conv.MessageCount++
	switch msg.Sender {
	case store.SenderBot:
		conv.BotMessageCount++
	case store.SenderHumanAgent:
		conv.HumanMessageCount++
	}
	conv.LastMessageAt = cp.CreatedAt

	return nil
}

func (s *Store) FindMessageByExternalID(_ context.Context, channel, externalID string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.externalIndex[identityKey(channel, externalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				cp := *m
				return &cp, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateSnapshot(_ context.Context, conversationID uuid.UUID, sentiment string, score float64, intent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.Sentiment = sentiment
	c.SentimentScore = score
	c.Intent = intent
	return nil
}

func (s *Store) Handoff(_ context.Context, conversationID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	if c.State != store.StateActiveBot {
		return store.ErrInvalidTransition
	}
	now := time.Now()
	c.State = store.StateActiveHuman
	c.HandoffReason = reason
	c.HandoffAt = &now
	return nil
}

func (s *Store) ReturnToBot(_ context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	if c.State != store.StateActiveHuman {
		return store.ErrInvalidTransition
	}
	c.State = store.StateActiveBot
	return nil
}

func (s *Store) Close(_ context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	if !c.State.Open() {
		return store.ErrInvalidTransition
	}
	now := time.Now()
	c.State = store.StateClosed
	c.ClosedAt = &now
	return nil
}

func (s *Store) MarkDeliveryFailed(_ context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.DeliveryFailed = true
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (s *Store) RecentMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]store.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) UndeliveredMessages(_ context.Context, limit int) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.DeliveryFailed {
				out = append(out, *m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
