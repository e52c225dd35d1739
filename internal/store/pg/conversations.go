package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storechat/storechat/internal/store"
)

const conversationCols = `id, customer_id, channel, state, sentiment, sentiment_score, intent,
	message_count, bot_message_count, human_message_count,
	handoff_reason, handoff_at, closed_at, last_message_at, created_at`

func (s *Store) OpenConversation(ctx context.Context, customerID uuid.UUID, channel string) (*store.Conversation, error) {
	c, err := s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE customer_id = $1 AND channel = $2 AND state IN ('active_bot', 'active_human')`,
		customerID, channel))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	id := store.NewID()
	now := time.Now()
	// The partial unique index on (customer_id, channel) WHERE state is
	// open makes concurrent creates collide; the loser re-reads.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, customer_id, channel, state, last_message_at, created_at)
		 VALUES ($1, $2, $3, 'active_bot', $4, $4)
		 ON CONFLICT DO NOTHING`,
		id, customerID, channel, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE customer_id = $1 AND channel = $2 AND state IN ('active_bot', 'active_human')`,
		customerID, channel))
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id))
}

func (s *Store) UpdateSnapshot(ctx context.Context, conversationID uuid.UUID, sentiment string, score float64, intent string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET sentiment = $1, sentiment_score = $2, intent = $3 WHERE id = $4`,
		nilStr(sentiment), score, nilStr(intent), conversationID,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Handoff(ctx context.Context, conversationID uuid.UUID, reason string) error {
	return s.transition(ctx, conversationID,
		`UPDATE conversations SET state = 'active_human', handoff_reason = $2, handoff_at = NOW()
		 WHERE id = $1 AND state = 'active_bot'`, reason)
}

func (s *Store) ReturnToBot(ctx context.Context, conversationID uuid.UUID) error {
	return s.transition(ctx, conversationID,
		`UPDATE conversations SET state = 'active_bot'
		 WHERE id = $1 AND state = 'active_human'`)
}

func (s *Store) Close(ctx context.Context, conversationID uuid.UUID) error {
	return s.transition(ctx, conversationID,
		`UPDATE conversations SET state = 'closed', closed_at = NOW()
		 WHERE id = $1 AND state IN ('active_bot', 'active_human')`)
}

// transition runs a guarded state UPDATE. Zero rows means either the
// conversation does not exist or the guard rejected the move.
func (s *Store) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	all := append([]interface{}{id}, args...)
	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetConversation(ctx, id); errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrInvalidTransition
	}
	return nil
}

func (s *Store) scanConversation(row *sql.Row) (*store.Conversation, error) {
	var c store.Conversation
	var sentiment, intent, handoffReason *string
	var score *float64
	err := row.Scan(&c.ID, &c.CustomerID, &c.Channel, &c.State,
		&sentiment, &score, &intent,
		&c.MessageCount, &c.BotMessageCount, &c.HumanMessageCount,
		&handoffReason, &c.HandoffAt, &c.ClosedAt, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Sentiment = derefStr(sentiment)
	c.Intent = derefStr(intent)
	c.HandoffReason = derefStr(handoffReason)
	if score != nil {
		c.SentimentScore = *score
	}
	return &c, nil
}
