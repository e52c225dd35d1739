package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/store"
)

const messageCols = `id, conversation_id, direction, sender, content, content_type,
	sentiment, sentiment_score, quick_replies, components, external_id, delivery_failed, created_at`

func (s *Store) AppendMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Row-lock the conversation so counter updates serialize.
	var state store.ConversationState
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM conversations WHERE id = $1 FOR UPDATE`,
		msg.ConversationID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	if !state.Open() {
		return store.ErrConversationClosed
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

	components, err := componentsValue(msg.Components)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, direction, sender, content, content_type,
		 sentiment, sentiment_score, quick_replies, components, external_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Sender, msg.Content, msg.ContentType,
		nilStr(msg.Sentiment), msg.SentimentScore, pq.Array(msg.QuickReplies), components,
		nilStr(msg.ExternalID), msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateMessage
		}
		return fmt.Errorf("insert message: %w", err)
	}

	botInc, humanInc := 0, 0
	switch msg.Sender {
	case store.SenderBot:
		botInc = 1
	case store.SenderHumanAgent:
		humanInc = 1
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET
			message_count = message_count + 1,
			bot_message_count = bot_message_count + $2,
			human_message_count = human_message_count + $3,
			last_message_at = $4
		 WHERE id = $1`,
		msg.ConversationID, botInc, humanInc, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}

	return tx.Commit()
}

func (s *Store) FindMessageByExternalID(ctx context.Context, channel, externalID string) (*store.Message, error) {
	return s.scanMessage(s.db.QueryRowContext(ctx,
		`SELECT m.id, m.conversation_id, m.direction, m.sender, m.content, m.content_type,
		 m.sentiment, m.sentiment_score, m.quick_replies, m.components, m.external_id, m.delivery_failed, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.channel = $1 AND m.external_id = $2`,
		channel, externalID))
}

func (s *Store) MarkDeliveryFailed(ctx context.Context, messageID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivery_failed = TRUE WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM (
			SELECT `+messageCols+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

func (s *Store) UndeliveredMessages(ctx context.Context, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE delivery_failed = TRUE AND direction = 'outbound'
		 ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query undelivered: %w", err)
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) collectMessages(rows *sql.Rows) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		m, err := scanMessageFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) scanMessage(row *sql.Row) (*store.Message, error) {
	m, err := scanMessageFrom(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMessageFrom(r rowScanner) (*store.Message, error) {
	var m store.Message
	var sentiment, externalID *string
	var quickReplies pq.StringArray
	var components []byte
	err := r.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Sender, &m.Content, &m.ContentType,
		&sentiment, &m.SentimentScore, &quickReplies, &components, &externalID, &m.DeliveryFailed, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Sentiment = derefStr(sentiment)
	m.ExternalID = derefStr(externalID)
	m.QuickReplies = []string(quickReplies)
	if len(components) > 0 {
		if err := json.Unmarshal(components, &m.Components); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
	}
	return &m, nil
}

// componentsValue encodes the component list for the JSONB column, NULL when
// the message carries none.
func componentsValue(comps []bus.Component) (any, error) {
	if len(comps) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(comps)
	if err != nil {
		return nil, fmt.Errorf("encode components: %w", err)
	}
	return b, nil
}

// isUniqueViolation matches Postgres error 23505 without importing the
// driver's error types (both pgx and lib/pq surface the code in the text).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
