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

func (s *Store) ResolveCustomer(ctx context.Context, channel, externalID, displayName string) (*store.Customer, error) {
	if c, err := s.customerByIdentity(ctx, channel, externalID); err == nil {
		if c.DisplayName == "" && displayName != "" {
			_, _ = s.db.ExecContext(ctx,
				`UPDATE customers SET display_name = $1 WHERE id = $2`, displayName, c.ID)
			c.DisplayName = displayName
		}
		return c, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	id := store.NewID()
	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customers (id, display_name, segment, active, created_at)
		 VALUES ($1, $2, 'new', TRUE, $3)`,
		id, nilStr(displayName), now,
	); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}

	// The unique (channel, external_id) constraint decides races between
	// concurrent first messages: the loser's insert is a no-op and the
	// winner's customer is re-read below.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO customer_identities (channel, external_id, customer_id)
		 VALUES ($1, $2, $3) ON CONFLICT (channel, external_id) DO NOTHING`,
		channel, externalID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race — discard our customer row and use the winner's.
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return nil, err
		}
		return s.customerByIdentity(ctx, channel, externalID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &store.Customer{
		ID:          id,
		DisplayName: displayName,
		Segment:     "new",
		Active:      true,
		Identities:  []store.CustomerIdentity{{Channel: channel, ExternalID: externalID}},
		CreatedAt:   now,
	}, nil
}

func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*store.Customer, error) {
	c, err := s.scanCustomer(s.db.QueryRowContext(ctx,
		`SELECT id, display_name, segment, loyalty_tier, total_spend, order_count, active, created_at
		 FROM customers WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, external_id FROM customer_identities WHERE customer_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ident store.CustomerIdentity
		if err := rows.Scan(&ident.Channel, &ident.ExternalID); err != nil {
			return nil, err
		}
		c.Identities = append(c.Identities, ident)
	}
	return c, rows.Err()
}

func (s *Store) customerByIdentity(ctx context.Context, channel, externalID string) (*store.Customer, error) {
	return s.scanCustomer(s.db.QueryRowContext(ctx,
		`SELECT c.id, c.display_name, c.segment, c.loyalty_tier, c.total_spend, c.order_count, c.active, c.created_at
		 FROM customers c
		 JOIN customer_identities ci ON ci.customer_id = c.id
		 WHERE ci.channel = $1 AND ci.external_id = $2`,
		channel, externalID))
}

func (s *Store) scanCustomer(row *sql.Row) (*store.Customer, error) {
	var c store.Customer
	var displayName, segment, loyaltyTier *string
	err := row.Scan(&c.ID, &displayName, &segment, &loyaltyTier,
		&c.TotalSpend, &c.OrderCount, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	c.DisplayName = derefStr(displayName)
	c.Segment = derefStr(segment)
	c.LoyaltyTier = derefStr(loyaltyTier)
	return &c, nil
}
