package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PGStore reads products and carts from Postgres. It shares the connection
// pool the conversation store opens.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Products(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), price, currency, in_stock
		FROM products
		WHERE in_stock = TRUE
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

// Search matches products against the words of query, so a whole customer
// message can be used as-is. One-letter words and punctuation contribute
// nothing and are skipped.
func (s *PGStore) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 20
	}
	patterns := searchPatterns(query)
	if len(patterns) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), price, currency, in_stock
		FROM products
		WHERE name ILIKE ANY($1) OR description ILIKE ANY($1)
		ORDER BY in_stock DESC, created_at DESC
		LIMIT $2`, pq.Array(patterns), limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func searchPatterns(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 3 {
			continue
		}
		out = append(out, "%"+w+"%")
	}
	return out
}

func (s *PGStore) Cart(ctx context.Context, customerID string) ([]CartItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.product_id, p.name, p.price, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.customer_id = $1
		ORDER BY ci.added_at`, customerID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func collectProducts(rows *sql.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.InStock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
