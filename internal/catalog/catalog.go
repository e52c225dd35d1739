// Package catalog exposes the store's products and customer carts to the
// bot's prompt builder.
package catalog

import "context"

// Product is one sellable item.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Currency    string
	InStock     bool
}

// CartItem is a product a customer has in their cart.
type CartItem struct {
	ProductID string
	Name      string
	Price     float64
	Quantity  int
}

// Provider serves product data for prompt context.
type Provider interface {
	// Products returns up to limit in-stock products.
	Products(ctx context.Context, limit int) ([]Product, error)
	// Search returns up to limit products matching the query.
	Search(ctx context.Context, query string, limit int) ([]Product, error)
}

// CartProvider serves a customer's current cart.
type CartProvider interface {
	Cart(ctx context.Context, customerID string) ([]CartItem, error)
}
