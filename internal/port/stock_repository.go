package port

import "context"

// StockRepository is the atomic stock primitive behind the inventory ledger.
// Implementations must make DecrementStock a single check-and-decrement step
// per product.
type StockRepository interface {
	// DecrementStock atomically decreases stock, returns false if insufficient.
	// Returns domain.ErrProductNotFound for unknown products.
	DecrementStock(ctx context.Context, productID string, quantity int) (bool, error)

	// IncrementStock restores stock (release and rollback).
	// Returns domain.ErrProductNotFound for unknown products.
	IncrementStock(ctx context.Context, productID string, quantity int) error

	// GetStock returns the current stock level.
	GetStock(ctx context.Context, productID string) (int, error)
}
