package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/billing/internal/core/domain"
)

// Transactor runs fn as one unit of work. Repositories invoked with the ctx
// passed to fn take part in the same transaction where the backend supports it.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type BillRepository interface {
	// CreateBill persists a bill and assigns its ID
	CreateBill(ctx context.Context, bill *domain.Bill) error

	// GetBill retrieves a bill with its items in insertion order
	GetBill(ctx context.Context, id int64) (*domain.Bill, error)

	// LockBill verifies the bill exists and, inside a transaction, locks its row
	LockBill(ctx context.Context, id int64) error

	UpdateBill(ctx context.Context, bill domain.Bill) error
	DeleteBill(ctx context.Context, id int64) error
}

type LineItemRepository interface {
	// CreateLineItem persists an item and assigns its ID; fails with
	// domain.ErrBillNotFound when the owning bill no longer exists
	CreateLineItem(ctx context.Context, item *domain.LineItem) error

	GetLineItem(ctx context.Context, id int64) (*domain.LineItem, error)
	ListLineItems(ctx context.Context, billID int64) ([]domain.LineItem, error)
	UpdateLineItemQuantity(ctx context.Context, id int64, quantity int) error
	DeleteLineItem(ctx context.Context, id int64) error
}

type CustomerDirectory interface {
	CustomerExists(ctx context.Context, id int64) (bool, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// ListProducts returns the whole catalog ordered by name
	ListProducts(ctx context.Context) ([]domain.Product, error)

	UpdateProductPrice(ctx context.Context, id string, price decimal.Decimal) error
}

// Store bundles every persistence port a storage adapter provides.
type Store interface {
	Transactor
	BillRepository
	LineItemRepository
	CustomerDirectory
	ProductCatalog
	StockRepository
}
