package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/billing/internal/adapter/storage"
	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/metrics"
	"github.com/rl1809/billing/internal/port"
)

type fixture struct {
	store      *storage.MemoryAdapter
	svc        *BillingService
	customerID int64
}

func newFixture(t *testing.T, products ...domain.Product) *fixture {
	t.Helper()
	store := storage.NewMemoryAdapter()
	return newFixtureWithStore(t, store, store, products...)
}

// newFixtureWithStore seeds mem and wires the service to store, which may wrap
// mem to inject failures.
func newFixtureWithStore(t *testing.T, mem *storage.MemoryAdapter, store port.Store, products ...domain.Product) *fixture {
	t.Helper()
	ctx := context.Background()

	customer := &domain.Customer{Name: "Hassan", Email: "hassan@gmail.com"}
	require.NoError(t, mem.AddCustomer(ctx, customer))
	for _, p := range products {
		require.NoError(t, mem.AddProduct(ctx, p))
	}

	deps := StoreDependencies(store)
	deps.Idempotency = storage.NewMemoryIdempotency()
	deps.Logger = zaptest.NewLogger(t)
	deps.Metrics = metrics.Nop()

	return &fixture{
		store:      mem,
		svc:        NewBillingService(deps),
		customerID: customer.ID,
	}
}

func product(id, price string, stock int) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     id,
		Price:    decimal.RequireFromString(price),
		Quantity: stock,
	}
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	n, err := f.store.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func (f *fixture) newBill(t *testing.T) int64 {
	t.Helper()
	bill, err := f.svc.CreateBill(context.Background(), f.customerID, testDate)
	require.NoError(t, err)
	return bill.ID
}

func (f *fixture) addItem(t *testing.T, billID int64, productID string, quantity int) *domain.LineItem {
	t.Helper()
	item, err := f.svc.AddItem(context.Background(), AddItemRequest{
		BillID:    billID,
		ProductID: productID,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return item
}
