package handler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/billing/internal/adapter/storage"
	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/core/service"
	"github.com/rl1809/billing/internal/metrics"
)

var testDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store      *storage.MemoryAdapter
	billing    *service.BillingService
	metrics    *metrics.Metrics
	customerID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryAdapter()
	customer := &domain.Customer{Name: "Fadwa", Email: "fadwa@gmail.com"}
	require.NoError(t, store.AddCustomer(ctx, customer))
	require.NoError(t, store.AddProduct(ctx, domain.Product{
		ID:       "p1",
		Name:     "Printer Epson",
		Price:    decimal.RequireFromString("10.00"),
		Quantity: 5,
	}))

	m := metrics.Nop()
	deps := service.StoreDependencies(store)
	deps.Idempotency = storage.NewMemoryIdempotency()
	deps.Logger = zaptest.NewLogger(t)
	deps.Metrics = m

	return &testEnv{
		store:      store,
		billing:    service.NewBillingService(deps),
		metrics:    m,
		customerID: customer.ID,
	}
}

func (e *testEnv) newBill(t *testing.T) int64 {
	t.Helper()
	bill, err := e.billing.CreateBill(context.Background(), e.customerID, testDate)
	require.NoError(t, err)
	return bill.ID
}

func (e *testEnv) stock(t *testing.T) int {
	t.Helper()
	n, err := e.store.GetStock(context.Background(), "p1")
	require.NoError(t, err)
	return n
}
