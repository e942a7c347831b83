package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/billing/internal/adapter/storage"
	"github.com/rl1809/billing/internal/core/domain"
)

var testDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestCreateBill(t *testing.T) {
	f := newFixture(t)

	bill, err := f.svc.CreateBill(context.Background(), f.customerID, testDate)
	require.NoError(t, err)

	assert.NotZero(t, bill.ID)
	assert.Equal(t, f.customerID, bill.CustomerID)
	assert.Equal(t, testDate, bill.BillingDate)
	assert.Empty(t, bill.Items)
	assert.True(t, bill.Total().IsZero())
}

func TestCreateBill_DefaultsBillingDate(t *testing.T) {
	f := newFixture(t)

	before := time.Now().UTC()
	bill, err := f.svc.CreateBill(context.Background(), f.customerID, time.Time{})
	require.NoError(t, err)

	assert.False(t, bill.BillingDate.Before(before.Add(-time.Second)))
}

func TestCreateBill_CustomerNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBill(context.Background(), 999, testDate)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateBill(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	f.addItem(t, billID, "p1", 2)

	other := &domain.Customer{Name: "Fadwa", Email: "fadwa@gmail.com"}
	require.NoError(t, f.store.AddCustomer(ctx, other))
	newDate := testDate.Add(24 * time.Hour)

	bill, err := f.svc.UpdateBill(ctx, billID, other.ID, newDate)
	require.NoError(t, err)
	assert.Equal(t, other.ID, bill.CustomerID)
	assert.Equal(t, newDate, bill.BillingDate)

	// items untouched
	items, err := f.svc.ListItems(ctx, billID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 8, f.stock(t, "p1"))
}

func TestUpdateBill_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billID := f.newBill(t)

	_, err := f.svc.UpdateBill(ctx, 999, f.customerID, testDate)
	assert.ErrorIs(t, err, domain.ErrBillNotFound)

	_, err = f.svc.UpdateBill(ctx, billID, 999, testDate)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	bill, err := f.svc.GetBill(ctx, billID)
	require.NoError(t, err)
	assert.Equal(t, f.customerID, bill.CustomerID)
}

func TestAddUpdateRemove_Scenario(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)

	item := f.addItem(t, billID, "p1", 4)
	assert.Equal(t, 6, f.stock(t, "p1"))

	item, err := f.svc.UpdateItemQuantity(ctx, item.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)
	assert.Equal(t, 3, f.stock(t, "p1"))

	require.NoError(t, f.svc.RemoveItem(ctx, item.ID))
	assert.Equal(t, 10, f.stock(t, "p1"))

	_, err = f.svc.UpdateItemQuantity(ctx, item.ID, 1)
	assert.ErrorIs(t, err, domain.ErrLineItemNotFound)
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	billID := f.newBill(t)

	for _, qty := range []int{0, -1, -50} {
		_, err := f.svc.AddItem(context.Background(), AddItemRequest{BillID: billID, ProductID: "p1", Quantity: qty})
		assert.ErrorIs(t, err, domain.ErrValidation, "quantity %d", qty)
	}
	assert.Equal(t, 10, f.stock(t, "p1"))
}

func TestAddItem_MissingIDs(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)

	_, err := f.svc.AddItem(ctx, AddItemRequest{ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.AddItem(ctx, AddItemRequest{BillID: billID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, 10, f.stock(t, "p1"))
}

func TestAddItem_NotFound(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)

	_, err := f.svc.AddItem(ctx, AddItemRequest{BillID: 999, ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrBillNotFound)

	_, err = f.svc.AddItem(ctx, AddItemRequest{BillID: billID, ProductID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	assert.Equal(t, 10, f.stock(t, "p1"))
}

func TestAddItem_InsufficientStock(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 3))
	ctx := context.Background()
	billID := f.newBill(t)

	_, err := f.svc.AddItem(ctx, AddItemRequest{BillID: billID, ProductID: "p1", Quantity: 4})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	items, err := f.svc.ListItems(ctx, billID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestUpdateItemQuantity_RejectedReservationChangesNothing(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5))
	ctx := context.Background()
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 2)

	_, err := f.svc.UpdateItemQuantity(ctx, item.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	stored, err := f.store.GetLineItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Quantity)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestUpdateItemQuantity_Decrease(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 6)

	item, err := f.svc.UpdateItemQuantity(context.Background(), item.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, 8, f.stock(t, "p1"))
}

func TestUpdateItemQuantity_SameQuantityIsNoop(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 4)

	updated, err := f.svc.UpdateItemQuantity(context.Background(), item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, 6, f.stock(t, "p1"))
}

func TestUpdateItemQuantity_InvalidQuantity(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 4)

	_, err := f.svc.UpdateItemQuantity(context.Background(), item.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 6, f.stock(t, "p1"))
}

func TestRemoveItem_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RemoveItem(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrLineItemNotFound)
}

func TestRemoveThenReAdd_RestoresStock(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 3)
	before := f.stock(t, "p1")

	require.NoError(t, f.svc.RemoveItem(ctx, item.ID))
	f.addItem(t, billID, "p1", 3)

	assert.Equal(t, before, f.stock(t, "p1"))
}

func TestDeleteBill_CascadesReleases(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10), product("p2", "5.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	a := f.addItem(t, billID, "p1", 3)
	b := f.addItem(t, billID, "p2", 5)
	require.Equal(t, 7, f.stock(t, "p1"))
	require.Equal(t, 5, f.stock(t, "p2"))

	require.NoError(t, f.svc.DeleteBill(ctx, billID))

	assert.Equal(t, 10, f.stock(t, "p1"))
	assert.Equal(t, 10, f.stock(t, "p2"))

	_, err := f.svc.GetBill(ctx, billID)
	assert.ErrorIs(t, err, domain.ErrBillNotFound)
	_, err = f.store.GetLineItem(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrLineItemNotFound)
	_, err = f.store.GetLineItem(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrLineItemNotFound)

	assert.ErrorIs(t, f.svc.DeleteBill(ctx, billID), domain.ErrBillNotFound)
}

func TestTotal_UsesSnapshotPrice(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10), product("p2", "5.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	f.addItem(t, billID, "p1", 2)
	f.addItem(t, billID, "p2", 3)

	full, err := f.svc.GetFullBill(ctx, billID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("35.00").Equal(full.Total), "total %s", full.Total)

	require.NoError(t, f.svc.UpdateProductPrice(ctx, "p1", decimal.RequireFromString("99.99")))

	full, err = f.svc.GetFullBill(ctx, billID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("35.00").Equal(full.Total), "total %s", full.Total)
	assert.True(t, decimal.RequireFromString("10.00").Equal(full.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("99.99").Equal(full.Items[0].Product.Price))
}

func TestGetFullBill(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	item := f.addItem(t, billID, "p1", 4)

	full, err := f.svc.GetFullBill(ctx, billID)
	require.NoError(t, err)

	require.NotNil(t, full.Customer)
	assert.Equal(t, "Hassan", full.Customer.Name)
	require.Len(t, full.Items, 1)
	assert.Equal(t, item.ID, full.Items[0].ID)
	require.NotNil(t, full.Items[0].Product)
	assert.Equal(t, 6, full.Items[0].Product.Quantity)

	_, err = f.svc.GetFullBill(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrBillNotFound)
}

func TestAddItem_ConcurrentRequestsDoNotOversell(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 5))
	billA := f.newBill(t)
	billB := f.newBill(t)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		shortages atomic.Int32
		start     = make(chan struct{})
	)
	for _, billID := range []int64{billA, billB} {
		wg.Add(1)
		go func(billID int64) {
			defer wg.Done()
			<-start
			_, err := f.svc.AddItem(context.Background(), AddItemRequest{BillID: billID, ProductID: "p1", Quantity: 3})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortages.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(billID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), shortages.Load())
	assert.Equal(t, 2, f.stock(t, "p1"))
}

func TestAddItem_ConcurrentManyRequests(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	f := newFixture(t, product("p1", "1.00", initialStock))
	billID := f.newBill(t)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(context.Background(), AddItemRequest{BillID: billID, ProductID: "p1", Quantity: 1})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, 0, f.stock(t, "p1"))
}

func TestAddItem_DuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 10))
	ctx := context.Background()
	billID := f.newBill(t)
	req := AddItemRequest{BillID: billID, ProductID: "p1", Quantity: 2, IdempotencyKey: "req-1"}

	_, err := f.svc.AddItem(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, 8, f.stock(t, "p1"))
}

func TestAddItem_FailedRequestReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 1))
	ctx := context.Background()
	billID := f.newBill(t)
	req := AddItemRequest{BillID: billID, ProductID: "p1", Quantity: 2, IdempotencyKey: "req-1"}

	_, err := f.svc.AddItem(ctx, req)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, f.svc.Restock(ctx, "p1", 5))
	_, err = f.svc.AddItem(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, 4, f.stock(t, "p1"))
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 4))
	ctx := context.Background()

	a, err := f.svc.CheckAvailability(ctx, "p1", 4)
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, 4, a.InStock)

	a, err = f.svc.CheckAvailability(ctx, "p1", 5)
	require.NoError(t, err)
	assert.False(t, a.Available)

	_, err = f.svc.CheckAvailability(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.svc.CheckAvailability(ctx, "p1", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 4, f.stock(t, "p1"))
}

func TestRestockAndPrice_Validation(t *testing.T) {
	f := newFixture(t, product("p1", "10.00", 4))
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Restock(ctx, "p1", 0), domain.ErrValidation)
	assert.ErrorIs(t, f.svc.Restock(ctx, "missing", 1), domain.ErrProductNotFound)
	assert.ErrorIs(t, f.svc.UpdateProductPrice(ctx, "p1", decimal.NewFromInt(-1)), domain.ErrValidation)
	assert.ErrorIs(t, f.svc.UpdateProductPrice(ctx, "missing", decimal.NewFromInt(1)), domain.ErrProductNotFound)
}

// A separate stock backend, as with the Redis driver, is the source of truth
// for quantities; products it does not know keep the catalog value.
func TestListProducts_ReadsStockFromLedger(t *testing.T) {
	ctx := context.Background()
	catalog := storage.NewMemoryAdapter()
	require.NoError(t, catalog.AddProduct(ctx, product("p1", "10.00", 4)))
	require.NoError(t, catalog.AddProduct(ctx, product("p2", "3.00", 2)))

	stock := storage.NewMemoryAdapter()
	require.NoError(t, stock.AddProduct(ctx, product("p1", "10.00", 9)))

	deps := StoreDependencies(catalog)
	deps.Stock = stock
	svc := NewBillingService(deps)

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ID)
	assert.Equal(t, 9, products[0].Quantity)
	assert.Equal(t, "p2", products[1].ID)
	assert.Equal(t, 2, products[1].Quantity)
}

// TestRandomOperations_PreserveStockInvariants drives a random sequence of
// operations and checks after each step that no stock went negative and that
// stock plus the quantity held by live items equals the initial stock.
func TestRandomOperations_PreserveStockInvariants(t *testing.T) {
	initial := map[string]int{"p1": 10, "p2": 4, "p3": 25}
	f := newFixture(t,
		product("p1", "10.00", initial["p1"]),
		product("p2", "3.50", initial["p2"]),
		product("p3", "0.99", initial["p3"]),
	)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	productIDs := []string{"p1", "p2", "p3"}

	var bills []int64
	for i := 0; i < 3; i++ {
		bills = append(bills, f.newBill(t))
	}

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(10); {
		case op < 4 && len(bills) > 0:
			billID := bills[rng.Intn(len(bills))]
			_, _ = f.svc.AddItem(ctx, AddItemRequest{
				BillID:    billID,
				ProductID: productIDs[rng.Intn(len(productIDs))],
				Quantity:  rng.Intn(6) - 1,
			})
		case op < 6:
			if item, ok := randomItem(t, f, bills, rng); ok {
				_, _ = f.svc.UpdateItemQuantity(ctx, item.ID, rng.Intn(8))
			}
		case op < 8:
			if item, ok := randomItem(t, f, bills, rng); ok {
				require.NoError(t, f.svc.RemoveItem(ctx, item.ID))
			}
		case op == 8 && len(bills) > 0:
			i := rng.Intn(len(bills))
			require.NoError(t, f.svc.DeleteBill(ctx, bills[i]))
			bills = append(bills[:i], bills[i+1:]...)
		default:
			bills = append(bills, f.newBill(t))
		}

		assertStockInvariants(t, f, bills, initial)
	}
}

func TestConcurrentOperations_PreserveStockInvariants(t *testing.T) {
	initial := map[string]int{"p1": 30, "p2": 30}
	f := newFixture(t, product("p1", "1.00", initial["p1"]), product("p2", "2.00", initial["p2"]))
	ctx := context.Background()

	var bills []int64
	for i := 0; i < 4; i++ {
		bills = append(bills, f.newBill(t))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				billID := bills[rng.Intn(len(bills))]
				productID := []string{"p1", "p2"}[rng.Intn(2)]
				item, err := f.svc.AddItem(ctx, AddItemRequest{BillID: billID, ProductID: productID, Quantity: 1 + rng.Intn(4)})
				if err != nil {
					continue
				}
				switch rng.Intn(3) {
				case 0:
					_ = f.svc.RemoveItem(ctx, item.ID)
				case 1:
					_, _ = f.svc.UpdateItemQuantity(ctx, item.ID, 1+rng.Intn(6))
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assertStockInvariants(t, f, bills, initial)
}

func randomItem(t *testing.T, f *fixture, bills []int64, rng *rand.Rand) (domain.LineItem, bool) {
	t.Helper()
	if len(bills) == 0 {
		return domain.LineItem{}, false
	}
	items, err := f.svc.ListItems(context.Background(), bills[rng.Intn(len(bills))])
	require.NoError(t, err)
	if len(items) == 0 {
		return domain.LineItem{}, false
	}
	return items[rng.Intn(len(items))], true
}

func assertStockInvariants(t *testing.T, f *fixture, bills []int64, initial map[string]int) {
	t.Helper()
	reserved := make(map[string]int)
	for _, billID := range bills {
		items, err := f.svc.ListItems(context.Background(), billID)
		require.NoError(t, err)
		for _, item := range items {
			require.GreaterOrEqual(t, item.Quantity, 1)
			reserved[item.ProductID] += item.Quantity
		}
	}
	for productID, want := range initial {
		stock := f.stock(t, productID)
		require.GreaterOrEqual(t, stock, 0, "product %s", productID)
		require.Equal(t, want, stock+reserved[productID], "product %s", productID)
	}
}
