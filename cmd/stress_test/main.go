package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/billing/internal/adapter/storage"
	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/core/service"
)

const (
	productID     = "stress-test-product"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	redisAddr := flag.String("redis", "", "run the ledger on Redis at this address instead of memory")
	flag.Parse()

	ctx := context.Background()

	store := storage.NewMemoryAdapter()
	customer := &domain.Customer{Name: "Stress", Email: "stress@example.com"}
	if err := store.AddCustomer(ctx, customer); err != nil {
		log.Fatalf("failed to add customer: %v", err)
	}
	if err := store.AddProduct(ctx, domain.Product{
		ID:       productID,
		Name:     "Stress Test Product",
		Price:    decimal.NewFromInt(100),
		Quantity: initialStock,
	}); err != nil {
		log.Fatalf("failed to add product: %v", err)
	}

	deps := service.StoreDependencies(store)
	deps.Logger = zap.NewNop()
	deps.Idempotency = storage.NewMemoryIdempotency()

	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()

		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := redisAdapter.SetStock(ctx, productID, initialStock); err != nil {
			log.Fatalf("failed to set stock: %v", err)
		}
		deps.Stock = redisAdapter
	}

	billing := service.NewBillingService(deps)

	// Half of the requests share a bill so per-bill locking is exercised too.
	sharedBill, err := billing.CreateBill(ctx, customer.ID, time.Time{})
	if err != nil {
		log.Fatalf("failed to create bill: %v", err)
	}

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			billID := sharedBill.ID
			if n%2 == 1 {
				bill, err := billing.CreateBill(ctx, customer.ID, time.Time{})
				if err != nil {
					errorCount.Add(1)
					return
				}
				billID = bill.ID
			}

			_, err := billing.AddItem(ctx, service.AddItemRequest{
				BillID:         billID,
				ProductID:      productID,
				Quantity:       1,
				IdempotencyKey: fmt.Sprintf("stress-%d", n),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("request %d: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d items added, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d added/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	availability, err := billing.CheckAvailability(ctx, productID, 1)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", availability.InStock)

	if availability.InStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", availability.InStock)
	}
}
