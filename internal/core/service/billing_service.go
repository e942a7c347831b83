package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/metrics"
	"github.com/rl1809/billing/internal/port"
)

type Dependencies struct {
	Tx          port.Transactor
	Bills       port.BillRepository
	Items       port.LineItemRepository
	Customers   port.CustomerDirectory
	Catalog     port.ProductCatalog
	Stock       port.StockRepository
	Idempotency port.IdempotencyRepository // optional
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// StoreDependencies fills every persistence port from one store. Stock may be
// overridden afterwards to move the ledger to another backend.
func StoreDependencies(store port.Store) Dependencies {
	return Dependencies{
		Tx:        store,
		Bills:     store,
		Items:     store,
		Customers: store,
		Catalog:   store,
		Stock:     store,
	}
}

type AddItemRequest struct {
	BillID         int64
	ProductID      string
	Quantity       int
	IdempotencyKey string
}

type Availability struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	InStock   int    `json:"inStock"`
	Available bool   `json:"available"`
}

// BillingService is the entry point for every transport. Each method runs
// under the lock of the bill it touches and inside one repository
// transaction, so a failed call leaves no reservation or item behind.
type BillingService struct {
	tx          port.Transactor
	customers   port.CustomerDirectory
	catalog     port.ProductCatalog
	idempotency port.IdempotencyRepository
	ledger      *InventoryLedger
	items       *LineItemManager
	bills       *BillManager
	locks       *lockSet
	log         *zap.Logger
}

func NewBillingService(deps Dependencies) *BillingService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ledger := NewInventoryLedger(deps.Stock, log.Named("ledger"), deps.Metrics)
	items := NewLineItemManager(deps.Items, deps.Bills, deps.Catalog, ledger, log.Named("line_items"), deps.Metrics)
	bills := NewBillManager(deps.Bills, deps.Customers, items, log.Named("bills"))

	return &BillingService{
		tx:          deps.Tx,
		customers:   deps.Customers,
		catalog:     deps.Catalog,
		idempotency: deps.Idempotency,
		ledger:      ledger,
		items:       items,
		bills:       bills,
		locks:       newLockSet(),
		log:         log,
	}
}

func (s *BillingService) CreateBill(ctx context.Context, customerID int64, billingDate time.Time) (bill *domain.Bill, err error) {
	defer s.done("create_bill", time.Now(), &err, zap.Int64("customer_id", customerID))

	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		bill, err = s.bills.Create(ctx, customerID, billingDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *BillingService) UpdateBill(ctx context.Context, billID, customerID int64, billingDate time.Time) (bill *domain.Bill, err error) {
	defer s.done("update_bill", time.Now(), &err, zap.Int64("bill_id", billID))

	unlock := s.locks.Lock(billID)
	defer unlock()

	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		bill, err = s.bills.Update(ctx, billID, customerID, billingDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// DeleteBill releases all reservations held by the bill's items and removes
// the bill with its items.
func (s *BillingService) DeleteBill(ctx context.Context, billID int64) (err error) {
	defer s.done("delete_bill", time.Now(), &err, zap.Int64("bill_id", billID))

	unlock := s.locks.Lock(billID)
	defer unlock()

	return s.inTx(ctx, func(ctx context.Context) error {
		return s.bills.Delete(ctx, billID)
	})
}

func (s *BillingService) GetBill(ctx context.Context, billID int64) (*domain.Bill, error) {
	return s.bills.Get(ctx, billID)
}

// GetFullBill resolves the customer and each item's product. Product stock is
// read from the ledger, prices on items stay the snapshot values.
func (s *BillingService) GetFullBill(ctx context.Context, billID int64) (*domain.FullBill, error) {
	bill, err := s.bills.Get(ctx, billID)
	if err != nil {
		return nil, err
	}

	full := &domain.FullBill{
		ID:          bill.ID,
		BillingDate: bill.BillingDate,
		CustomerID:  bill.CustomerID,
		Items:       make([]domain.FullLineItem, 0, len(bill.Items)),
		Total:       bill.Total(),
	}

	customer, err := s.customers.GetCustomer(ctx, bill.CustomerID)
	switch {
	case err == nil:
		full.Customer = customer
	case errors.Is(err, domain.ErrNotFound):
		s.log.Warn("bill_customer_missing", zap.Int64("bill_id", billID), zap.Int64("customer_id", bill.CustomerID))
	default:
		return nil, err
	}

	products := make(map[string]*domain.Product)
	for _, item := range bill.Items {
		product, ok := products[item.ProductID]
		if !ok {
			product, err = s.currentProduct(ctx, item.ProductID)
			if err != nil {
				return nil, err
			}
			products[item.ProductID] = product
		}
		full.Items = append(full.Items, domain.FullLineItem{LineItem: item, Product: product})
	}
	return full, nil
}

func (s *BillingService) ListItems(ctx context.Context, billID int64) ([]domain.LineItem, error) {
	return s.items.ListItems(ctx, billID)
}

// AddItem reserves stock and attaches a new item to the bill. A non-empty
// idempotency key makes a repeated request fail with
// domain.ErrDuplicateRequest instead of reserving twice.
func (s *BillingService) AddItem(ctx context.Context, req AddItemRequest) (item *domain.LineItem, err error) {
	defer s.done("add_item", time.Now(), &err,
		zap.Int64("bill_id", req.BillID),
		zap.String("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
	)

	if err := domain.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		key := fmt.Sprintf("line-item:%d:%s", req.BillID, req.IdempotencyKey)
		claimed, claimErr := s.idempotency.SetIdempotency(ctx, key)
		if claimErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", claimErr)
		}
		if !claimed {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err != nil {
				s.clearIdempotency(ctx, key)
			}
		}()
	}

	unlock := s.locks.Lock(req.BillID)
	defer unlock()

	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.items.AddItem(ctx, req.BillID, req.ProductID, req.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *BillingService) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) (item *domain.LineItem, err error) {
	defer s.done("update_item_quantity", time.Now(), &err,
		zap.Int64("item_id", itemID),
		zap.Int("quantity", quantity),
	)

	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	unlock, err := s.lockItemBill(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.items.UpdateQuantity(ctx, itemID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *BillingService) RemoveItem(ctx context.Context, itemID int64) (err error) {
	defer s.done("remove_item", time.Now(), &err, zap.Int64("item_id", itemID))

	unlock, err := s.lockItemBill(ctx, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.inTx(ctx, func(ctx context.Context) error {
		return s.items.RemoveItem(ctx, itemID)
	})
}

// CheckAvailability reports whether quantity units could be reserved right
// now. It reserves nothing.
func (s *BillingService) CheckAvailability(ctx context.Context, productID string, quantity int) (*Availability, error) {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	inStock, err := s.ledger.Available(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		ProductID: productID,
		Requested: quantity,
		InStock:   inStock,
		Available: inStock >= quantity,
	}, nil
}

// ListProducts returns the catalog with stock read from the ledger.
func (s *BillingService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range products {
		stock, err := s.ledger.Available(ctx, products[i].ID)
		switch {
		case err == nil:
			products[i].Quantity = stock
		case errors.Is(err, domain.ErrProductNotFound):
		default:
			return nil, err
		}
	}
	return products, nil
}

// UpdateProductPrice changes the catalog price. Existing line items keep
// their snapshot price.
func (s *BillingService) UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal) (err error) {
	defer s.done("update_product_price", time.Now(), &err,
		zap.String("product_id", productID),
		zap.String("price", price.String()),
	)

	if price.IsNegative() {
		return domain.Invalid("price must not be negative")
	}
	return s.catalog.UpdateProductPrice(ctx, productID, price)
}

// Restock adds quantity units to a product's stock outside any bill.
func (s *BillingService) Restock(ctx context.Context, productID string, quantity int) (err error) {
	defer s.done("restock", time.Now(), &err,
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)

	if err := domain.ValidateQuantity(quantity); err != nil {
		return err
	}
	return s.ledger.Restock(ctx, productID, quantity)
}

// inTx runs fn inside one repository transaction. When fn succeeds but the
// commit fails, the stock fn moved is moved back before the error returns.
func (s *BillingService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	journal := &stockJournal{}
	committing := false
	err := s.tx.RunInTx(withJournal(ctx, journal), func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		committing = true
		return nil
	})
	if err == nil || !committing {
		return err
	}
	return s.ledger.Revert(ctx, journal, err)
}

// lockItemBill locks the bill owning itemID. The bill of an item never
// changes, so the lock stays valid after the item is re-read inside it.
func (s *BillingService) lockItemBill(ctx context.Context, itemID int64) (func(), error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.locks.Lock(item.BillID), nil
}

func (s *BillingService) currentProduct(ctx context.Context, productID string) (*domain.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stock, err := s.ledger.Available(ctx, productID)
	switch {
	case err == nil:
		product.Quantity = stock
	case errors.Is(err, domain.ErrProductNotFound):
	default:
		return nil, err
	}
	return product, nil
}

func (s *BillingService) clearIdempotency(ctx context.Context, key string) {
	if err := s.idempotency.ClearIdempotency(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error("idempotency_clear_failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *BillingService) done(op string, start time.Time, errp *error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("op", op),
		zap.Float64("latency_seconds", time.Since(start).Seconds()),
	)

	err := *errp
	switch {
	case err == nil:
		s.log.Info("operation_done", append(fields, zap.String("outcome", "success"))...)
	case isClientError(err):
		s.log.Info("operation_rejected", append(fields, zap.String("outcome", "rejected"), zap.Error(err))...)
	default:
		s.log.Error("operation_failed", append(fields, zap.String("outcome", "error"), zap.Error(err))...)
	}
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrDuplicateRequest)
}
