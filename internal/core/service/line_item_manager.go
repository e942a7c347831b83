package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/metrics"
	"github.com/rl1809/billing/internal/port"
)

// LineItemManager mutates line items and keeps the ledger in step with them.
// Every ledger step taken is undone if the matching item write fails.
type LineItemManager struct {
	items   port.LineItemRepository
	bills   port.BillRepository
	catalog port.ProductCatalog
	ledger  *InventoryLedger
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLineItemManager(
	items port.LineItemRepository,
	bills port.BillRepository,
	catalog port.ProductCatalog,
	ledger *InventoryLedger,
	log *zap.Logger,
	m *metrics.Metrics,
) *LineItemManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LineItemManager{
		items:   items,
		bills:   bills,
		catalog: catalog,
		ledger:  ledger,
		log:     log,
		metrics: m,
	}
}

// AddItem reserves quantity units of the product and attaches a new item to
// the bill at the product's current price.
func (m *LineItemManager) AddItem(ctx context.Context, billID int64, productID string, quantity int) (_ *domain.LineItem, err error) {
	defer func() { m.metrics.LineItemOp("add", err) }()

	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	if billID <= 0 {
		return nil, domain.Invalid("bill id is required")
	}
	if productID == "" {
		return nil, domain.Invalid("product id is required")
	}
	if err := m.bills.LockBill(ctx, billID); err != nil {
		return nil, err
	}

	product, err := m.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := m.ledger.Reserve(ctx, productID, quantity); err != nil {
		return nil, err
	}

	item := &domain.LineItem{
		BillID:    billID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}
	if err := m.items.CreateLineItem(ctx, item); err != nil {
		return nil, m.compensate(ctx, err, productID, -quantity)
	}

	m.log.Info("line_item_added",
		zap.Int64("bill_id", billID),
		zap.Int64("item_id", item.ID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("unit_price", item.UnitPrice.String()),
	)
	return item, nil
}

// UpdateQuantity moves the item to newQuantity, reserving or releasing only
// the difference. A rejected reservation leaves both item and stock as they
// were.
func (m *LineItemManager) UpdateQuantity(ctx context.Context, itemID int64, newQuantity int) (_ *domain.LineItem, err error) {
	defer func() { m.metrics.LineItemOp("update", err) }()

	if err := domain.ValidateQuantity(newQuantity); err != nil {
		return nil, err
	}

	item, err := m.lockedItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	delta := newQuantity - item.Quantity
	if delta == 0 {
		return item, nil
	}

	if err := m.ledger.Adjust(ctx, item.ProductID, delta); err != nil {
		return nil, err
	}
	if err := m.items.UpdateLineItemQuantity(ctx, itemID, newQuantity); err != nil {
		return nil, m.compensate(ctx, err, item.ProductID, -delta)
	}

	m.log.Info("line_item_quantity_updated",
		zap.Int64("bill_id", item.BillID),
		zap.Int64("item_id", itemID),
		zap.String("product_id", item.ProductID),
		zap.Int("from", item.Quantity),
		zap.Int("to", newQuantity),
	)
	item.Quantity = newQuantity
	return item, nil
}

// RemoveItem releases the item's full quantity and deletes it.
func (m *LineItemManager) RemoveItem(ctx context.Context, itemID int64) (err error) {
	defer func() { m.metrics.LineItemOp("remove", err) }()

	item, err := m.lockedItem(ctx, itemID)
	if err != nil {
		return err
	}
	return m.remove(ctx, *item)
}

// ReleaseAll returns the stock held by every item of the bill without
// deleting the item rows. The returned undo re-reserves what was released and
// is meant for a failed follow-up step; it returns cause, joined with any
// rollback failure.
func (m *LineItemManager) ReleaseAll(ctx context.Context, billID int64) (undo func(cause error) error, err error) {
	items, err := m.items.ListLineItems(ctx, billID)
	if err != nil {
		return nil, err
	}

	released := make([]domain.LineItem, 0, len(items))
	undo = func(cause error) error {
		for i := len(released) - 1; i >= 0; i-- {
			cause = m.compensate(ctx, cause, released[i].ProductID, released[i].Quantity)
		}
		return cause
	}

	for _, item := range items {
		if err := m.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
			return nil, undo(fmt.Errorf("release item %d of bill %d: %w", item.ID, billID, err))
		}
		released = append(released, item)
	}

	m.log.Info("bill_items_released",
		zap.Int64("bill_id", billID),
		zap.Int("items", len(released)),
	)
	return undo, nil
}

func (m *LineItemManager) GetItem(ctx context.Context, itemID int64) (*domain.LineItem, error) {
	return m.items.GetLineItem(ctx, itemID)
}

func (m *LineItemManager) ListItems(ctx context.Context, billID int64) ([]domain.LineItem, error) {
	return m.items.ListLineItems(ctx, billID)
}

// lockedItem locks the bill owning itemID and reads the item again under that
// lock, so the quantity it returns cannot change before the caller writes.
func (m *LineItemManager) lockedItem(ctx context.Context, itemID int64) (*domain.LineItem, error) {
	item, err := m.items.GetLineItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := m.bills.LockBill(ctx, item.BillID); err != nil {
		return nil, err
	}
	return m.items.GetLineItem(ctx, itemID)
}

func (m *LineItemManager) remove(ctx context.Context, item domain.LineItem) error {
	if err := m.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
		return err
	}
	if err := m.items.DeleteLineItem(ctx, item.ID); err != nil {
		return m.compensate(ctx, err, item.ProductID, item.Quantity)
	}

	m.log.Info("line_item_removed",
		zap.Int64("bill_id", item.BillID),
		zap.Int64("item_id", item.ID),
		zap.String("product_id", item.ProductID),
		zap.Int("quantity", item.Quantity),
	)
	return nil
}

// compensate reverts a ledger step by applying delta and returns cause,
// joined with the rollback failure if there was one.
func (m *LineItemManager) compensate(ctx context.Context, cause error, productID string, delta int) error {
	rollbackErr := m.ledger.Adjust(ctx, productID, delta)
	if rollbackErr == nil {
		m.log.Warn("stock_rolled_back",
			zap.String("product_id", productID),
			zap.Int("delta", delta),
			zap.Error(cause),
		)
		return cause
	}

	m.log.Error("stock_rollback_failed",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Error(cause),
		zap.NamedError("rollback_error", rollbackErr),
	)
	return errors.Join(cause, fmt.Errorf("rollback stock of %s: %w", productID, rollbackErr))
}
