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

// InventoryLedger is the only component allowed to move stock for line items.
// Atomicity of each step comes from the underlying StockRepository.
type InventoryLedger struct {
	stock   port.StockRepository
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewInventoryLedger(stock port.StockRepository, log *zap.Logger, m *metrics.Metrics) *InventoryLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &InventoryLedger{stock: stock, log: log, metrics: m}
}

// Reserve takes quantity units out of stock or fails with
// domain.ErrInsufficientStock, leaving stock untouched.
func (l *InventoryLedger) Reserve(ctx context.Context, productID string, quantity int) (err error) {
	defer func() { l.metrics.StockOp("reserve", err) }()

	if quantity < 1 {
		return domain.Invalid("reserve quantity must be at least 1, got %d", quantity)
	}

	ok, err := l.stock.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", productID, err)
	}
	if !ok {
		return domain.ErrInsufficientStock
	}

	recordStep(ctx, productID, quantity)
	l.log.Debug("stock_reserved",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return nil
}

// Release returns quantity units to stock.
func (l *InventoryLedger) Release(ctx context.Context, productID string, quantity int) (err error) {
	defer func() { l.metrics.StockOp("release", err) }()

	if quantity < 1 {
		return domain.Invalid("release quantity must be at least 1, got %d", quantity)
	}

	if err := l.stock.IncrementStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}

	recordStep(ctx, productID, -quantity)
	l.log.Debug("stock_released",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return nil
}

// Restock adds stock that no line item accounts for, such as a new delivery.
func (l *InventoryLedger) Restock(ctx context.Context, productID string, quantity int) (err error) {
	defer func() { l.metrics.StockOp("restock", err) }()

	if quantity < 1 {
		return domain.Invalid("restock quantity must be at least 1, got %d", quantity)
	}
	if err := l.stock.IncrementStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("restock %s: %w", productID, err)
	}

	l.log.Info("stock_restocked",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return nil
}

// Adjust reserves a positive delta and releases a negative one. A zero delta
// does not touch stock.
func (l *InventoryLedger) Adjust(ctx context.Context, productID string, delta int) error {
	switch {
	case delta > 0:
		return l.Reserve(ctx, productID, delta)
	case delta < 0:
		return l.Release(ctx, productID, -delta)
	default:
		return nil
	}
}

func (l *InventoryLedger) Available(ctx context.Context, productID string) (int, error) {
	stock, err := l.stock.GetStock(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("stock of %s: %w", productID, err)
	}
	return stock, nil
}

// Revert undoes the reservations and releases recorded in j, newest first. It
// returns cause joined with every step that could not be undone.
func (l *InventoryLedger) Revert(ctx context.Context, j *stockJournal, cause error) error {
	ctx = context.WithoutCancel(ctx)
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := l.Adjust(ctx, step.productID, -step.reserved); err != nil {
			l.log.Error("stock_revert_failed",
				zap.String("product_id", step.productID),
				zap.Int("reserved", step.reserved),
				zap.Error(cause),
				zap.NamedError("revert_error", err),
			)
			cause = errors.Join(cause, fmt.Errorf("revert stock of %s: %w", step.productID, err))
			continue
		}
		l.log.Warn("stock_reverted",
			zap.String("product_id", step.productID),
			zap.Int("reserved", step.reserved),
			zap.Error(cause),
		)
	}
	return cause
}

type journalKey struct{}

type journalStep struct {
	productID string
	reserved  int
}

// stockJournal lists the ledger steps taken by one service call. It lets the
// call move stock back when the repository commit fails, since the stock
// backend may sit outside the repository transaction.
type stockJournal struct {
	steps []journalStep
}

func withJournal(ctx context.Context, j *stockJournal) context.Context {
	return context.WithValue(ctx, journalKey{}, j)
}

func recordStep(ctx context.Context, productID string, reserved int) {
	if j, ok := ctx.Value(journalKey{}).(*stockJournal); ok {
		j.steps = append(j.steps, journalStep{productID: productID, reserved: reserved})
	}
}
