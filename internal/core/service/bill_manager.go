package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/port"
)

type BillManager struct {
	bills     port.BillRepository
	customers port.CustomerDirectory
	items     *LineItemManager
	log       *zap.Logger
	now       func() time.Time
}

func NewBillManager(bills port.BillRepository, customers port.CustomerDirectory, items *LineItemManager, log *zap.Logger) *BillManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillManager{
		bills:     bills,
		customers: customers,
		items:     items,
		log:       log,
		now:       time.Now,
	}
}

// Create opens an empty bill for an existing customer. A zero billingDate is
// stamped with the current time.
func (m *BillManager) Create(ctx context.Context, customerID int64, billingDate time.Time) (*domain.Bill, error) {
	if err := m.requireCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if billingDate.IsZero() {
		billingDate = m.now()
	}

	bill := &domain.Bill{CustomerID: customerID, BillingDate: billingDate.UTC()}
	if err := m.bills.CreateBill(ctx, bill); err != nil {
		return nil, err
	}

	m.log.Info("bill_created",
		zap.Int64("bill_id", bill.ID),
		zap.Int64("customer_id", customerID),
	)
	return bill, nil
}

// Update changes the customer and billing date. Items are left alone.
func (m *BillManager) Update(ctx context.Context, billID, customerID int64, billingDate time.Time) (*domain.Bill, error) {
	bill, err := m.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}

	if customerID != 0 && customerID != bill.CustomerID {
		if err := m.requireCustomer(ctx, customerID); err != nil {
			return nil, err
		}
		bill.CustomerID = customerID
	}
	if !billingDate.IsZero() {
		bill.BillingDate = billingDate.UTC()
	}

	if err := m.bills.UpdateBill(ctx, *bill); err != nil {
		return nil, err
	}

	m.log.Info("bill_updated",
		zap.Int64("bill_id", billID),
		zap.Int64("customer_id", bill.CustomerID),
	)
	return bill, nil
}

// Delete releases every item's reservation, then drops the bill together
// with its item rows. A failed drop re-reserves the released stock.
func (m *BillManager) Delete(ctx context.Context, billID int64) error {
	if err := m.bills.LockBill(ctx, billID); err != nil {
		return err
	}

	undo, err := m.items.ReleaseAll(ctx, billID)
	if err != nil {
		return err
	}
	if err := m.bills.DeleteBill(ctx, billID); err != nil {
		return undo(err)
	}

	m.log.Info("bill_deleted", zap.Int64("bill_id", billID))
	return nil
}

func (m *BillManager) Get(ctx context.Context, billID int64) (*domain.Bill, error) {
	return m.bills.GetBill(ctx, billID)
}

func (m *BillManager) requireCustomer(ctx context.Context, customerID int64) error {
	if customerID <= 0 {
		return domain.Invalid("customer id is required")
	}
	ok, err := m.customers.CustomerExists(ctx, customerID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCustomerNotFound
	}
	return nil
}
