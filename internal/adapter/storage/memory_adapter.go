package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/billing/internal/core/domain"
)

// stockCell guards one product. Stock checks and updates for different
// products never contend.
type stockCell struct {
	mu      sync.Mutex
	product domain.Product
}

// MemoryAdapter keeps every record in process memory. It implements the full
// port.Store and is the default backend.
type MemoryAdapter struct {
	mu        sync.RWMutex
	customers map[int64]domain.Customer
	products  map[string]*stockCell
	bills     map[int64]domain.Bill
	items     map[int64]domain.LineItem
	billItems map[int64][]int64

	nextCustomerID int64
	nextBillID     int64
	nextItemID     int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		customers: make(map[int64]domain.Customer),
		products:  make(map[string]*stockCell),
		bills:     make(map[int64]domain.Bill),
		items:     make(map[int64]domain.LineItem),
		billItems: make(map[int64][]int64),
	}
}

// RunInTx runs fn directly. Callers compensate ledger steps on failure and
// the billing service serializes per bill.
func (m *MemoryAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryAdapter) AddCustomer(ctx context.Context, customer *domain.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if customer.ID == 0 {
		m.nextCustomerID++
		customer.ID = m.nextCustomerID
	} else if customer.ID > m.nextCustomerID {
		m.nextCustomerID = customer.ID
	}
	m.customers[customer.ID] = *customer
	return nil
}

func (m *MemoryAdapter) CustomerExists(ctx context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.customers[id]
	return ok, nil
}

func (m *MemoryAdapter) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

// AddProduct inserts or replaces a catalog entry, including its stock.
func (m *MemoryAdapter) AddProduct(ctx context.Context, product domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	product.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cell, ok := m.products[product.ID]; ok {
		cell.mu.Lock()
		cell.product = product
		cell.mu.Unlock()
		return nil
	}
	m.products[product.ID] = &stockCell{product: product}
	return nil
}

func (m *MemoryAdapter) cell(productID string) (*stockCell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cell, ok := m.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cell, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	cell, err := m.cell(id)
	if err != nil {
		return nil, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	p := cell.product
	return &p, nil
}

func (m *MemoryAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	cells := make([]*stockCell, 0, len(m.products))
	for _, cell := range m.products {
		cells = append(cells, cell)
	}
	m.mu.RUnlock()

	products := make([]domain.Product, 0, len(cells))
	for _, cell := range cells {
		cell.mu.Lock()
		products = append(products, cell.product)
		cell.mu.Unlock()
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (m *MemoryAdapter) UpdateProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	cell, err := m.cell(id)
	if err != nil {
		return err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.product.Price = price
	cell.product.Version++
	cell.product.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	cell, err := m.cell(productID)
	if err != nil {
		return false, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.product.Quantity < quantity {
		return false, nil
	}
	cell.product.Quantity -= quantity
	cell.product.Version++
	cell.product.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	cell, err := m.cell(productID)
	if err != nil {
		return err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	cell.product.Quantity += quantity
	cell.product.Version++
	cell.product.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryAdapter) GetStock(ctx context.Context, productID string) (int, error) {
	cell, err := m.cell(productID)
	if err != nil {
		return 0, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.product.Quantity, nil
}

func (m *MemoryAdapter) CreateBill(ctx context.Context, bill *domain.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextBillID++
	bill.ID = m.nextBillID
	bill.Items = nil
	m.bills[bill.ID] = *bill
	m.billItems[bill.ID] = nil
	return nil
}

func (m *MemoryAdapter) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bill, ok := m.bills[id]
	if !ok {
		return nil, domain.ErrBillNotFound
	}
	bill.Items = m.itemsOfLocked(id)
	return &bill, nil
}

func (m *MemoryAdapter) LockBill(ctx context.Context, id int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.bills[id]; !ok {
		return domain.ErrBillNotFound
	}
	return nil
}

func (m *MemoryAdapter) UpdateBill(ctx context.Context, bill domain.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[bill.ID]; !ok {
		return domain.ErrBillNotFound
	}
	bill.Items = nil
	m.bills[bill.ID] = bill
	return nil
}

// DeleteBill removes the bill and any item rows still attached to it.
func (m *MemoryAdapter) DeleteBill(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[id]; !ok {
		return domain.ErrBillNotFound
	}
	for _, itemID := range m.billItems[id] {
		delete(m.items, itemID)
	}
	delete(m.billItems, id)
	delete(m.bills, id)
	return nil
}

func (m *MemoryAdapter) CreateLineItem(ctx context.Context, item *domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bills[item.BillID]; !ok {
		return domain.ErrBillNotFound
	}
	m.nextItemID++
	item.ID = m.nextItemID
	m.items[item.ID] = *item
	m.billItems[item.BillID] = append(m.billItems[item.BillID], item.ID)
	return nil
}

func (m *MemoryAdapter) GetLineItem(ctx context.Context, id int64) (*domain.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrLineItemNotFound
	}
	return &item, nil
}

func (m *MemoryAdapter) ListLineItems(ctx context.Context, billID int64) ([]domain.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.bills[billID]; !ok {
		return nil, domain.ErrBillNotFound
	}
	return m.itemsOfLocked(billID), nil
}

func (m *MemoryAdapter) UpdateLineItemQuantity(ctx context.Context, id int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return domain.ErrLineItemNotFound
	}
	item.Quantity = quantity
	m.items[id] = item
	return nil
}

func (m *MemoryAdapter) DeleteLineItem(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return domain.ErrLineItemNotFound
	}
	delete(m.items, id)

	ids := m.billItems[item.BillID]
	for i, itemID := range ids {
		if itemID == id {
			m.billItems[item.BillID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryAdapter) itemsOfLocked(billID int64) []domain.LineItem {
	ids := m.billItems[billID]
	items := make([]domain.LineItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.items[id])
	}
	return items
}
