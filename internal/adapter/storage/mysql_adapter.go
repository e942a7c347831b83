package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/billing/internal/core/domain"
)

type txKey struct{}

// querier is the subset of *sql.DB and *sql.Tx used by the adapter.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return m.db
}

// RunInTx opens a transaction and hands fn a context carrying it. Nested calls
// join the outer transaction.
func (m *MySQLAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	// Reads after LockBill must see rows committed by the previous holder.
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) AddCustomer(ctx context.Context, customer *domain.Customer) error {
	result, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO customers (name, email) VALUES (?, ?)`,
		customer.Name, customer.Email,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("customer id: %w", err)
	}
	customer.ID = id
	return nil
}

func (m *MySQLAdapter) CustomerExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := m.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM customers WHERE id = ?)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query customer: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := m.conn(ctx).QueryRowContext(ctx,
		`SELECT id, name, email FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &c, nil
}

// AddProduct upserts a catalog entry together with its stock.
func (m *MySQLAdapter) AddProduct(ctx context.Context, product domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, version, updated_at)
		VALUES (?, ?, ?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price),
			stock = VALUES(stock), version = version + 1, updated_at = NOW()`,
		product.ID, product.Name, product.Price, product.Quantity,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, price, stock, version, updated_at
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.conn(ctx).QueryContext(ctx, `
		SELECT id, name, price, stock, version, updated_at
		FROM products ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) UpdateProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	result, err := m.conn(ctx).ExecContext(ctx, `
		UPDATE products
		SET price = ?, version = version + 1, updated_at = NOW()
		WHERE id = ?`,
		price, id,
	)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// DecrementStock is a single conditional UPDATE; the row lock MySQL takes for
// it serializes concurrent reservations on the same product.
func (m *MySQLAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	q := m.conn(ctx)
	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	exists, err := m.productExists(ctx, q, productID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrProductNotFound
	}
	return false, nil
}

func (m *MySQLAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	result, err := m.conn(ctx).ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = NOW()
		WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (m *MySQLAdapter) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := m.conn(ctx).QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = ?`, productID,
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

func (m *MySQLAdapter) productExists(ctx context.Context, q querier, productID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)`, productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query product: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) CreateBill(ctx context.Context, bill *domain.Bill) error {
	result, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO bills (billing_date, customer_id) VALUES (?, ?)`,
		bill.BillingDate, bill.CustomerID,
	)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("bill id: %w", err)
	}
	bill.ID = id
	bill.Items = nil
	return nil
}

func (m *MySQLAdapter) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT id, billing_date, customer_id FROM bills WHERE id = ?`, id,
	).Scan(&bill.ID, &bill.BillingDate, &bill.CustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bill: %w", err)
	}

	items, err := m.listLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	bill.Items = items
	return &bill, nil
}

// LockBill takes a row lock on the bill when called inside RunInTx.
func (m *MySQLAdapter) LockBill(ctx context.Context, id int64) error {
	var found int64
	err := m.conn(ctx).QueryRowContext(ctx,
		`SELECT id FROM bills WHERE id = ? FOR UPDATE`, id,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrBillNotFound
	}
	if err != nil {
		return fmt.Errorf("lock bill: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateBill(ctx context.Context, bill domain.Bill) error {
	q := m.conn(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE bills SET billing_date = ?, customer_id = ? WHERE id = ?`,
		bill.BillingDate, bill.CustomerID, bill.ID,
	)
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	// RowsAffected is 0 for unchanged rows too, so confirm existence separately.
	return m.LockBill(ctx, bill.ID)
}

func (m *MySQLAdapter) DeleteBill(ctx context.Context, id int64) error {
	q := m.conn(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM line_items WHERE bill_id = ?`, id); err != nil {
		return fmt.Errorf("delete bill items: %w", err)
	}
	result, err := q.ExecContext(ctx, `DELETE FROM bills WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrBillNotFound
	}
	return nil
}

func (m *MySQLAdapter) CreateLineItem(ctx context.Context, item *domain.LineItem) error {
	q := m.conn(ctx)
	result, err := q.ExecContext(ctx, `
		INSERT INTO line_items (bill_id, product_id, quantity, unit_price)
		SELECT id, ?, ?, ? FROM bills WHERE id = ?`,
		item.ProductID, item.Quantity, item.UnitPrice, item.BillID,
	)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrBillNotFound
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("line item id: %w", err)
	}
	item.ID = id
	return nil
}

func (m *MySQLAdapter) GetLineItem(ctx context.Context, id int64) (*domain.LineItem, error) {
	var item domain.LineItem
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT id, bill_id, product_id, quantity, unit_price
		FROM line_items WHERE id = ?`, id,
	).Scan(&item.ID, &item.BillID, &item.ProductID, &item.Quantity, &item.UnitPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLineItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query line item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListLineItems(ctx context.Context, billID int64) ([]domain.LineItem, error) {
	var found int64
	err := m.conn(ctx).QueryRowContext(ctx, `SELECT id FROM bills WHERE id = ?`, billID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bill: %w", err)
	}
	return m.listLineItems(ctx, billID)
}

func (m *MySQLAdapter) listLineItems(ctx context.Context, billID int64) ([]domain.LineItem, error) {
	rows, err := m.conn(ctx).QueryContext(ctx, `
		SELECT id, bill_id, product_id, quantity, unit_price
		FROM line_items WHERE bill_id = ? ORDER BY id`, billID,
	)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) UpdateLineItemQuantity(ctx context.Context, id int64, quantity int) error {
	result, err := m.conn(ctx).ExecContext(ctx,
		`UPDATE line_items SET quantity = ? WHERE id = ?`, quantity, id,
	)
	if err != nil {
		return fmt.Errorf("update line item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrLineItemNotFound
	}
	return nil
}

func (m *MySQLAdapter) DeleteLineItem(ctx context.Context, id int64) error {
	result, err := m.conn(ctx).ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrLineItemNotFound
	}
	return nil
}
