package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(12, 2) NOT NULL,
		stock INT NOT NULL,
		version INT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		CONSTRAINT chk_products_stock CHECK (stock >= 0),
		CONSTRAINT chk_products_price CHECK (price >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		billing_date DATETIME(6) NOT NULL,
		customer_id BIGINT NOT NULL,
		CONSTRAINT fk_bills_customer FOREIGN KEY (customer_id) REFERENCES customers (id)
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		bill_id BIGINT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(12, 2) NOT NULL,
		INDEX idx_line_items_bill (bill_id),
		CONSTRAINT chk_line_items_quantity CHECK (quantity >= 1),
		CONSTRAINT fk_line_items_bill FOREIGN KEY (bill_id) REFERENCES bills (id),
		CONSTRAINT fk_line_items_product FOREIGN KEY (product_id) REFERENCES products (id)
	)`,
}

// Migrate creates the tables the adapter needs when they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
