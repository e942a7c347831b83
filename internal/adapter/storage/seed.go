package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/billing/internal/core/domain"
)

// Seeder is implemented by adapters that accept catalog and customer records
// directly, outside the ledger.
type Seeder interface {
	AddCustomer(ctx context.Context, customer *domain.Customer) error
	AddProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

var productNamespace = uuid.MustParse("6f1c63b4-8d0e-4a55-9e8f-2d0f6c1b7a10")

// ProductID derives a stable product id from its name.
func ProductID(name string) string {
	return uuid.NewSHA1(productNamespace, []byte(name)).String()
}

// SeedDemoData loads a few customers and products. It does nothing when the
// catalog already holds the demo products, so restarting against a persistent
// store keeps its stock.
func SeedDemoData(ctx context.Context, s Seeder) (seeded bool, err error) {
	products := []domain.Product{
		{Name: "Computer Desk Top HP", Price: decimal.NewFromInt(7500), Quantity: 12},
		{Name: "Printer Epson", Price: decimal.NewFromInt(1000), Quantity: 30},
		{Name: "MacBook Pro Lap Top", Price: decimal.NewFromInt(1800), Quantity: 4},
	}

	_, err = s.GetProduct(ctx, ProductID(products[0].Name))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		return false, fmt.Errorf("check catalog: %w", err)
	}

	customers := []domain.Customer{
		{Name: "Hassan", Email: "hassan@gmail.com"},
		{Name: "Fadwa", Email: "fadwa@gmail.com"},
		{Name: "Marwan", Email: "marwan@gmail.com"},
	}
	for i := range customers {
		if err := s.AddCustomer(ctx, &customers[i]); err != nil {
			return false, fmt.Errorf("seed customer %s: %w", customers[i].Name, err)
		}
	}

	for _, p := range products {
		p.ID = ProductID(p.Name)
		if err := s.AddProduct(ctx, p); err != nil {
			return false, fmt.Errorf("seed product %s: %w", p.Name, err)
		}
	}
	return true, nil
}
