package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Quantity is the stock on hand and only changes
// through the inventory ledger or an administrative restock.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Version   int             `json:"-"`
	UpdatedAt time.Time       `json:"-"`
}

func (p Product) Validate() error {
	if p.ID == "" {
		return Invalid("product id is required")
	}
	if p.Price.IsNegative() {
		return Invalid("price must not be negative")
	}
	if p.Quantity < 0 {
		return Invalid("quantity in stock must not be negative")
	}
	return nil
}
