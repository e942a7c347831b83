package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bill struct {
	ID          int64      `json:"id"`
	BillingDate time.Time  `json:"billingDate"`
	CustomerID  int64      `json:"customerId"`
	Items       []LineItem `json:"items,omitempty"`
}

// LineItem reserves Quantity units of a product for a bill. UnitPrice is the
// product price at the moment the item was created and never changes.
type LineItem struct {
	ID        int64           `json:"id"`
	BillID    int64           `json:"billId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Subtotal is Quantity × UnitPrice.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Total sums the subtotals of items; zero when there are none.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (b Bill) Total() decimal.Decimal {
	return Total(b.Items)
}

// ValidateQuantity enforces the lower bound every line item quantity must meet.
func ValidateQuantity(quantity int) error {
	if quantity < 1 {
		return Invalid("quantity must be at least 1, got %d", quantity)
	}
	return nil
}

// FullBill is a bill with its customer and each item's current product
// resolved, as returned to presentation clients.
type FullBill struct {
	ID          int64           `json:"id"`
	BillingDate time.Time       `json:"billingDate"`
	CustomerID  int64           `json:"customerId"`
	Customer    *Customer       `json:"customer,omitempty"`
	Items       []FullLineItem  `json:"items"`
	Total       decimal.Decimal `json:"total"`
}

type FullLineItem struct {
	LineItem
	Product *Product `json:"product,omitempty"`
}
