package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrProductNotFound reports a product id absent from the catalog.
var ErrProductNotFound = errors.New("product not found")

// Period is the billing period of a subscription product.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Product maps a product id to its price, the token units it grants, and
// whether it is a recurring subscription. Treated as static configuration.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	GrantedUnits decimal.Decimal
	Subscription bool
	Period       Period
}

// Catalog is a read-only product lookup.
type Catalog struct {
	products map[string]Product
}

// New creates a catalog from a fixed product list.
func New(products []Product) *Catalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &Catalog{products: m}
}

// Default returns the built-in product set.
func Default() *Catalog {
	return New([]Product{
		{
			ID:           "credits_small",
			Name:         "Token pack S",
			Price:        decimal.RequireFromString("9.9"),
			GrantedUnits: decimal.RequireFromString("100"),
		},
		{
			ID:           "credits_large",
			Name:         "Token pack L",
			Price:        decimal.RequireFromString("49.9"),
			GrantedUnits: decimal.RequireFromString("600"),
		},
		{
			ID:           "sub_monthly",
			Name:         "Pro monthly",
			Price:        decimal.RequireFromString("19.9"),
			GrantedUnits: decimal.RequireFromString("300"),
			Subscription: true,
			Period:       PeriodMonthly,
		},
		{
			ID:           "sub_yearly",
			Name:         "Pro yearly",
			Price:        decimal.RequireFromString("199"),
			GrantedUnits: decimal.RequireFromString("4000"),
			Subscription: true,
			Period:       PeriodYearly,
		},
	})
}

// Get looks up a product by id.
func (c *Catalog) Get(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}
