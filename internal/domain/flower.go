package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Flower struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category,omitempty"`
	Price            decimal.Decimal `json:"price"`
	ImageURL         string          `json:"image_url,omitempty"`
	InStock          bool            `json:"in_stock"`
	MaxOrderQuantity int             `json:"max_order_quantity,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CartItem is one line of the cart. The flower is captured at add time,
// so its price is the one the customer saw.
type CartItem struct {
	Flower   Flower `json:"flower"`
	Quantity int    `json:"quantity"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Flower.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type PromoCode struct {
	Code       string `json:"code"`
	Percentage int    `json:"percentage"`
	Active     bool   `json:"active"`
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

func NewPage[T any](items []T, total, page, pageSize int) Page[T] {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: page, Pages: pages}
}

// Catalog sort orders.
const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
	SortNewest    = "newest"
)

// FlowerFilter selects a page of the catalog. Zero values mean "any".
type FlowerFilter struct {
	Category string
	Search   string
	InStock  *bool
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Sort     string
	Page     int
	PageSize int
}
