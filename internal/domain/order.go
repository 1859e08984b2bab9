package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderPaid       OrderStatus = "paid"
	OrderDelivering OrderStatus = "delivering"
	OrderDelivered  OrderStatus = "delivered"
	OrderCanceled   OrderStatus = "canceled"
)

type OrderLine struct {
	FlowerID string `json:"flower_id"`
	Quantity int    `json:"quantity"`
}

// OrderRequest is the payload of POST /orders. The mixed key casing is the
// backend's contract and must not be normalized.
type OrderRequest struct {
	Items                []OrderLine     `json:"items"`
	DeliveryAddress      string          `json:"delivery_address"`
	DeliveryDate         string          `json:"delivery_date"`
	DeliverySlot         Slot            `json:"delivery_slot"`
	DeliveryInstructions string          `json:"delivery_instructions,omitempty"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	BonusPointsUsed      int64           `json:"bonusPointsUsed"`
	PromoCode            string          `json:"promoCode,omitempty"`
}

type Order struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	Items                []OrderLine     `json:"items"`
	DeliveryAddress      string          `json:"delivery_address"`
	DeliveryDate         string          `json:"delivery_date"`
	DeliverySlot         Slot            `json:"delivery_slot"`
	DeliveryInstructions string          `json:"delivery_instructions,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	DeliveryFee          decimal.Decimal `json:"delivery_fee"`
	Discount             decimal.Decimal `json:"discount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	BonusPointsUsed      int64           `json:"bonusPointsUsed"`
	BonusPointsEarned    int64           `json:"bonusPointsEarned"`
	PromoCode            string          `json:"promoCode,omitempty"`
	Status               OrderStatus     `json:"status"`
	IdempotencyKey       string          `json:"-"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
