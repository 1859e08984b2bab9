// Package pricing derives checkout totals from cart lines and discounts.
// Everything here is pure; callers recompute on every read.
package pricing

import (
	"github.com/shopspring/decimal"

	"flowershop/internal/domain"
)

var (
	// FreeDeliveryThreshold is exclusive: a subtotal of exactly 1000 still pays delivery.
	FreeDeliveryThreshold = decimal.NewFromInt(1000)
	StandardDeliveryFee   = decimal.NewFromInt(200)
)

type Input struct {
	Items           []domain.CartItem
	PromoPercentage int
	BonusRequested  int64
	BonusAvailable  int64
}

type Breakdown struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	PromoDiscount   decimal.Decimal `json:"promo_discount"`
	BonusDiscount   decimal.Decimal `json:"bonus_discount"`
	Total           decimal.Decimal `json:"total"`
	BonusPointsUsed int64           `json:"bonus_points_used"`
}

func Subtotal(items []domain.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func DeliveryFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return StandardDeliveryFee
}

// PromoDiscount is rounded to kopecks. Percentages outside 0..100 are clamped.
func PromoDiscount(subtotal decimal.Decimal, percentage int) decimal.Decimal {
	if percentage <= 0 {
		return decimal.Zero
	}
	if percentage > 100 {
		percentage = 100
	}
	return subtotal.Mul(decimal.NewFromInt(int64(percentage))).Div(decimal.NewFromInt(100)).Round(2)
}

// ClampBonus limits a redemption request to the balance the user actually has.
func ClampBonus(requested, available int64) int64 {
	if requested < 0 || available <= 0 {
		return 0
	}
	if requested > available {
		return available
	}
	return requested
}

func Calculate(in Input) Breakdown {
	subtotal := Subtotal(in.Items)
	fee := DeliveryFee(subtotal)
	promo := PromoDiscount(subtotal, in.PromoPercentage)

	payable := subtotal.Add(fee).Sub(promo)
	if payable.IsNegative() {
		payable = decimal.Zero
	}

	bonus := decimal.NewFromInt(ClampBonus(in.BonusRequested, in.BonusAvailable))
	if bonus.GreaterThan(payable) {
		bonus = payable
	}

	total := payable.Sub(bonus)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Breakdown{
		Subtotal:        subtotal,
		DeliveryFee:     fee,
		PromoDiscount:   promo,
		BonusDiscount:   bonus,
		Total:           total,
		BonusPointsUsed: bonus.Ceil().IntPart(),
	}
}
