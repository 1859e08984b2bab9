package checkout

import (
	"strings"

	"flowershop/internal/domain"
	"flowershop/internal/pricing"
)

// BuildOrderRequest turns the checkout state into the POST /orders payload.
func BuildOrderRequest(items []domain.CartItem, sel domain.DeliverySelection, promoCode string, b pricing.Breakdown) domain.OrderRequest {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.OrderLine{FlowerID: it.Flower.ID, Quantity: it.Quantity})
	}
	return domain.OrderRequest{
		Items:                lines,
		DeliveryAddress:      strings.TrimSpace(sel.Address),
		DeliveryDate:         strings.TrimSpace(sel.Date),
		DeliverySlot:         sel.Slot,
		DeliveryInstructions: strings.TrimSpace(sel.Instructions),
		TotalAmount:          b.Total,
		BonusPointsUsed:      b.BonusPointsUsed,
		PromoCode:            promoCode,
	}
}
