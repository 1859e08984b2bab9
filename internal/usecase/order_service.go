package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
	"flowershop/internal/pricing"
)

// DefaultAccrualPercent of the paid total is credited back as bonus points.
const DefaultAccrualPercent = 5

type OrderService struct {
	Repo           OrderRepo
	Users          UserRepo
	Flowers        FlowerRepo
	Promos         pricing.PromoResolver
	Notifier       Notifier
	Location       *time.Location
	AccrualPercent int
	Now            func() time.Time
	Logger         *zap.Logger
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *OrderService) log() *zap.Logger { return logging.OrNop(s.Logger).Named("orders") }

// Create prices the request against live data and stores it. A repeated
// idempotency key returns the stored order with created=false, provided the
// request describes the same order.
func (s *OrderService) Create(ctx context.Context, userID, idempotencyKey string, req domain.OrderRequest) (*domain.Order, bool, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		if o, ok := s.Repo.GetOrderByKey(ctx, userID, key); ok {
			return s.replay(o, req)
		}
	}

	u, ok := s.Users.GetUser(ctx, userID)
	if !ok {
		return nil, false, ErrUnauthorized("unknown user")
	}
	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, false, err
	}
	sel := domain.DeliverySelection{
		Address:      req.DeliveryAddress,
		Date:         req.DeliveryDate,
		Slot:         req.DeliverySlot,
		Instructions: req.DeliveryInstructions,
	}
	if err := domain.ValidateDelivery(sel, s.now(), s.Location); err != nil {
		return nil, false, ErrBadRequest(err.Error())
	}

	pct := 0
	promo := pricing.NormalizeCode(req.PromoCode)
	if promo != "" {
		if s.Promos == nil {
			return nil, false, ErrBadRequest("unknown promo code")
		}
		pct, err = s.Promos.Resolve(ctx, promo)
		if errors.Is(err, pricing.ErrUnknownPromo) {
			return nil, false, ErrBadRequest("unknown promo code")
		}
		if err != nil {
			return nil, false, err
		}
	}
	if req.BonusPointsUsed < 0 {
		return nil, false, ErrBadRequest("bonusPointsUsed must not be negative")
	}
	if req.BonusPointsUsed > u.BonusBalance {
		return nil, false, ErrConflict("insufficient bonus balance")
	}

	b := pricing.Calculate(pricing.Input{
		Items:           items,
		PromoPercentage: pct,
		BonusRequested:  req.BonusPointsUsed,
		BonusAvailable:  u.BonusBalance,
	})
	if b.BonusPointsUsed != req.BonusPointsUsed {
		return nil, false, ErrConflict(fmt.Sprintf("bonus redemption is %d points, not %d", b.BonusPointsUsed, req.BonusPointsUsed))
	}
	if !b.Total.Equal(req.TotalAmount) {
		return nil, false, ErrConflict("total_amount mismatch: expected " + b.Total.StringFixed(2))
	}

	now := s.now().UTC()
	o := &domain.Order{
		ID:                   uuid.NewString(),
		UserID:               u.ID,
		Items:                linesOf(items),
		DeliveryAddress:      strings.TrimSpace(sel.Address),
		DeliveryDate:         strings.TrimSpace(sel.Date),
		DeliverySlot:         sel.Slot,
		DeliveryInstructions: strings.TrimSpace(sel.Instructions),
		Subtotal:             b.Subtotal,
		DeliveryFee:          b.DeliveryFee,
		Discount:             b.PromoDiscount.Add(b.BonusDiscount),
		TotalAmount:          b.Total,
		BonusPointsUsed:      b.BonusPointsUsed,
		BonusPointsEarned:    s.accrual(b.Total),
		PromoCode:            promo,
		Status:               domain.OrderCreated,
		IdempotencyKey:       key,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	stored, created, err := s.Repo.CreateOrder(ctx, o, o.BonusPointsEarned-o.BonusPointsUsed)
	if errors.Is(err, domain.ErrInsufficientBonus) {
		return nil, false, ErrConflict("insufficient bonus balance")
	}
	if err != nil {
		return nil, false, err
	}
	if !created {
		return s.replay(stored, req)
	}

	s.log().Info("order created",
		zap.String("order_id", stored.ID),
		zap.String("user_id", u.ID),
		zap.String("total", stored.TotalAmount.StringFixed(2)),
		zap.Int64("bonus_used", stored.BonusPointsUsed),
		zap.Int64("bonus_earned", stored.BonusPointsEarned))
	if s.Notifier != nil {
		if err := s.Notifier.OrderCreated(ctx, *u, *stored); err != nil {
			s.log().Warn("order confirmation failed", zap.String("order_id", stored.ID), zap.Error(err))
		}
	}
	return stored, true, nil
}

func (s *OrderService) replay(o *domain.Order, req domain.OrderRequest) (*domain.Order, bool, error) {
	if !sameOrder(o, req) {
		s.log().Warn("idempotency key reused for a different order", zap.String("order_id", o.ID), zap.String("user_id", o.UserID))
		return nil, false, ErrConflict("idempotency key mismatch")
	}
	s.log().Info("idempotent replay", zap.String("order_id", o.ID), zap.String("user_id", o.UserID))
	return o, false, nil
}

// sameOrder reports whether req would have produced o. Repeated lines are
// merged the same way Create merges them.
func sameOrder(o *domain.Order, req domain.OrderRequest) bool {
	if !o.TotalAmount.Equal(req.TotalAmount) ||
		o.BonusPointsUsed != req.BonusPointsUsed ||
		o.PromoCode != pricing.NormalizeCode(req.PromoCode) ||
		o.DeliveryAddress != strings.TrimSpace(req.DeliveryAddress) ||
		o.DeliveryDate != strings.TrimSpace(req.DeliveryDate) ||
		o.DeliverySlot != req.DeliverySlot {
		return false
	}
	want := map[string]int{}
	for _, l := range o.Items {
		want[l.FlowerID] += l.Quantity
	}
	got := map[string]int{}
	for _, l := range req.Items {
		got[l.FlowerID] += l.Quantity
	}
	if len(want) != len(got) {
		return false
	}
	for id, q := range want {
		if got[id] != q {
			return false
		}
	}
	return true
}

func (s *OrderService) List(ctx context.Context, userID string, page, pageSize int) domain.Page[domain.Order] {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	items, total := s.Repo.ListOrders(ctx, userID, page, pageSize)
	return domain.NewPage(items, total, page, pageSize)
}

func (s *OrderService) accrual(total decimal.Decimal) int64 {
	pct := s.AccrualPercent
	if pct <= 0 {
		pct = DefaultAccrualPercent
	}
	return total.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// resolveItems merges repeated lines and prices them from the catalog.
func (s *OrderService) resolveItems(ctx context.Context, lines []domain.OrderLine) ([]domain.CartItem, error) {
	if len(lines) == 0 {
		return nil, ErrBadRequest("order has no items")
	}
	var items []domain.CartItem
	index := map[string]int{}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrBadRequest("quantity must be positive for " + l.FlowerID)
		}
		if i, ok := index[l.FlowerID]; ok {
			items[i].Quantity += l.Quantity
			continue
		}
		f, ok := s.Flowers.GetFlower(ctx, l.FlowerID)
		if !ok {
			return nil, ErrBadRequest("unknown flower " + l.FlowerID)
		}
		if !f.InStock {
			return nil, ErrConflict(f.Name + " is out of stock")
		}
		index[l.FlowerID] = len(items)
		items = append(items, domain.CartItem{Flower: *f, Quantity: l.Quantity})
	}
	for _, it := range items {
		if limit := it.Flower.MaxOrderQuantity; limit > 0 && it.Quantity > limit {
			return nil, ErrBadRequest(fmt.Sprintf("at most %d of %s per order", limit, it.Flower.Name))
		}
	}
	return items, nil
}

func linesOf(items []domain.CartItem) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderLine{FlowerID: it.Flower.ID, Quantity: it.Quantity})
	}
	return out
}
