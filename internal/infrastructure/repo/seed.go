package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"flowershop/internal/domain"
	"flowershop/internal/pricing"
)

type Seeder interface {
	PutFlower(ctx context.Context, f *domain.Flower) error
	PutPromo(ctx context.Context, p *domain.PromoCode) error
}

// DemoFlowers is the starter catalog.
func DemoFlowers(now time.Time) []domain.Flower {
	mk := func(id, name, category, desc string, price int64, inStock bool, maxQty int, age time.Duration) domain.Flower {
		return domain.Flower{
			ID:               id,
			Name:             name,
			Description:      desc,
			Category:         category,
			Price:            decimal.NewFromInt(price),
			ImageURL:         "/images/" + id + ".jpg",
			InStock:          inStock,
			MaxOrderQuantity: maxQty,
			CreatedAt:        now.Add(-age).UTC(),
		}
	}
	return []domain.Flower{
		mk("red-rose", "Red Rose", "roses", "Classic long-stem red rose", 600, true, 101, 30*24*time.Hour),
		mk("white-rose", "White Rose", "roses", "Garden white rose", 550, true, 101, 20*24*time.Hour),
		mk("tulip-mix", "Tulip Mix", "tulips", "Seasonal tulips in mixed colors", 150, true, 51, 10*24*time.Hour),
		mk("peony", "Peony", "peonies", "Pink peony, large bloom", 900, true, 25, 5*24*time.Hour),
		mk("lily", "White Lily", "lilies", "Fragrant oriental lily", 450, true, 25, 3*24*time.Hour),
		mk("chamomile-bouquet", "Chamomile Bouquet", "bouquets", "Field chamomile wrapped in kraft", 1200, true, 10, 2*24*time.Hour),
		mk("orchid", "Phalaenopsis Orchid", "potted", "Potted orchid, two stems", 2500, false, 3, 24*time.Hour),
	}
}

// Seed loads the demo catalog and the standard promo codes.
func Seed(ctx context.Context, s Seeder, now time.Time) error {
	for _, f := range DemoFlowers(now) {
		f := f
		if err := s.PutFlower(ctx, &f); err != nil {
			return err
		}
	}
	for code, pct := range pricing.DefaultPromoTable {
		if err := s.PutPromo(ctx, &domain.PromoCode{Code: code, Percentage: pct, Active: true}); err != nil {
			return err
		}
	}
	return nil
}
