package usecase

import (
	"context"
	"strings"

	"flowershop/internal/domain"
	"flowershop/internal/pricing"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 100
)

type CatalogService struct {
	Repo FlowerRepo
}

func (s *CatalogService) List(ctx context.Context, f domain.FlowerFilter) (domain.Page[domain.Flower], error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return domain.Page[domain.Flower]{}, err
	}
	items, total, err := s.Repo.ListFlowers(ctx, f)
	if err != nil {
		return domain.Page[domain.Flower]{}, err
	}
	return domain.NewPage(items, total, f.Page, f.PageSize), nil
}

func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Flower, error) {
	fl, ok := s.Repo.GetFlower(ctx, id)
	if !ok {
		return nil, ErrNotFound("flower")
	}
	return fl, nil
}

func normalizeFilter(f domain.FlowerFilter) (domain.FlowerFilter, error) {
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.TrimSpace(f.Search)
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	switch f.Sort {
	case "", domain.SortPriceAsc, domain.SortPriceDesc, domain.SortName, domain.SortNewest:
	default:
		return f, ErrBadRequest("unknown sort " + f.Sort)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return f, ErrBadRequest("min_price exceeds max_price")
	}
	return f, nil
}

type PromoService struct {
	Repo PromoRepo
}

func (s *PromoService) Lookup(ctx context.Context, code string) (*domain.PromoCode, error) {
	p, ok := s.Repo.GetPromo(ctx, pricing.NormalizeCode(code))
	if !ok || !p.Active {
		return nil, ErrNotFound("promo code")
	}
	return p, nil
}

// Resolve lets the order service price promos through the same table the
// storefront queries.
func (s *PromoService) Resolve(ctx context.Context, code string) (int, error) {
	p, err := s.Lookup(ctx, code)
	if err != nil {
		return 0, pricing.ErrUnknownPromo
	}
	return p.Percentage, nil
}

var _ pricing.PromoResolver = (*PromoService)(nil)
