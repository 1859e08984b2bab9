package pricing

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownPromo is the rejection signal for a code that maps to no discount.
var ErrUnknownPromo = errors.New("unknown promo code")

// PromoResolver maps a promo code to a percentage discount.
type PromoResolver interface {
	Resolve(ctx context.Context, code string) (int, error)
}

// PromoTable is a fixed code -> percentage table. Keys are matched case-insensitively.
type PromoTable map[string]int

var DefaultPromoTable = PromoTable{
	"WELCOME10": 10,
	"SAVE15":    15,
	"SPRING20":  20,
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (t PromoTable) Lookup(code string) (int, bool) {
	p, ok := t[NormalizeCode(code)]
	return p, ok
}

func (t PromoTable) Resolve(_ context.Context, code string) (int, error) {
	p, ok := t.Lookup(code)
	if !ok {
		return 0, ErrUnknownPromo
	}
	return p, nil
}
