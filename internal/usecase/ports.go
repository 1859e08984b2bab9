package usecase

import (
	"context"

	"flowershop/internal/domain"
)

type UserRepo interface {
	PutUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, bool)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, bool)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, bool)
}

type FlowerRepo interface {
	ListFlowers(ctx context.Context, f domain.FlowerFilter) ([]domain.Flower, int, error)
	GetFlower(ctx context.Context, id string) (*domain.Flower, bool)
}

type PromoRepo interface {
	GetPromo(ctx context.Context, code string) (*domain.PromoCode, bool)
}

type OrderRepo interface {
	// CreateOrder stores o and adds bonusDelta to the owner's balance in one
	// step. When (user, idempotency key) already exists the stored order is
	// returned with created=false and nothing changes. A balance that would go
	// negative yields domain.ErrInsufficientBonus.
	CreateOrder(ctx context.Context, o *domain.Order, bonusDelta int64) (stored *domain.Order, created bool, err error)
	GetOrderByKey(ctx context.Context, userID, key string) (*domain.Order, bool)
	ListOrders(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int)
}

type TelegramVerifier interface {
	VerifyLogin(fields map[string]string) (domain.TelegramIdentity, error)
	VerifyMiniApp(initData string) (domain.TelegramIdentity, error)
}

type Notifier interface {
	OrderCreated(ctx context.Context, u domain.User, o domain.Order) error
}
