// Package storefront wires the client-side pieces together: durable state,
// cart, auth session, API client and checkout.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowershop/internal/apiclient"
	"flowershop/internal/cart"
	"flowershop/internal/checkout"
	"flowershop/internal/domain"
	"flowershop/internal/logging"
	"flowershop/internal/pricing"
	"flowershop/internal/session"
	"flowershop/internal/storage"
)

type Config struct {
	APIBaseURL string
	StateDir   string
	Location   *time.Location
	// Promos overrides server-side promo lookup.
	Promos pricing.PromoResolver
}

var ErrOutOfStock = errors.New("flower is out of stock")

type App struct {
	Store   storage.Store
	Cart    *cart.Store
	Session *session.Manager
	API     *apiclient.Client
	Promos  pricing.PromoResolver

	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// New opens the state directory and restores the cart and session from it.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	st, err := storage.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}
	return NewWithStore(ctx, cfg, st, logger), nil
}

func NewWithStore(ctx context.Context, cfg Config, st storage.Store, logger *zap.Logger) *App {
	logger = logging.OrNop(logger)
	mgr := session.NewManager(st, nil, logger)
	client := apiclient.New(cfg.APIBaseURL, mgr, logger)
	mgr.SetRefresher(client)

	a := &App{
		Store:   st,
		Cart:    cart.NewStore(st, logger),
		Session: mgr,
		API:     client,
		Promos:  cfg.Promos,
		loc:     cfg.Location,
		now:     time.Now,
		logger:  logger.Named("storefront"),
	}
	if a.Promos == nil {
		a.Promos = apiclient.PromoResolver{Client: client}
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	mgr.OnExpired = func() {
		a.logger.Warn("session expired, sign in again")
	}
	state := mgr.Restore(ctx)
	a.logger.Debug("state restored", zap.Stringer("auth", state), zap.Int("cart_items", a.Cart.TotalItemCount()))
	return a
}

// SetClock replaces the time source used for delivery date checks.
func (a *App) SetClock(now func() time.Time) { a.now = now }

// AddToCart fetches the current flower so the cart captures the live price.
func (a *App) AddToCart(ctx context.Context, flowerID string, qty int) (domain.Flower, error) {
	f, err := a.API.GetFlower(ctx, flowerID)
	if err != nil {
		return domain.Flower{}, err
	}
	if !f.InStock {
		return f, ErrOutOfStock
	}
	a.Cart.AddItem(f, qty)
	return f, nil
}

// Checkout opens a checkout session over the current cart. A submission
// left unconfirmed by an earlier run is resumed under its original key when
// the order is unchanged.
func (a *App) Checkout() (*checkout.Session, error) {
	return checkout.New(checkout.Deps{
		Cart:     a.Cart,
		Auth:     a.Session,
		Promos:   a.Promos,
		Pending:  pendingKeys{store: a.Store, logger: a.logger},
		Orders:   a.API,
		Logger:   a.logger,
		Now:      a.now,
		Location: a.loc,
	})
}

func (a *App) Login(ctx context.Context, email, password string) (domain.User, error) {
	res, err := a.API.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, err
	}
	return res.User, a.Session.Establish(res)
}

// LoginTelegram accepts either Login Widget fields or Mini-App init data.
func (a *App) LoginTelegram(ctx context.Context, fields map[string]string, initData string) (domain.User, error) {
	var (
		res domain.AuthResult
		err error
	)
	if initData != "" {
		res, err = a.API.TelegramMiniApp(ctx, initData)
	} else {
		res, err = a.API.TelegramAuth(ctx, fields)
	}
	if err != nil {
		return domain.User{}, err
	}
	return res.User, a.Session.Establish(res)
}

func (a *App) Logout() { a.Session.Logout() }

// RefreshProfile re-reads the user from the backend, e.g. after an order
// changed the bonus balance.
func (a *App) RefreshProfile(ctx context.Context) (domain.User, error) {
	if !a.Session.IsAuthenticated() {
		return domain.User{}, session.ErrLoginRequired
	}
	u, err := a.API.Me(ctx)
	if err != nil {
		return domain.User{}, err
	}
	a.Session.UpdateUser(u)
	return u, nil
}
