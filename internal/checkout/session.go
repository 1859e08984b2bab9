// Package checkout runs the three-step checkout wizard: cart review,
// delivery details, confirmation and order submission.
package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
	"flowershop/internal/pricing"
)

type Step int

const (
	StepCart Step = iota
	StepDelivery
	StepConfirmation
)

func (s Step) String() string {
	switch s {
	case StepCart:
		return "cart"
	case StepDelivery:
		return "delivery"
	case StepConfirmation:
		return "confirmation"
	}
	return "unknown"
}

type Cart interface {
	Items() []domain.CartItem
	IsEmpty() bool
	Clear()
}

type Auth interface {
	IsAuthenticated() bool
	User() (domain.User, bool)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.Order, error)
}

// PendingKeys remembers the idempotency key of a submission whose outcome is
// not known yet, so a later session placing the same order reuses the key.
type PendingKeys interface {
	KeyFor(req domain.OrderRequest) (string, bool)
	Remember(req domain.OrderRequest, key string)
	Forget()
}

type Deps struct {
	Cart     Cart
	Auth     Auth
	Promos   pricing.PromoResolver
	// Pending is optional.
	Pending  PendingKeys
	Orders   OrderCreator
	Logger   *zap.Logger
	Now      func() time.Time
	Location *time.Location
}

type Discount struct {
	PromoCode       string
	PromoPercentage int
	BonusRequested  int64
}

// Session is the transient wizard state. Abandoning it loses nothing but the
// discount and delivery choices; the cart lives on in its own store.
type Session struct {
	deps   Deps
	logger *zap.Logger

	mu         sync.Mutex
	step       Step
	discount   Discount
	delivery   domain.DeliverySelection
	key        string
	submitting bool
	closed     bool
}

func New(d Deps) (*Session, error) {
	if d.Cart == nil || d.Auth == nil || d.Orders == nil {
		return nil, errors.New("checkout: cart, auth and orders are required")
	}
	if d.Cart.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	key := uuid.NewString()
	return &Session{
		deps:   d,
		logger: logging.OrNop(d.Logger).Named("checkout").With(zap.String("checkout_id", key)),
		step:   StepCart,
		key:    key,
	}, nil
}

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// IdempotencyKey is the same for every retry of Submit. It is replaced at
// most once, by the key of an unfinished earlier submission of the same order.
func (s *Session) IdempotencyKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Session) Discount() Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discount
}

func (s *Session) Delivery() domain.DeliverySelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivery
}

func (s *Session) SetDelivery(sel domain.DeliverySelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.step == StepConfirmation {
		return ErrWrongStep
	}
	s.delivery = sel
	return nil
}

// ApplyPromo resolves code and records its percentage. An unknown code clears
// any previous promo and returns pricing.ErrUnknownPromo; a transport error
// leaves the previous promo in place.
func (s *Session) ApplyPromo(ctx context.Context, code string) error {
	code = pricing.NormalizeCode(code)
	if s.deps.Promos == nil {
		return pricing.ErrUnknownPromo
	}
	pct := 0
	var err error
	if code == "" {
		err = pricing.ErrUnknownPromo
	} else {
		pct, err = s.deps.Promos.Resolve(ctx, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if errors.Is(err, pricing.ErrUnknownPromo) {
		s.discount.PromoCode = ""
		s.discount.PromoPercentage = 0
		s.logger.Info("promo rejected", zap.String("code", code))
		return err
	}
	if err != nil {
		return err
	}
	s.discount.PromoCode = code
	s.discount.PromoPercentage = pct
	s.logger.Info("promo applied", zap.String("code", code), zap.Int("percentage", pct))
	return nil
}

func (s *Session) ClearPromo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.discount.PromoCode = ""
	s.discount.PromoPercentage = 0
	return nil
}

// UseBonus records a redemption request clamped to the user's balance and
// returns the clamped amount.
func (s *Session) UseBonus(points int64) (int64, error) {
	clamped := pricing.ClampBonus(points, s.bonusAvailable())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.discount.BonusRequested = clamped
	return clamped, nil
}

func (s *Session) bonusAvailable() int64 {
	u, ok := s.deps.Auth.User()
	if !ok || !s.deps.Auth.IsAuthenticated() {
		return 0
	}
	return u.BonusBalance
}

// Totals is derived fresh from the current cart and discounts on every call.
func (s *Session) Totals() pricing.Breakdown {
	items := s.deps.Cart.Items()
	s.mu.Lock()
	d := s.discount
	s.mu.Unlock()
	return s.calculate(items, d)
}

func (s *Session) calculate(items []domain.CartItem, d Discount) pricing.Breakdown {
	return pricing.Calculate(pricing.Input{
		Items:           items,
		PromoPercentage: d.PromoPercentage,
		BonusRequested:  d.BonusRequested,
		BonusAvailable:  s.bonusAvailable(),
	})
}

// Next advances one step if the current step's gate passes. On failure the
// step is unchanged.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.step {
	case StepCart:
		if s.deps.Cart.IsEmpty() {
			return ErrEmptyCart
		}
		if !s.deps.Auth.IsAuthenticated() {
			return ErrLoginRequired
		}
		s.step = StepDelivery
	case StepDelivery:
		if err := domain.ValidateDelivery(s.delivery, s.deps.Now(), s.deps.Location); err != nil {
			return err
		}
		s.step = StepConfirmation
	default:
		return ErrWrongStep
	}
	s.logger.Debug("step advanced", zap.Stringer("step", s.step))
	return nil
}

// Back moves to the previous step, keeping everything entered so far.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.submitting {
		return ErrSubmitInProgress
	}
	if s.step == StepCart {
		return ErrWrongStep
	}
	s.step--
	return nil
}

// Submit assembles the order and sends it. Success clears the cart and closes
// the session. Failure leaves both untouched so the user can retry; the retry
// reuses the idempotency key. If ctx is done by the time the response arrives
// the outcome is dropped and nothing is changed.
func (s *Session) Submit(ctx context.Context) (domain.Order, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return domain.Order{}, ErrClosed
	case s.step != StepConfirmation:
		s.mu.Unlock()
		return domain.Order{}, ErrWrongStep
	case s.submitting:
		s.mu.Unlock()
		return domain.Order{}, ErrSubmitInProgress
	}
	items := s.deps.Cart.Items()
	if len(items) == 0 {
		s.mu.Unlock()
		return domain.Order{}, ErrEmptyCart
	}
	if !s.deps.Auth.IsAuthenticated() {
		s.mu.Unlock()
		return domain.Order{}, ErrLoginRequired
	}
	if err := domain.ValidateDelivery(s.delivery, s.deps.Now(), s.deps.Location); err != nil {
		s.mu.Unlock()
		return domain.Order{}, err
	}
	b := s.calculate(items, s.discount)
	req := BuildOrderRequest(items, s.delivery, s.discount.PromoCode, b)
	if s.deps.Pending != nil {
		if k, ok := s.deps.Pending.KeyFor(req); ok && k != s.key {
			s.logger.Info("resuming unfinished submission", zap.String("idempotency_key", k))
			s.key = k
		}
	}
	key := s.key
	s.submitting = true
	s.mu.Unlock()
	if s.deps.Pending != nil {
		s.deps.Pending.Remember(req, key)
	}

	s.logger.Info("submitting order",
		zap.Int("lines", len(req.Items)),
		zap.String("total", req.TotalAmount.String()),
		zap.Int64("bonus_points", req.BonusPointsUsed))
	order, err := s.deps.Orders.CreateOrder(ctx, req, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logger.Info("submission abandoned", zap.Error(ctxErr))
		return domain.Order{}, ctxErr
	}
	if err != nil {
		s.logger.Warn("order submission failed", zap.Error(err))
		return domain.Order{}, &SubmitError{Err: err}
	}
	s.deps.Cart.Clear()
	if s.deps.Pending != nil {
		s.deps.Pending.Forget()
	}
	s.closed = true
	s.logger.Info("order created", zap.String("order_id", order.ID))
	return order, nil
}

// Summary is a one-line description of the session for CLIs and logs.
func (s *Session) Summary() string {
	b := s.Totals()
	d := s.Discount()
	parts := []string{
		"step=" + s.Step().String(),
		"subtotal=" + b.Subtotal.StringFixed(2),
		"delivery=" + b.DeliveryFee.StringFixed(2),
	}
	if d.PromoCode != "" {
		parts = append(parts, "promo="+d.PromoCode+" (-"+b.PromoDiscount.StringFixed(2)+")")
	}
	if b.BonusPointsUsed > 0 {
		parts = append(parts, "bonus=-"+b.BonusDiscount.StringFixed(2))
	}
	parts = append(parts, "total="+b.Total.StringFixed(2))
	return strings.Join(parts, " ")
}
