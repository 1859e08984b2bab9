package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"flowershop/internal/cart"
	"flowershop/internal/domain"
	"flowershop/internal/pricing"
	"flowershop/internal/storage"
)

type checkoutTestContext struct {
	now      time.Time
	catalog  map[string]domain.Flower
	cart     *cart.Store
	auth     *fakeAuth
	orders   *fakeOrders
	session  *Session
	order    domain.Order
	err      error
	promoErr error
}

func (c *checkoutTestContext) reset() {
	c.now = fixedNow
	c.catalog = map[string]domain.Flower{}
	c.cart = cart.NewStore(storage.NewMemoryStore(), nil)
	c.auth = &fakeAuth{}
	c.orders = &fakeOrders{}
	c.session = nil
	c.order = domain.Order{}
	c.err = nil
	c.promoErr = nil
}

func (c *checkoutTestContext) todayIs(day string) error {
	d, err := time.ParseInLocation(domain.DateLayout, day, time.UTC)
	if err != nil {
		return err
	}
	c.now = d.Add(12 * time.Hour)
	return nil
}

func (c *checkoutTestContext) theCatalogHasPriced(name string, price int) error {
	c.catalog[name] = domain.Flower{ID: strings.ToLower(name), Name: name, Price: decimal.NewFromInt(int64(price)), InStock: true}
	return nil
}

func (c *checkoutTestContext) myCartHolds(qty int, name string) error {
	f, ok := c.catalog[name]
	if !ok {
		return fmt.Errorf("no flower %q in catalog", name)
	}
	c.cart.AddItem(f, qty)
	return nil
}

func (c *checkoutTestContext) iAmSignedInWithBonusPoints(points int) error {
	c.auth = &fakeAuth{signed: true, user: domain.User{ID: "u1", BonusBalance: int64(points)}}
	return nil
}

func (c *checkoutTestContext) iAmNotSignedIn() error {
	c.auth = &fakeAuth{}
	return nil
}

func (c *checkoutTestContext) theBackendRejectsOrders() error {
	c.orders.err = errors.New("backend unavailable")
	return nil
}

func (c *checkoutTestContext) iStartCheckout() error {
	s, err := New(Deps{
		Cart:     c.cart,
		Auth:     c.auth,
		Promos:   pricing.DefaultPromoTable,
		Orders:   c.orders,
		Now:      func() time.Time { return c.now },
		Location: time.UTC,
	})
	if err != nil {
		return err
	}
	c.session = s
	return nil
}

func (c *checkoutTestContext) iApplyPromoCode(code string) error {
	c.promoErr = c.session.ApplyPromo(context.Background(), code)
	return nil
}

func (c *checkoutTestContext) iRedeemBonusPoints(points int) error {
	_, err := c.session.UseBonus(int64(points))
	return err
}

func (c *checkoutTestContext) iContinue() error {
	c.err = c.session.Next()
	return nil
}

func (c *checkoutTestContext) iDeliverTo(address, date, slot string) error {
	return c.session.SetDelivery(domain.DeliverySelection{Address: address, Date: date, Slot: domain.Slot(slot)})
}

func (c *checkoutTestContext) iSubmitTheOrder() error {
	c.order, c.err = c.session.Submit(context.Background())
	return nil
}

func (c *checkoutTestContext) theSubtotalIs(v int) error {
	return expectAmount("subtotal", c.session.Totals().Subtotal, v)
}

func (c *checkoutTestContext) theDeliveryFeeIs(v int) error {
	return expectAmount("delivery fee", c.session.Totals().DeliveryFee, v)
}

func (c *checkoutTestContext) theTotalIs(v int) error {
	return expectAmount("total", c.session.Totals().Total, v)
}

func (c *checkoutTestContext) thePromoCodeIsRejected() error {
	if !errors.Is(c.promoErr, pricing.ErrUnknownPromo) {
		return fmt.Errorf("expected unknown promo, got %v", c.promoErr)
	}
	return nil
}

func (c *checkoutTestContext) checkoutFailsWith(text string) error {
	if c.err == nil {
		return errors.New("expected an error, got none")
	}
	if !strings.Contains(c.err.Error(), text) {
		return fmt.Errorf("error %q does not mention %q", c.err, text)
	}
	return nil
}

func (c *checkoutTestContext) theStepIs(step string) error {
	if got := c.session.Step().String(); got != step {
		return fmt.Errorf("step is %s, want %s", got, step)
	}
	return nil
}

func (c *checkoutTestContext) theOrderIsPlaced() error {
	if c.err != nil {
		return c.err
	}
	if c.order.ID == "" {
		return errors.New("no order id")
	}
	return nil
}

func (c *checkoutTestContext) theCartIsEmpty() error {
	if !c.cart.IsEmpty() {
		return fmt.Errorf("cart holds %d items", c.cart.TotalItemCount())
	}
	return nil
}

func (c *checkoutTestContext) theCartHolds(qty int, name string) error {
	for _, it := range c.cart.Items() {
		if it.Flower.Name == name {
			if it.Quantity != qty {
				return fmt.Errorf("%s quantity %d, want %d", name, it.Quantity, qty)
			}
			return nil
		}
	}
	return fmt.Errorf("%s not in cart", name)
}

func expectAmount(what string, got decimal.Decimal, want int) error {
	if !got.Equal(decimal.NewFromInt(int64(want))) {
		return fmt.Errorf("%s is %s, want %d", what, got.StringFixed(2), want)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^today is "([^"]*)"$`, tc.todayIs)
	ctx.Step(`^the catalog has "([^"]*)" priced (\d+)$`, tc.theCatalogHasPriced)
	ctx.Step(`^my cart holds (\d+) "([^"]*)"$`, tc.myCartHolds)
	ctx.Step(`^I am signed in with (\d+) bonus points$`, tc.iAmSignedInWithBonusPoints)
	ctx.Step(`^I am not signed in$`, tc.iAmNotSignedIn)
	ctx.Step(`^the backend rejects orders$`, tc.theBackendRejectsOrders)

	ctx.Step(`^I start checkout$`, tc.iStartCheckout)
	ctx.Step(`^I apply promo code "([^"]*)"$`, tc.iApplyPromoCode)
	ctx.Step(`^I redeem (\d+) bonus points$`, tc.iRedeemBonusPoints)
	ctx.Step(`^I continue$`, tc.iContinue)
	ctx.Step(`^I deliver to "([^"]*)" on "([^"]*)" in the "([^"]*)"$`, tc.iDeliverTo)
	ctx.Step(`^I submit the order$`, tc.iSubmitTheOrder)

	ctx.Step(`^the subtotal is (\d+)$`, tc.theSubtotalIs)
	ctx.Step(`^the delivery fee is (\d+)$`, tc.theDeliveryFeeIs)
	ctx.Step(`^the total is (\d+)$`, tc.theTotalIs)
	ctx.Step(`^the promo code is rejected$`, tc.thePromoCodeIsRejected)
	ctx.Step(`^checkout fails with "([^"]*)"$`, tc.checkoutFailsWith)
	ctx.Step(`^the step is "([^"]*)"$`, tc.theStepIs)
	ctx.Step(`^the order is placed$`, tc.theOrderIsPlaced)
	ctx.Step(`^the cart is empty$`, tc.theCartIsEmpty)
	ctx.Step(`^the cart holds (\d+) "([^"]*)"$`, tc.theCartHolds)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
