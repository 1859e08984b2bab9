package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flowershop/internal/domain"
	"flowershop/internal/infrastructure/repo"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeTelegram struct {
	id  domain.TelegramIdentity
	err error
}

func (f fakeTelegram) VerifyLogin(map[string]string) (domain.TelegramIdentity, error) { return f.id, f.err }
func (f fakeTelegram) VerifyMiniApp(string) (domain.TelegramIdentity, error)         { return f.id, f.err }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) OrderCreated(_ context.Context, _ domain.User, o domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.ID)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newAuth(r *repo.MemoryRepo, c *clock) *AuthService {
	return &AuthService{
		Repo:       r,
		Telegram:   fakeTelegram{id: domain.TelegramIdentity{ID: 42, FirstName: "Anna"}},
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        c.now,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newAuth(repo.NewMemoryRepo(), &clock{t: testNow})

	res, err := s.Register(ctx, " Anna@Example.com ", "flowers123", "Anna")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.User.Email != "anna@example.com" || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("result %+v", res)
	}
	if _, err := s.Register(ctx, "anna@example.com", "flowers123", "Other"); !isConflict(err) {
		t.Fatalf("duplicate register: %v", err)
	}
	if _, err := s.Login(ctx, "anna@example.com", "wrong-password"); !isUnauthorized(err) {
		t.Fatalf("bad password: %v", err)
	}
	got, err := s.Login(ctx, "ANNA@example.com", "flowers123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	uid, _, err := s.Verify(got.AccessToken)
	if err != nil || uid != res.User.ID {
		t.Fatalf("verify: %v %s", err, uid)
	}
}

func TestTokenTypesAndExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: testNow}
	s := newAuth(repo.NewMemoryRepo(), c)
	res, err := s.Register(ctx, "b@example.com", "flowers123", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Verify(res.RefreshToken); !isUnauthorized(err) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := s.Refresh(ctx, res.AccessToken); !isUnauthorized(err) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}

	c.t = testNow.Add(16 * time.Minute)
	if _, _, err := s.Verify(res.AccessToken); !isUnauthorized(err) {
		t.Fatalf("expired access token accepted: %v", err)
	}
	pair, err := s.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.AccessToken == res.AccessToken {
		t.Fatalf("refresh returned the old token")
	}
	if _, _, err := s.Verify(pair.AccessToken); err != nil {
		t.Fatalf("new access token: %v", err)
	}
}

func TestTelegramLoginReusesUser(t *testing.T) {
	ctx := context.Background()
	s := newAuth(repo.NewMemoryRepo(), &clock{t: testNow})
	a, err := s.TelegramLogin(ctx, map[string]string{"id": "42"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.TelegramMiniApp(ctx, "user=...")
	if err != nil {
		t.Fatal(err)
	}
	if a.User.ID != b.User.ID || a.User.TelegramID != 42 || a.User.Name != "Anna" {
		t.Fatalf("users %+v / %+v", a.User, b.User)
	}

	s.Telegram = fakeTelegram{err: errors.New("telegram hash mismatch")}
	if _, err := s.TelegramLogin(ctx, nil); !isUnauthorized(err) {
		t.Fatalf("bad hash: %v", err)
	}
}

type orderFixture struct {
	repo     *repo.MemoryRepo
	svc      *OrderService
	notifier *fakeNotifier
}

func newOrderFixture(t *testing.T, balance int64) orderFixture {
	t.Helper()
	ctx := context.Background()
	r := repo.NewMemoryRepo()
	if err := repo.Seed(ctx, r, testNow); err != nil {
		t.Fatal(err)
	}
	if err := r.PutUser(ctx, &domain.User{ID: "u1", Email: "u1@example.com", BonusBalance: balance}); err != nil {
		t.Fatal(err)
	}
	n := &fakeNotifier{}
	return orderFixture{
		repo:     r,
		notifier: n,
		svc: &OrderService{
			Repo:     r,
			Users:    r,
			Flowers:  r,
			Promos:   &PromoService{Repo: r},
			Notifier: n,
			Location: time.UTC,
			Now:      func() time.Time { return testNow },
		},
	}
}

func roseRequest(total int64, bonus int64, promo string) domain.OrderRequest {
	return domain.OrderRequest{
		Items:           []domain.OrderLine{{FlowerID: "red-rose", Quantity: 3}},
		DeliveryAddress: "Lenina 1",
		DeliveryDate:    "2024-05-11",
		DeliverySlot:    domain.SlotMorning,
		TotalAmount:     decimal.NewFromInt(total),
		BonusPointsUsed: bonus,
		PromoCode:       promo,
	}
}

func TestCreateOrderPricesAndAccrues(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, 500)

	o, created, err := f.svc.Create(ctx, "u1", "key-1", roseRequest(1330, 200, "save15"))
	if err != nil || !created {
		t.Fatalf("create: %v created=%v", err, created)
	}
	if !o.Subtotal.Equal(decimal.NewFromInt(1800)) || !o.Discount.Equal(decimal.NewFromInt(470)) || o.PromoCode != "SAVE15" {
		t.Fatalf("order %+v", o)
	}
	if o.BonusPointsEarned != 66 {
		t.Fatalf("earned %d, want 66", o.BonusPointsEarned)
	}
	u, _ := f.repo.GetUser(ctx, "u1")
	if u.BonusBalance != 500-200+66 {
		t.Fatalf("balance %d", u.BonusBalance)
	}

	again, created, err := f.svc.Create(ctx, "u1", "key-1", roseRequest(1330, 200, "save15"))
	if err != nil || created || again.ID != o.ID {
		t.Fatalf("replay: %v created=%v id=%s", err, created, again.ID)
	}
	u, _ = f.repo.GetUser(ctx, "u1")
	if u.BonusBalance != 366 {
		t.Fatalf("replay moved balance to %d", u.BonusBalance)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notified %d times", len(f.notifier.sent))
	}

	page := f.svc.List(ctx, "u1", 1, 10)
	if page.Total != 1 || page.Items[0].ID != o.ID {
		t.Fatalf("list %+v", page)
	}
}

func TestCreateOrderReplayMustMatch(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, 500)

	first, _, err := f.svc.Create(ctx, "u1", "key-1", roseRequest(1800, 0, ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	split := roseRequest(1800, 0, "")
	split.Items = []domain.OrderLine{{FlowerID: "red-rose", Quantity: 1}, {FlowerID: "red-rose", Quantity: 2}}
	if again, created, err := f.svc.Create(ctx, "u1", "key-1", split); err != nil || created || again.ID != first.ID {
		t.Fatalf("equivalent replay: %v created=%v", err, created)
	}

	changed := roseRequest(2400, 0, "")
	changed.Items = []domain.OrderLine{{FlowerID: "red-rose", Quantity: 4}}
	if _, _, err := f.svc.Create(ctx, "u1", "key-1", changed); !isConflict(err) {
		t.Fatalf("changed cart under the same key: %T %v", err, err)
	}
	otherDay := roseRequest(1800, 0, "")
	otherDay.DeliveryDate = "2024-05-12"
	if _, _, err := f.svc.Create(ctx, "u1", "key-1", otherDay); !isConflict(err) {
		t.Fatalf("changed delivery under the same key: %T %v", err, err)
	}

	page := f.svc.List(ctx, "u1", 1, 10)
	if page.Total != 1 {
		t.Fatalf("expected one stored order, got %d", page.Total)
	}
	u, _ := f.repo.GetUser(ctx, "u1")
	if u.BonusBalance != 500+90 {
		t.Fatalf("balance %d", u.BonusBalance)
	}
}

func TestCreateOrderRejects(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		req   func() domain.OrderRequest
		check func(error) bool
	}{
		{"stale total", func() domain.OrderRequest { return roseRequest(1700, 0, "") }, isConflict},
		{"unknown promo", func() domain.OrderRequest { return roseRequest(1800, 0, "FREE") }, isBadRequest},
		{"too many points", func() domain.OrderRequest { return roseRequest(1300, 600, "") }, isConflict},
		{"out of stock", func() domain.OrderRequest {
			r := roseRequest(2700, 0, "")
			r.Items = []domain.OrderLine{{FlowerID: "orchid", Quantity: 1}}
			return r
		}, isConflict},
		{"unknown flower", func() domain.OrderRequest {
			r := roseRequest(800, 0, "")
			r.Items = []domain.OrderLine{{FlowerID: "cactus", Quantity: 1}}
			return r
		}, isBadRequest},
		{"no items", func() domain.OrderRequest {
			r := roseRequest(0, 0, "")
			r.Items = nil
			return r
		}, isBadRequest},
		{"delivery today", func() domain.OrderRequest {
			r := roseRequest(1800, 0, "")
			r.DeliveryDate = "2024-05-10"
			return r
		}, isBadRequest},
		{"over max quantity", func() domain.OrderRequest {
			r := roseRequest(0, 0, "")
			r.Items = []domain.OrderLine{{FlowerID: "chamomile-bouquet", Quantity: 6}, {FlowerID: "chamomile-bouquet", Quantity: 5}}
			return r
		}, isBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderFixture(t, 500)
			_, _, err := f.svc.Create(ctx, "u1", "k", tc.req())
			if !tc.check(err) {
				t.Fatalf("unexpected error %T %v", err, err)
			}
			u, _ := f.repo.GetUser(ctx, "u1")
			if u.BonusBalance != 500 {
				t.Fatalf("rejected order moved balance to %d", u.BonusBalance)
			}
		})
	}
}

func TestCatalogServiceNormalizesFilter(t *testing.T) {
	r := repo.NewMemoryRepo()
	_ = repo.Seed(context.Background(), r, testNow)
	s := &CatalogService{Repo: r}

	page, err := s.List(context.Background(), domain.FlowerFilter{PageSize: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 1 || page.Pages != 1 || page.Total != 7 {
		t.Fatalf("page %+v", page)
	}
	if _, err := s.List(context.Background(), domain.FlowerFilter{Sort: "random"}); !isBadRequest(err) {
		t.Fatalf("bad sort: %v", err)
	}
	if _, err := s.Get(context.Background(), "nope"); !isNotFound(err) {
		t.Fatalf("missing flower: %v", err)
	}
}

func TestPromoService(t *testing.T) {
	r := repo.NewMemoryRepo()
	ctx := context.Background()
	_ = r.PutPromo(ctx, &domain.PromoCode{Code: "OLD5", Percentage: 5, Active: false})
	_ = r.PutPromo(ctx, &domain.PromoCode{Code: "SAVE15", Percentage: 15, Active: true})
	s := &PromoService{Repo: r}

	p, err := s.Lookup(ctx, " save15 ")
	if err != nil || p.Percentage != 15 {
		t.Fatalf("lookup: %v %+v", err, p)
	}
	if _, err := s.Lookup(ctx, "OLD5"); !isNotFound(err) {
		t.Fatalf("inactive promo: %v", err)
	}
}

func isConflict(err error) bool {
	var e ErrConflict
	return errors.As(err, &e)
}

func isBadRequest(err error) bool {
	var e ErrBadRequest
	return errors.As(err, &e)
}

func isUnauthorized(err error) bool {
	var e ErrUnauthorized
	return errors.As(err, &e)
}

func isNotFound(err error) bool {
	var e ErrNotFound
	return errors.As(err, &e)
}
