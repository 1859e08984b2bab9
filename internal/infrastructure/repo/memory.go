package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"flowershop/internal/domain"
)

// MemoryRepo keeps every table in maps behind one lock, so order creation and
// the bonus balance update happen together.
type MemoryRepo struct {
	mu      sync.RWMutex
	users   map[string]*domain.User
	flowers map[string]*domain.Flower
	promos  map[string]*domain.PromoCode
	orders  map[string]*domain.Order
	// userID + "\x00" + idempotency key -> order ID
	keys map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users:   make(map[string]*domain.User),
		flowers: make(map[string]*domain.Flower),
		promos:  make(map[string]*domain.PromoCode),
		orders:  make(map[string]*domain.Order),
		keys:    make(map[string]string),
	}
}

// PutUser inserts or updates u. The bonus balance of an existing user is left
// alone; only CreateOrder moves it.
func (r *MemoryRepo) PutUser(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.users {
		if other.ID != u.ID && u.Email != "" && other.Email == u.Email {
			return domain.ErrDuplicate
		}
	}
	cp := *u
	if prev, ok := r.users[u.ID]; ok {
		cp.BonusBalance = prev.BonusBalance
	}
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetUser(_ context.Context, id string) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

func (r *MemoryRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, bool) {
	return r.findUser(func(u *domain.User) bool { return email != "" && u.Email == email })
}

func (r *MemoryRepo) GetUserByTelegramID(_ context.Context, telegramID int64) (*domain.User, bool) {
	return r.findUser(func(u *domain.User) bool { return telegramID != 0 && u.TelegramID == telegramID })
}

func (r *MemoryRepo) findUser(match func(*domain.User) bool) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, true
		}
	}
	return nil, false
}

func (r *MemoryRepo) PutFlower(_ context.Context, f *domain.Flower) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.flowers[f.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetFlower(_ context.Context, id string) (*domain.Flower, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flowers[id]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

func (r *MemoryRepo) ListFlowers(_ context.Context, f domain.FlowerFilter) ([]domain.Flower, int, error) {
	r.mu.RLock()
	all := make([]domain.Flower, 0, len(r.flowers))
	for _, fl := range r.flowers {
		if matches(fl, f) {
			all = append(all, *fl)
		}
	}
	r.mu.RUnlock()

	sortFlowers(all, f.Sort)
	total := len(all)
	start, end := pageBounds(f.Page, f.PageSize, total)
	return all[start:end], total, nil
}

func matches(fl *domain.Flower, f domain.FlowerFilter) bool {
	if f.Category != "" && !strings.EqualFold(fl.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(fl.Name), q) && !strings.Contains(strings.ToLower(fl.Description), q) {
			return false
		}
	}
	if f.InStock != nil && fl.InStock != *f.InStock {
		return false
	}
	if f.MinPrice != nil && fl.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && fl.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

func sortFlowers(fs []domain.Flower, order string) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		switch order {
		case domain.SortPriceAsc:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		case domain.SortPriceDesc:
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
		case domain.SortNewest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func pageBounds(page, pageSize, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = total
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func (r *MemoryRepo) PutPromo(_ context.Context, p *domain.PromoCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.promos[p.Code] = &cp
	return nil
}

func (r *MemoryRepo) GetPromo(_ context.Context, code string) (*domain.PromoCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.promos[code]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func orderKey(userID, key string) string { return userID + "\x00" + key }

func (r *MemoryRepo) CreateOrder(_ context.Context, o *domain.Order, bonusDelta int64) (*domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.IdempotencyKey != "" {
		if id, ok := r.keys[orderKey(o.UserID, o.IdempotencyKey)]; ok {
			cp := *r.orders[id]
			return &cp, false, nil
		}
	}
	u, ok := r.users[o.UserID]
	if !ok {
		return nil, false, fmt.Errorf("user %s not found", o.UserID)
	}
	if u.BonusBalance+bonusDelta < 0 {
		return nil, false, domain.ErrInsufficientBonus
	}
	u.BonusBalance += bonusDelta
	u.UpdatedAt = o.CreatedAt

	cp := *o
	cp.Items = append([]domain.OrderLine(nil), o.Items...)
	r.orders[o.ID] = &cp
	if o.IdempotencyKey != "" {
		r.keys[orderKey(o.UserID, o.IdempotencyKey)] = o.ID
	}
	out := cp
	return &out, true, nil
}

func (r *MemoryRepo) GetOrderByKey(_ context.Context, userID, key string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keys[orderKey(userID, key)]
	if !ok {
		return nil, false
	}
	cp := *r.orders[id]
	return &cp, true
}

func (r *MemoryRepo) ListOrders(_ context.Context, userID string, page, pageSize int) ([]domain.Order, int) {
	r.mu.RLock()
	all := make([]domain.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			all = append(all, *o)
		}
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	start, end := pageBounds(page, pageSize, total)
	return all[start:end], total
}
