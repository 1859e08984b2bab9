// Package cart holds the customer's in-progress selection and mirrors every
// change to durable storage so a restart reconstructs the same cart.
package cart

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
	"flowershop/internal/storage"
)

const StorageKey = "cart-storage"

type snapshot struct {
	Items []domain.CartItem `json:"items"`
}

// Store is safe for concurrent use. Mutations never fail: a storage error is
// logged and the in-memory cart stays authoritative.
type Store struct {
	mu     sync.RWMutex
	items  []domain.CartItem
	st     storage.Store
	logger *zap.Logger
}

func NewStore(st storage.Store, logger *zap.Logger) *Store {
	s := &Store{st: st, logger: logging.OrNop(logger).Named("cart")}
	s.restore()
	return s
}

func (s *Store) restore() {
	if s.st == nil {
		return
	}
	var snap snapshot
	ok, err := storage.GetJSON(s.st, StorageKey, &snap)
	if err != nil {
		s.logger.Warn("discarding unreadable cart", zap.Error(err))
		_ = s.st.Delete(StorageKey)
		return
	}
	if !ok {
		return
	}
	for _, it := range snap.Items {
		if it.Flower.ID == "" || it.Quantity <= 0 {
			continue
		}
		s.items = mergeInto(s.items, it.Flower, it.Quantity)
	}
	s.logger.Debug("cart restored", zap.Int("lines", len(s.items)))
}

// AddItem appends the flower or increments its quantity. qty <= 0 adds one.
func (s *Store) AddItem(f domain.Flower, qty int) {
	if qty <= 0 {
		qty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = mergeInto(s.items, f, qty)
	s.persistLocked()
}

func (s *Store) RemoveItem(flowerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.items, flowerID)
	if idx < 0 {
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.persistLocked()
}

// UpdateQuantity sets the exact quantity; qty <= 0 removes the line.
// Unknown ids are ignored.
func (s *Store) UpdateQuantity(flowerID string, qty int) {
	if qty <= 0 {
		s.RemoveItem(flowerID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.items, flowerID)
	if idx < 0 {
		return
	}
	s.items[idx].Quantity = qty
	s.persistLocked()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.persistLocked()
}

// Items returns a copy in insertion order.
func (s *Store) Items() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CartItem(nil), s.items...)
}

func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items) == 0
}

func (s *Store) TotalItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, it := range s.items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func (s *Store) persistLocked() {
	if s.st == nil {
		return
	}
	var err error
	if len(s.items) == 0 {
		err = s.st.Delete(StorageKey)
	} else {
		err = storage.SetJSON(s.st, StorageKey, snapshot{Items: s.items})
	}
	if err != nil {
		s.logger.Error("persist cart", zap.Error(err))
	}
}

func mergeInto(items []domain.CartItem, f domain.Flower, qty int) []domain.CartItem {
	if idx := indexOf(items, f.ID); idx >= 0 {
		items[idx].Quantity += qty
		return items
	}
	return append(items, domain.CartItem{Flower: f, Quantity: qty})
}

func indexOf(items []domain.CartItem, flowerID string) int {
	for i := range items {
		if items[i].Flower.ID == flowerID {
			return i
		}
	}
	return -1
}
