package storefront

import (
	"encoding/json"

	"go.uber.org/zap"

	"flowershop/internal/domain"
	"flowershop/internal/storage"
)

const KeyPendingOrder = "pending-order"

type pendingOrder struct {
	Key     string `json:"key"`
	Request string `json:"request"`
}

// pendingKeys keeps the last unconfirmed submission in the state directory,
// so re-running checkout after a lost response reuses its idempotency key.
type pendingKeys struct {
	store  storage.Store
	logger *zap.Logger
}

func (p pendingKeys) KeyFor(req domain.OrderRequest) (string, bool) {
	var po pendingOrder
	ok, err := storage.GetJSON(p.store, KeyPendingOrder, &po)
	if err != nil {
		p.logger.Warn("read pending order", zap.Error(err))
		return "", false
	}
	if !ok || po.Key == "" {
		return "", false
	}
	raw, err := json.Marshal(req)
	if err != nil || string(raw) != po.Request {
		return "", false
	}
	return po.Key, true
}

func (p pendingKeys) Remember(req domain.OrderRequest, key string) {
	raw, err := json.Marshal(req)
	if err == nil {
		err = storage.SetJSON(p.store, KeyPendingOrder, pendingOrder{Key: key, Request: string(raw)})
	}
	if err != nil {
		p.logger.Warn("persist pending order", zap.Error(err))
	}
}

func (p pendingKeys) Forget() {
	if err := p.store.Delete(KeyPendingOrder); err != nil {
		p.logger.Warn("clear pending order", zap.Error(err))
	}
}
