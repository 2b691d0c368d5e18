// Package redis adds a read-through cache in front of a PaymentStore.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/core/ports"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore caches terminal payments only. Pending payments are always read
// from the underlying store so that a status transition is never masked.
type CachedStore struct {
	next     ports.PaymentStore
	client   *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCachedStore wraps next. A non-positive ttl falls back to ten minutes.
func NewCachedStore(next ports.PaymentStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &CachedStore{
		next:     next,
		client:   client,
		cacheTTL: ttl,
		logger:   logger,
	}
}

func idKey(id int64) string {
	return fmt.Sprintf("payment:id:%d", id)
}

func orderKey(orderID string) string {
	return "payment:order:" + orderID
}

func (s *CachedStore) Create(ctx context.Context, p *domain.Payment) error {
	return s.next.Create(ctx, p)
}

func (s *CachedStore) FindByID(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	if p, ok := s.get(ctx, idKey(paymentID)); ok {
		return p, nil
	}

	p, err := s.next.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	s.put(ctx, p)
	return p, nil
}

func (s *CachedStore) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	if p, ok := s.get(ctx, orderKey(orderID)); ok {
		return p, nil
	}

	p, err := s.next.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.put(ctx, p)
	return p, nil
}

func (s *CachedStore) FindByLocalOrderID(ctx context.Context, localOrderID string) (*domain.Payment, error) {
	p, err := s.next.FindByLocalOrderID(ctx, localOrderID)
	if err != nil {
		return nil, err
	}

	s.put(ctx, p)
	return p, nil
}

func (s *CachedStore) UpdateOrderID(ctx context.Context, paymentID int64, orderID string) error {
	previous, err := s.next.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if err := s.next.UpdateOrderID(ctx, paymentID, orderID); err != nil {
		return err
	}

	s.evict(ctx, idKey(paymentID), orderKey(previous.OrderID), orderKey(orderID))
	return nil
}

func (s *CachedStore) UpdateStatus(ctx context.Context, paymentID int64, status domain.StatusCode, at time.Time) (*domain.Payment, bool, error) {
	p, changed, err := s.next.UpdateStatus(ctx, paymentID, status, at)
	if changed {
		s.evict(ctx, idKey(p.ID), orderKey(p.OrderID))
	}
	return p, changed, err
}

func (s *CachedStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	return s.next.ListPending(ctx, createdBefore, limit)
}

func (s *CachedStore) get(ctx context.Context, key string) (*domain.Payment, bool) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn(ctx, s.logger, "payment cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var p domain.Payment
	if err := json.Unmarshal(val, &p); err != nil {
		s.evict(ctx, key)
		return nil, false
	}

	return &p, true
}

func (s *CachedStore) put(ctx context.Context, p *domain.Payment) {
	if !p.StatusCode.IsTerminal() {
		return
	}

	data, err := json.Marshal(p)
	if err != nil {
		return
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, idKey(p.ID), data, s.cacheTTL)
	pipe.Set(ctx, orderKey(p.OrderID), data, s.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Warn(ctx, s.logger, "payment cache write failed", zap.Int64("payment_id", p.ID), zap.Error(err))
	}
}

func (s *CachedStore) evict(ctx context.Context, keys ...string) {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		logging.Warn(ctx, s.logger, "payment cache evict failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
