// Package memory is a process-local PaymentStore used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
)

// PaymentStore keeps payments in maps guarded by one RWMutex. It enforces the
// same invariants as the postgres store: unique order ids and terminal monotonicity.
type PaymentStore struct {
	mu       sync.RWMutex
	nextID   int64
	payments map[int64]*domain.Payment
	orderIDs map[string]int64
	events   []domain.PaymentSettledEvent
}

// NewPaymentStore returns an empty store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		payments: make(map[int64]*domain.Payment),
		orderIDs: make(map[string]int64),
	}
}

func (s *PaymentStore) Create(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orderIDs[p.OrderID]; exists {
		return domain.ErrDuplicateOrderID
	}

	s.nextID++
	p.ID = s.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	stored := *p
	s.payments[p.ID] = &stored
	s.orderIDs[p.OrderID] = p.ID

	return nil
}

func (s *PaymentStore) FindByID(_ context.Context, paymentID int64) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return clone(p), nil
}

func (s *PaymentStore) FindByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderIDs[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return clone(s.payments[id]), nil
}

func (s *PaymentStore) FindByLocalOrderID(_ context.Context, localOrderID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for orderID, id := range s.orderIDs {
		if local, ok := domain.StripDatePrefix(orderID); ok && local == localOrderID {
			return clone(s.payments[id]), nil
		}
	}

	return nil, domain.ErrNotFound
}

func (s *PaymentStore) UpdateOrderID(_ context.Context, paymentID int64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.OrderID == orderID {
		return nil
	}
	if _, taken := s.orderIDs[orderID]; taken {
		return domain.ErrDuplicateOrderID
	}

	delete(s.orderIDs, p.OrderID)
	p.OrderID = orderID
	s.orderIDs[orderID] = paymentID

	return nil
}

func (s *PaymentStore) UpdateStatus(_ context.Context, paymentID int64, status domain.StatusCode, at time.Time) (*domain.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}

	switch {
	case p.StatusCode == status:
		return clone(p), false, nil
	case p.StatusCode.IsTerminal():
		return clone(p), false, domain.ErrStatusConflict
	}

	paidAt := at
	p.StatusCode = status
	p.PaymentDate = &paidAt
	s.events = append(s.events, domain.NewPaymentSettledEvent(p))

	return clone(p), true, nil
}

func (s *PaymentStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*domain.Payment
	for _, p := range s.payments {
		if p.StatusCode == domain.StatusPending && p.CreatedAt.Before(createdBefore) {
			pending = append(pending, clone(p))
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	return pending, nil
}

// Events returns the settlement events recorded so far, oldest first.
func (s *PaymentStore) Events() []domain.PaymentSettledEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.PaymentSettledEvent(nil), s.events...)
}

func clone(p *domain.Payment) *domain.Payment {
	c := *p
	if p.PaymentDate != nil {
		d := *p.PaymentDate
		c.PaymentDate = &d
	}
	return &c
}
