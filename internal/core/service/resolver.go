package service

import (
	"context"
	"errors"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/core/ports"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"go.uber.org/zap"
)

// Resolver maps a gateway transaction id back to the stored payment.
type Resolver struct {
	store  ports.PaymentStore
	logger *zap.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store ports.PaymentStore, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve finds the payment for transactionID. A payment still stored under
// its local order id is found through the <yymmdd>_ prefix and its order id is
// rewritten to transactionID so the next lookup is exact.
func (r *Resolver) Resolve(ctx context.Context, transactionID string) (*domain.Payment, error) {
	payment, err := r.store.FindByOrderID(ctx, transactionID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	localID, ok := domain.StripDatePrefix(transactionID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	payment, err = r.store.FindByOrderID(ctx, localID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Another delivery may have healed the row between the two reads.
			return r.store.FindByOrderID(ctx, transactionID)
		}
		return nil, err
	}

	if err := r.store.UpdateOrderID(ctx, payment.ID, transactionID); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrderID) {
			return r.store.FindByOrderID(ctx, transactionID)
		}
		// The payment was found; a failed rewrite only delays healing.
		logging.Warn(ctx, r.logger, "order id rewrite failed",
			zap.Int64("payment_id", payment.ID),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return payment, nil
	}

	logging.Info(ctx, r.logger, "order id healed",
		zap.Int64("payment_id", payment.ID),
		zap.String("from", localID),
		zap.String("to", transactionID),
	)

	payment.OrderID = transactionID
	return payment, nil
}
