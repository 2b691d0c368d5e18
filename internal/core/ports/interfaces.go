// Package ports defines the interfaces (ports) for the payment service.
// These are contracts that adapters must implement.
package ports

import (
	"context"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
)

// PaymentStore is the durable store of Payment records.
type PaymentStore interface {
	// Create inserts a Pending payment and assigns its ID.
	// Returns domain.ErrDuplicateOrderID if the order id is taken.
	Create(ctx context.Context, payment *domain.Payment) error

	// FindByID returns domain.ErrNotFound for an unknown id.
	FindByID(ctx context.Context, paymentID int64) (*domain.Payment, error)

	// FindByOrderID is an exact match on the stored order id.
	// Returns domain.ErrNotFound when nothing matches.
	FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// FindByLocalOrderID finds a payment whose order id was rewritten to
	// <yymmdd>_<localOrderID>. Returns domain.ErrNotFound when nothing matches.
	FindByLocalOrderID(ctx context.Context, localOrderID string) (*domain.Payment, error)

	// UpdateOrderID rewrites the order id of a payment.
	// Returns domain.ErrDuplicateOrderID if another payment owns orderID.
	UpdateOrderID(ctx context.Context, paymentID int64, orderID string) error

	// UpdateStatus moves a Pending payment into a terminal status and stamps
	// its payment date. Re-applying the stored terminal status is a no-op with
	// changed=false; a different terminal status returns domain.ErrStatusConflict.
	UpdateStatus(ctx context.Context, paymentID int64, status domain.StatusCode, at time.Time) (payment *domain.Payment, changed bool, err error)

	// ListPending returns Pending payments created before the given time, oldest first.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error)
}

// PaymentGateway talks to the external payment gateway.
type PaymentGateway interface {
	// CreateOrder registers the payment with the gateway and returns the
	// gateway transaction id and the URL the user pays at.
	CreateOrder(ctx context.Context, payment *domain.Payment) (*domain.GatewayOrder, error)

	// QueryStatus asks the gateway for the state of a transaction. Read-only.
	QueryStatus(ctx context.Context, appTransID string) (*domain.GatewayStatusResult, error)
}

// CallbackVerifier authenticates raw callback data.
type CallbackVerifier interface {
	Verify(rawData, providedMAC string) bool
}
