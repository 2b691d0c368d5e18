package domain

import "time"

// Event types published when a payment reaches a terminal state.
const (
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
)

// PaymentSettledEvent tells collaborators (membership activation, notifications)
// about a terminal transition.
type PaymentSettledEvent struct {
	PaymentID    int64      `json:"payment_id"`
	UserID       int64      `json:"user_id"`
	MembershipID int64      `json:"membership_id"`
	OrderID      string     `json:"order_id"`
	Amount       int64      `json:"amount"`
	StatusCode   StatusCode `json:"status_code"`
	SettledAt    time.Time  `json:"settled_at"`
}

// EventTypeFor returns the event name of a terminal status.
func EventTypeFor(status StatusCode) string {
	if status == StatusSuccess {
		return EventPaymentSucceeded
	}
	return EventPaymentFailed
}

// NewPaymentSettledEvent builds the event for a payment that just became terminal.
func NewPaymentSettledEvent(p *Payment) PaymentSettledEvent {
	settledAt := p.CreatedAt
	if p.PaymentDate != nil {
		settledAt = *p.PaymentDate
	}

	return PaymentSettledEvent{
		PaymentID:    p.ID,
		UserID:       p.UserID,
		MembershipID: p.MembershipID,
		OrderID:      p.OrderID,
		Amount:       p.AmountPaid,
		StatusCode:   p.StatusCode,
		SettledAt:    settledAt,
	}
}
