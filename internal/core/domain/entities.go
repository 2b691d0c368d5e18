// Package domain contains the core business entities for the payment service.
// This is the innermost layer - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// PaymentMethodZaloPay tags payments created through the ZaloPay gateway.
const PaymentMethodZaloPay = "zalopay"

// Payment is the sole persistent entity of the engine.
// UserID and MembershipID are opaque references owned by other services.
type Payment struct {
	ID            int64      `json:"paymentId"`
	UserID        int64      `json:"userId"`
	MembershipID  int64      `json:"membershipId"`
	AmountPaid    int64      `json:"amountPaid"`
	OrderID       string     `json:"orderId"`
	StatusCode    StatusCode `json:"statusCode"`
	PaymentMethod string     `json:"paymentMethod"`
	CreatedAt     time.Time  `json:"createdAt"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
}

// NewLocalOrderID builds the locally generated order id: PAY<unix millis><userId>.
func NewLocalOrderID(now time.Time, userID int64) string {
	return fmt.Sprintf("PAY%d%d", now.UnixMilli(), userID)
}

// CreatePaymentRequest is the body of POST /payment.
type CreatePaymentRequest struct {
	UserID       int64 `json:"userId" binding:"required,gt=0"`
	MembershipID int64 `json:"membershipId" binding:"required,gt=0"`
	AmountPaid   int64 `json:"amountPaid" binding:"required,gt=0"`
}

// CreatePaymentResponse is returned after an order has been registered.
type CreatePaymentResponse struct {
	PaymentID  int64  `json:"paymentId"`
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl"`
}

// GatewayOrder is what the gateway hands back for a created order.
type GatewayOrder struct {
	TransactionID string
	OrderURL      string
	ZPTransToken  string
}

// GatewayStatusResult is the raw payload of the gateway's status query.
type GatewayStatusResult struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	IsProcessing     bool   `json:"is_processing"`
	Amount           int64  `json:"amount"`
	ZPTransID        int64  `json:"zp_trans_id"`
}

// Gateway query return codes.
const (
	GatewayQuerySuccess    = 1
	GatewayQueryFailed     = 2
	GatewayQueryProcessing = 3
)

// StatusResponse is the body of GET /payment/status/:orderId.
type StatusResponse struct {
	PaymentID         int64                `json:"paymentId"`
	StatusCode        StatusCode           `json:"statusCode"`
	Status            string               `json:"status"`
	StatusDescription string               `json:"status_description"`
	Amount            int64                `json:"amount"`
	OrderID           string               `json:"orderId"`
	Gateway           *GatewayStatusResult `json:"gateway,omitempty"`
	GatewayError      string               `json:"gateway_error,omitempty"`
}

// NewStatusResponse projects a payment into its public status view.
func NewStatusResponse(p *Payment) *StatusResponse {
	view := Project(p.StatusCode)

	return &StatusResponse{
		PaymentID:         p.ID,
		StatusCode:        p.StatusCode,
		Status:            view.Label,
		StatusDescription: view.Description,
		Amount:            p.AmountPaid,
		OrderID:           p.OrderID,
	}
}
