package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CallbackEnvelope is the body the gateway POSTs to the callback endpoint.
// Data is kept as the raw string the MAC was computed over and is only
// decoded after the MAC has been verified.
type CallbackEnvelope struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type"`
}

// CallbackData is the authenticated content of CallbackEnvelope.Data.
type CallbackData struct {
	AppID          int64          `json:"app_id"`
	AppTransID     string         `json:"app_trans_id"`
	AppTime        int64          `json:"app_time"`
	AppUser        string         `json:"app_user"`
	Amount         int64          `json:"amount"`
	EmbedData      string         `json:"embed_data"`
	Item           string         `json:"item"`
	ZPTransID      int64          `json:"zp_trans_id"`
	ServerTime     int64          `json:"server_time"`
	Channel        int            `json:"channel"`
	MerchantUserID string         `json:"merchant_user_id"`
	UserFeeAmount  int64          `json:"user_fee_amount"`
	DiscountAmount int64          `json:"discount_amount"`
	Status         *GatewayStatus `json:"status,omitempty"`
}

// ParseCallbackData decodes verified callback data. Every failure wraps ErrParse.
func ParseCallbackData(raw string) (*CallbackData, error) {
	var data CallbackData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	data.AppTransID = strings.TrimSpace(data.AppTransID)
	if data.AppTransID == "" {
		return nil, fmt.Errorf("%w: app_trans_id is missing", ErrParse)
	}

	return &data, nil
}

// GatewayStatus returns the status the gateway reported. Order callbacks that
// carry no explicit status are only sent for paid orders and are recognised
// by the gateway transaction id they carry.
func (d *CallbackData) GatewayStatus() GatewayStatus {
	if d.Status != nil {
		return *d.Status
	}
	if d.ZPTransID > 0 {
		return GatewayStatusSuccess
	}
	return 0
}

// Ack return codes understood by the gateway.
const (
	AckSuccess = 1
	AckRetry   = 0
	AckReject  = -1
)

// Ack messages.
const (
	AckMessageSuccess        = "success"
	AckMessageMACNotEqual    = "mac not equal"
	AckMessageInvalidData    = "invalid callback data"
	AckMessageOrderNotFound  = "order not found"
	AckMessageStatusConflict = "status conflict"
	AckMessageInternalError  = "internal server error"
)

// Ack is the structured acknowledgment returned to the gateway. It is always
// delivered with HTTP 200.
type Ack struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

// NewAck builds an ack without a redirect URL.
func NewAck(code int, message string) Ack {
	return Ack{ReturnCode: code, ReturnMessage: message}
}
