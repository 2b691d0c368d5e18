// Package zalopay implements the ZaloPay v2 order, query and callback protocol.
package zalopay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const fieldSep = "|"

// Sign joins fields with "|" and returns the lowercase hex HMAC-SHA256 of the
// result keyed by secret.
func Sign(secret string, fields ...string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(fields, fieldSep)))
	return hex.EncodeToString(h.Sum(nil))
}

// OrderSigner signs outbound requests with the order key (key1).
// The field order of each method is the gateway's wire contract.
type OrderSigner struct {
	appID string
	key1  string
}

// NewOrderSigner creates a signer for one merchant app.
func NewOrderSigner(appID, key1 string) *OrderSigner {
	return &OrderSigner{appID: appID, key1: key1}
}

// SignCreate signs app_id|app_trans_id|app_user|amount|app_time|embed_data|item.
func (s *OrderSigner) SignCreate(appTransID, appUser string, amount, appTime int64, embedData, item string) string {
	return Sign(s.key1,
		s.appID,
		appTransID,
		appUser,
		strconv.FormatInt(amount, 10),
		strconv.FormatInt(appTime, 10),
		embedData,
		item,
	)
}

// SignQuery signs app_id|app_trans_id|key1.
func (s *OrderSigner) SignQuery(appTransID string) string {
	return Sign(s.key1, s.appID, appTransID, s.key1)
}
