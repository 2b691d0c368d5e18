package domain

import (
	"strings"
	"time"
)

// gatewayZone is the gateway's business time zone (GMT+7); the date prefix of
// a transaction id must be the merchant's local date in it.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

const (
	datePrefixLayout = "060102"
	datePrefixSep    = "_"
)

// NewTransactionID builds the gateway transaction id <yymmdd>_<orderID>.
func NewTransactionID(createdAt time.Time, orderID string) string {
	return createdAt.In(gatewayZone).Format(datePrefixLayout) + datePrefixSep + orderID
}

// StripDatePrefix returns the local order id carried by a date-prefixed
// transaction id. ok is false when id does not have the <yymmdd>_ form.
func StripDatePrefix(id string) (orderID string, ok bool) {
	prefix, rest, found := strings.Cut(id, datePrefixSep)
	if !found || rest == "" || len(prefix) != len(datePrefixLayout) {
		return "", false
	}

	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	return rest, true
}

// CanonicalTransactionID returns the id the gateway knows a payment by: the
// stored order id once it has been rewritten, otherwise the id the order was
// created with.
func CanonicalTransactionID(p *Payment) string {
	if _, ok := StripDatePrefix(p.OrderID); ok {
		return p.OrderID
	}
	return NewTransactionID(p.CreatedAt, p.OrderID)
}
