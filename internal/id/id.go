package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// New returns a random identifier for accounts, transactions and
// extraction records.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier returned by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// DedupKey returns the uniqueness key of a transaction:
// "<account>|<post date>|<amount>|<currency>".
// The amount is normalised so "10.50" and "10.5" collide.
func DedupKey(accountID string, postDate time.Time, amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s|%s|%s|%s", accountID, postDate.Format(time.DateOnly), amount.String(), strings.ToUpper(currency))
}
