package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one posted movement on an account. Drafts produced by the
// row parser carry no ID, AccountID or timestamps.
type Transaction struct {
	ID          string          `json:"id,omitempty"`
	AccountID   string          `json:"accountId,omitempty"`
	Date        time.Time       `json:"date"`
	PostDate    time.Time       `json:"postDate"`
	Payee       string          `json:"payee"`
	Amount      decimal.Decimal `json:"amount"` // negative = withdrawal
	Currency    string          `json:"currency"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitzero"`
	UpdatedAt   time.Time       `json:"updatedAt,omitzero"`
}

// DateRange bounds one pagination step. Start is inclusive, End exclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in [Start, End).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
