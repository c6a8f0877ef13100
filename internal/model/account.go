package model

import "github.com/shopspring/decimal"

// DefaultCurrency is the unit assumed for scraped amounts. Institutions are
// treated as single-currency for now.
const DefaultCurrency = "USD"

// AccountKind describes the product an account represents at its bank.
type AccountKind string

const (
	AccountKindChecking   AccountKind = "checking"
	AccountKindSavings    AccountKind = "savings"
	AccountKindCredit     AccountKind = "credit"
	AccountKindInvestment AccountKind = "investment"
	AccountKindLoan       AccountKind = "loan"
)

// AccountType classifies an account for balance signing.
type AccountType string

const (
	AccountTypeAssets      AccountType = "assets"
	AccountTypeLiabilities AccountType = "liabilities"
	AccountTypeExpenses    AccountType = "expenses"
)

// Inverted reports whether balances scraped for this type are stored with
// the opposite sign.
func (t AccountType) Inverted() bool {
	return t == AccountTypeLiabilities || t == AccountTypeExpenses
}

// Price is an amount in a currency.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Account is one account at one bank.
type Account struct {
	ID        string      `json:"id"`
	BankID    string      `json:"bankId"`
	Name      string      `json:"name"`
	Number    string      `json:"number"`
	Kind      AccountKind `json:"kind"`
	Type      AccountType `json:"type"`
	Balance   Price       `json:"balance"`
	MFAOption string      `json:"mfaOption,omitempty"`
}

// SignedBalance converts a balance read from the bank into the stored
// representation: liabilities and expenses flip sign, and the currency of
// the current balance is kept.
func (a Account) SignedBalance(scraped decimal.Decimal) Price {
	amount := scraped
	if a.Type.Inverted() {
		amount = amount.Neg()
	}
	currency := a.Balance.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return Price{Amount: amount, Currency: currency}
}

// BankCredentials is the login for one bank.
type BankCredentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}
