package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cleared-dev/harvest/internal/id"
	"github.com/cleared-dev/harvest/internal/model"
)

const accountColumns = `id, bank_id, name, number, kind, type, balance, currency, mfa_option`

// CreateAccount inserts an account, assigning an ID if it has none.
func (s *Store) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if a.ID == "" {
		a.ID = id.New()
	}
	if a.Balance.Currency == "" {
		a.Balance.Currency = model.DefaultCurrency
	}
	_, err := s.execute(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			a.ID, a.BankID, a.Name, a.Number, string(a.Kind), string(a.Type),
			a.Balance.Amount.String(), a.Balance.Currency, a.MFAOption,
		}})
	if err != nil {
		return model.Account{}, fmt.Errorf("creating account: %w", err)
	}
	return a, nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	var (
		found bool
		acct  model.Account
	)
	_, err := s.execute(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{accountID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var err error
			acct, err = scanAccount(stmt)
			found = true
			return err
		},
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("getting account %s: %w", accountID, err)
	}
	if !found {
		return model.Account{}, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return acct, nil
}

// ListAccounts returns every account ordered by bank and name.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accts []model.Account
	_, err := s.execute(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY bank_id, name`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			acct, err := scanAccount(stmt)
			if err != nil {
				return err
			}
			accts = append(accts, acct)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accts, nil
}

// UpdateBalance stores a newly scraped balance.
func (s *Store) UpdateBalance(ctx context.Context, accountID string, balance model.Price) error {
	n, err := s.execute(ctx, `UPDATE accounts SET balance = ?, currency = ? WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{balance.Amount.String(), balance.Currency, accountID},
	})
	if err != nil {
		return fmt.Errorf("updating balance of %s: %w", accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func scanAccount(stmt *sqlite.Stmt) (model.Account, error) {
	balance, err := decimal.NewFromString(stmt.ColumnText(6))
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing balance %q: %w", stmt.ColumnText(6), err)
	}
	return model.Account{
		ID:        stmt.ColumnText(0),
		BankID:    stmt.ColumnText(1),
		Name:      stmt.ColumnText(2),
		Number:    stmt.ColumnText(3),
		Kind:      model.AccountKind(stmt.ColumnText(4)),
		Type:      model.AccountType(stmt.ColumnText(5)),
		Balance:   model.Price{Amount: balance, Currency: stmt.ColumnText(7)},
		MFAOption: stmt.ColumnText(8),
	}, nil
}
