package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cleared-dev/harvest/internal/id"
	"github.com/cleared-dev/harvest/internal/model"
)

const txnColumns = `id, account_id, txn_date, post_date, payee, amount, currency, txn_type, description, created_at, updated_at`

// InsertTransaction stores txn under accountID unless a transaction with the
// same dedup key exists. It reports whether a row was added.
func (s *Store) InsertTransaction(ctx context.Context, accountID string, txn model.Transaction) (bool, error) {
	currency := strings.ToUpper(txn.Currency)
	if currency == "" {
		currency = model.DefaultCurrency
	}
	now := formatTime(s.Now())
	key := id.DedupKey(accountID, txn.PostDate, txn.Amount, currency)

	n, err := s.execute(ctx, `
		INSERT INTO transactions (`+txnColumns+`, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{
			id.New(), accountID,
			txn.Date.Format(time.DateOnly), txn.PostDate.Format(time.DateOnly),
			txn.Payee, txn.Amount.String(), currency, txn.Type, txn.Description,
			now, now, key,
		}})
	if err != nil {
		return false, fmt.Errorf("inserting transaction %s: %w", key, err)
	}
	return n > 0, nil
}

// ListTransactions returns an account's transactions, newest post date first.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	var txns []model.Transaction
	_, err := s.execute(ctx, `SELECT `+txnColumns+` FROM transactions WHERE account_id = ? ORDER BY post_date DESC, txn_date DESC, id`,
		&sqlitex.ExecOptions{
			Args: []any{accountID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				txn, err := scanTransaction(stmt)
				if err != nil {
					return err
				}
				txns = append(txns, txn)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing transactions of %s: %w", accountID, err)
	}
	return txns, nil
}

// CountTransactions returns how many transactions an account has stored.
func (s *Store) CountTransactions(ctx context.Context, accountID string) (int, error) {
	var count int
	_, err := s.execute(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = ?`, &sqlitex.ExecOptions{
		Args: []any{accountID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting transactions of %s: %w", accountID, err)
	}
	return count, nil
}

func scanTransaction(stmt *sqlite.Stmt) (model.Transaction, error) {
	date, err := time.Parse(time.DateOnly, stmt.ColumnText(2))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date %q: %w", stmt.ColumnText(2), err)
	}
	postDate, err := time.Parse(time.DateOnly, stmt.ColumnText(3))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing post date %q: %w", stmt.ColumnText(3), err)
	}
	amount, err := decimal.NewFromString(stmt.ColumnText(5))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing amount %q: %w", stmt.ColumnText(5), err)
	}
	created, err := columnTime(stmt, 9)
	if err != nil {
		return model.Transaction{}, err
	}
	updated, err := columnTime(stmt, 10)
	if err != nil {
		return model.Transaction{}, err
	}
	return model.Transaction{
		ID:          stmt.ColumnText(0),
		AccountID:   stmt.ColumnText(1),
		Date:        date,
		PostDate:    postDate,
		Payee:       stmt.ColumnText(4),
		Amount:      amount,
		Currency:    stmt.ColumnText(6),
		Type:        stmt.ColumnText(7),
		Description: stmt.ColumnText(8),
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}
