package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cleared-dev/harvest/internal/model"
)

// PutChallenge replaces any challenge for the bank with ch. A new request
// overwrites an outstanding one rather than queueing behind it.
func (s *Store) PutChallenge(ctx context.Context, ch model.MFAChallenge) error {
	if ch.RequestedAt.IsZero() {
		ch.RequestedAt = s.Now()
	}
	options, err := encodeOptions(ch.Options)
	if err != nil {
		return err
	}
	var option any
	if ch.Option != nil {
		option = *ch.Option
	}
	_, err = s.execute(ctx, `
		INSERT OR REPLACE INTO mfa_challenges (bank_id, options, chosen_option, code, requested_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{ch.BankID, options, option, ch.Code, formatTime(ch.RequestedAt)}})
	if err != nil {
		return fmt.Errorf("putting challenge for %s: %w", ch.BankID, err)
	}
	return nil
}

// RegisterChallenge creates the challenge marker for a bank, or refreshes
// its request time. An option or code already supplied is kept, and the
// option list is only replaced when options is non-empty.
func (s *Store) RegisterChallenge(ctx context.Context, bankID string, options []string) error {
	encoded, err := encodeOptions(options)
	if err != nil {
		return err
	}
	_, err = s.execute(ctx, `
		INSERT INTO mfa_challenges (bank_id, options, requested_at) VALUES (?, ?, ?)
		ON CONFLICT (bank_id) DO UPDATE SET
			requested_at = excluded.requested_at,
			options      = COALESCE(excluded.options, mfa_challenges.options)`,
		&sqlitex.ExecOptions{Args: []any{bankID, encoded, formatTime(s.Now())}})
	if err != nil {
		return fmt.Errorf("registering challenge for %s: %w", bankID, err)
	}
	return nil
}

// GetChallenge returns the outstanding challenge for a bank.
func (s *Store) GetChallenge(ctx context.Context, bankID string) (model.MFAChallenge, error) {
	var (
		found bool
		ch    model.MFAChallenge
	)
	_, err := s.execute(ctx, `SELECT bank_id, options, chosen_option, code, requested_at FROM mfa_challenges WHERE bank_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{bankID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				ch.BankID = stmt.ColumnText(0)
				if !stmt.ColumnIsNull(1) {
					if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &ch.Options); err != nil {
						return fmt.Errorf("decoding options: %w", err)
					}
				}
				if !stmt.ColumnIsNull(2) {
					option := stmt.ColumnInt(2)
					ch.Option = &option
				}
				ch.Code = stmt.ColumnText(3)
				var err error
				ch.RequestedAt, err = columnTime(stmt, 4)
				return err
			},
		})
	if err != nil {
		return model.MFAChallenge{}, fmt.Errorf("getting challenge for %s: %w", bankID, err)
	}
	if !found {
		return model.MFAChallenge{}, fmt.Errorf("challenge for %s: %w", bankID, ErrNotFound)
	}
	return ch, nil
}

// UpdateChallenge fills in the fields of u on an outstanding challenge.
func (s *Store) UpdateChallenge(ctx context.Context, bankID string, u model.MFAUpdate) error {
	options, err := encodeOptions(u.Options)
	if err != nil {
		return err
	}
	var option any
	if u.Option != nil {
		option = *u.Option
	}
	n, err := s.execute(ctx, `
		UPDATE mfa_challenges SET
			options       = COALESCE(?, options),
			chosen_option = COALESCE(?, chosen_option),
			code          = COALESCE(?, code)
		WHERE bank_id = ?`,
		&sqlitex.ExecOptions{Args: []any{options, option, nullString(u.Code), bankID}})
	if err != nil {
		return fmt.Errorf("updating challenge for %s: %w", bankID, err)
	}
	if n == 0 {
		return fmt.Errorf("challenge for %s: %w", bankID, ErrNotFound)
	}
	return nil
}

// DeleteChallenge removes a bank's challenge. Deleting a missing challenge
// is not an error.
func (s *Store) DeleteChallenge(ctx context.Context, bankID string) error {
	if _, err := s.execute(ctx, `DELETE FROM mfa_challenges WHERE bank_id = ?`,
		&sqlitex.ExecOptions{Args: []any{bankID}}); err != nil {
		return fmt.Errorf("deleting challenge for %s: %w", bankID, err)
	}
	return nil
}

// encodeOptions returns nil (SQL NULL) for an empty list.
func encodeOptions(options []string) (any, error) {
	if len(options) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encoding options: %w", err)
	}
	return string(data), nil
}
