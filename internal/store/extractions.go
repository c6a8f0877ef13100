package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cleared-dev/harvest/internal/id"
	"github.com/cleared-dev/harvest/internal/model"
)

const extractionColumns = `id, account_id, queued_at, started_at, updated_at, finished_at, found_ct, add_ct, error`

// CreateExtraction queues a new lifecycle record for an account.
func (s *Store) CreateExtraction(ctx context.Context, accountID string) (model.Extraction, error) {
	e := model.Extraction{ID: id.New(), AccountID: accountID, QueuedAt: s.Now()}
	_, err := s.execute(ctx, `INSERT INTO extractions (id, account_id, queued_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{e.ID, e.AccountID, formatTime(e.QueuedAt)}})
	if err != nil {
		return model.Extraction{}, fmt.Errorf("creating extraction for %s: %w", accountID, err)
	}
	return e, nil
}

// GetExtraction fetches a lifecycle record by ID.
func (s *Store) GetExtraction(ctx context.Context, extractionID string) (model.Extraction, error) {
	list, err := s.queryExtractions(ctx, `WHERE id = ?`, extractionID)
	if err != nil {
		return model.Extraction{}, err
	}
	if len(list) == 0 {
		return model.Extraction{}, fmt.Errorf("extraction %s: %w", extractionID, ErrNotFound)
	}
	return list[0], nil
}

// ListExtractions returns lifecycle records, newest first. With
// unfinishedOnly set, only records without finishedAt are returned.
func (s *Store) ListExtractions(ctx context.Context, unfinishedOnly bool) ([]model.Extraction, error) {
	if unfinishedOnly {
		return s.queryExtractions(ctx, `WHERE finished_at IS NULL`)
	}
	return s.queryExtractions(ctx, ``)
}

func (s *Store) queryExtractions(ctx context.Context, where string, args ...any) ([]model.Extraction, error) {
	var list []model.Extraction
	_, err := s.execute(ctx, `SELECT `+extractionColumns+` FROM extractions `+where+` ORDER BY queued_at DESC, id`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := scanExtraction(stmt)
				if err != nil {
					return err
				}
				list = append(list, e)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("querying extractions: %w", err)
	}
	return list, nil
}

// UpdateExtraction merges a partial update into a lifecycle record.
func (s *Store) UpdateExtraction(ctx context.Context, extractionID string, patch model.ExtractionPatch) error {
	n, err := s.execute(ctx, `
		UPDATE extractions SET
			started_at  = COALESCE(?, started_at),
			updated_at  = COALESCE(?, updated_at),
			finished_at = COALESCE(?, finished_at),
			error       = COALESCE(?, error)
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			nullTime(patch.StartedAt), nullTime(patch.UpdatedAt), nullTime(patch.FinishedAt),
			nullString(patch.Error), extractionID,
		}})
	if err != nil {
		return fmt.Errorf("updating extraction %s: %w", extractionID, err)
	}
	if n == 0 {
		return fmt.Errorf("extraction %s: %w", extractionID, ErrNotFound)
	}
	return nil
}

// AddCounts adds to the found/added counters and bumps updatedAt.
func (s *Store) AddCounts(ctx context.Context, extractionID string, found, added int) error {
	n, err := s.execute(ctx, `
		UPDATE extractions SET found_ct = found_ct + ?, add_ct = add_ct + ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{found, added, formatTime(s.Now()), extractionID}})
	if err != nil {
		return fmt.Errorf("updating counts of %s: %w", extractionID, err)
	}
	if n == 0 {
		return fmt.Errorf("extraction %s: %w", extractionID, ErrNotFound)
	}
	return nil
}

// AbortUnfinished finishes every record that has no finishedAt, setting
// its error to reason. It returns how many records it touched.
func (s *Store) AbortUnfinished(ctx context.Context, reason string) (int, error) {
	n, err := s.execute(ctx, `UPDATE extractions SET finished_at = ?, error = ? WHERE finished_at IS NULL`,
		&sqlitex.ExecOptions{Args: []any{formatTime(s.Now()), reason}})
	if err != nil {
		return 0, fmt.Errorf("aborting unfinished extractions: %w", err)
	}
	if n > 0 {
		s.logger.Warn("aborted unfinished extractions", zap.Int("count", n), zap.String("reason", reason))
	}
	return n, nil
}

func scanExtraction(stmt *sqlite.Stmt) (model.Extraction, error) {
	queued, err := columnTime(stmt, 2)
	if err != nil {
		return model.Extraction{}, err
	}
	e := model.Extraction{
		ID:        stmt.ColumnText(0),
		AccountID: stmt.ColumnText(1),
		QueuedAt:  queued,
		FoundCt:   stmt.ColumnInt(6),
		AddCt:     stmt.ColumnInt(7),
		Error:     stmt.ColumnText(8),
	}
	if e.StartedAt, err = columnTimePtr(stmt, 3); err != nil {
		return model.Extraction{}, err
	}
	if e.UpdatedAt, err = columnTimePtr(stmt, 4); err != nil {
		return model.Extraction{}, err
	}
	if e.FinishedAt, err = columnTimePtr(stmt, 5); err != nil {
		return model.Extraction{}, err
	}
	return e, nil
}
