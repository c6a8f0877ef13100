package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/importer"
	"github.com/cleared-dev/harvest/internal/model"
)

// windowDays approximates one month of history.
const windowDays = 30

// Pager walks an account's history backward from now in windows no wider
// than the bank accepts, until a window comes back empty.
type Pager struct {
	Adapter bank.Adapter
	Session bank.Session
	Account model.Account
	// Reauth runs before each window. Nil skips it.
	Reauth func(ctx context.Context) error
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Walk calls onChunk with each non-empty window's transactions, newest
// window first, and returns how many transactions it harvested.
//
// A failing window is fatal only while nothing has been harvested; after
// that it is taken to mean the bank ran out of history. An error wrapping
// bank.ErrHistoryBoundary always ends the walk normally. Errors from
// onChunk are always fatal.
func (p *Pager) Walk(ctx context.Context, onChunk func([]model.Transaction) error) (int, error) {
	info := p.Adapter.Info()
	months := info.MaxSpanMonths
	if months <= 0 {
		months = 1
	}
	span := time.Duration(months*windowDays) * 24 * time.Hour

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	total := 0
	end := now().UTC()
	for window := 1; ; window++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		r := model.DateRange{Start: end.Add(-span), End: end}

		txns, skipped, err := p.window(ctx, info, r)
		switch {
		case errors.Is(err, bank.ErrHistoryBoundary):
			logger.Info("history walk stopped: bank reported boundary",
				zap.Int("window", window), zap.Int("transactions", total))
			return total, nil
		case err != nil && total == 0:
			logger.Warn("history walk failed before any data",
				zap.Int("window", window), zap.Error(err))
			return 0, err
		case err != nil:
			logger.Warn("history walk stopped: window failed after data, treating as boundary",
				zap.Int("window", window), zap.Int("transactions", total), zap.Error(err))
			return total, nil
		}
		if skipped > 0 {
			logger.Debug("skipped unparsable rows", zap.Int("window", window), zap.Int("skipped", skipped))
		}
		if len(txns) == 0 {
			logger.Info("history walk stopped: empty window",
				zap.Int("window", window), zap.Int("transactions", total))
			return total, nil
		}

		for i := range txns {
			txns[i].AccountID = p.Account.ID
		}
		if err := onChunk(txns); err != nil {
			return total, fmt.Errorf("reporting window %d: %w", window, err)
		}
		total += len(txns)
		end = r.Start
	}
}

func (p *Pager) window(ctx context.Context, info bank.Info, r model.DateRange) ([]model.Transaction, int, error) {
	if p.Reauth != nil {
		if err := p.Reauth(ctx); err != nil {
			return nil, 0, fmt.Errorf("re-authenticating: %w", err)
		}
	}
	rows, err := p.Adapter.ScrapeRange(ctx, p.Session, p.Account, r)
	if err != nil {
		return nil, 0, fmt.Errorf("scraping %s to %s: %w", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), err)
	}
	res, err := importer.Parse(rows, info.Columns)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing rows: %w", err)
	}
	return res.Transactions, res.Skipped, nil
}
