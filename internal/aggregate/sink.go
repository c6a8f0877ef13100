package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

// Store is the persistence a Sink writes to. *store.Store implements it.
type Store interface {
	Now() time.Time
	GetExtraction(ctx context.Context, extractionID string) (model.Extraction, error)
	UpdateExtraction(ctx context.Context, extractionID string, patch model.ExtractionPatch) error
	AddCounts(ctx context.Context, extractionID string, found, added int) error
	AbortUnfinished(ctx context.Context, reason string) (int, error)
	UpdateBalance(ctx context.Context, accountID string, balance model.Price) error
	InsertTransaction(ctx context.Context, accountID string, txn model.Transaction) (bool, error)
	RegisterChallenge(ctx context.Context, bankID string, options []string) error
	UpdateChallenge(ctx context.Context, bankID string, u model.MFAUpdate) error
	DeleteChallenge(ctx context.Context, bankID string) error
}

var _ Store = (*store.Store)(nil)

// Sink applies one extraction stream to the store.
type Sink struct {
	store        Store
	extractionID string
	account      model.Account
	logger       *zap.Logger
}

// NewSink returns a Sink recording into the lifecycle record extractionID
// for account.
func NewSink(s Store, extractionID string, account model.Account, logger *zap.Logger) *Sink {
	return &Sink{
		store:        s,
		extractionID: extractionID,
		account:      account,
		logger: logger.With(
			zap.String("extraction_id", extractionID),
			zap.String("account_id", account.ID),
			zap.String("bank", account.BankID)),
	}
}

// Consume applies every chunk from dec. A clean end of stream finishes the
// record. A broken stream marks every unfinished record, not just this
// one, finished with model.AbortedError, since a dead extraction process
// cannot finish any of them. Store failures on single chunks are logged
// and returned once the stream ends.
//
// Writes outlive ctx: once the caller gives up, the remaining chunks are
// still persisted and a failure that finishes the record is recorded as
// model.AbortedError.
func (s *Sink) Consume(ctx context.Context, dec stream.Decoder) error {
	persist := context.WithoutCancel(ctx)
	var applyErrs []error
	for {
		c, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("extraction stream broke", zap.Error(err))
			n, aerr := s.store.AbortUnfinished(persist, model.AbortedError)
			if aerr != nil {
				s.logger.Error("aborting unfinished extractions failed", zap.Error(aerr))
			}
			s.logger.Warn("aborted unfinished extractions", zap.Int("count", n))
			return errors.Join(append(applyErrs, fmt.Errorf("reading extraction stream: %w", err), aerr)...)
		}
		if ctx.Err() != nil {
			c = abortedFinish(c)
		}
		if err := s.Apply(persist, c); err != nil {
			s.logger.Error("applying chunk failed", zap.Error(err))
			applyErrs = append(applyErrs, err)
		}
	}

	if err := s.complete(persist, ctx.Err() != nil); err != nil {
		applyErrs = append(applyErrs, err)
	}
	return errors.Join(applyErrs...)
}

// abortedFinish rewrites a failing finish patch to model.AbortedError.
func abortedFinish(c stream.Chunk) stream.Chunk {
	if c.Extraction == nil || c.Extraction.FinishedAt == nil || c.Extraction.Error == nil {
		return c
	}
	patch := *c.Extraction
	msg := model.AbortedError
	patch.Error = &msg
	c.Extraction = &patch
	return c
}

// complete sets finishedAt unless the stream already did. A record the
// caller abandoned is finished with model.AbortedError.
func (s *Sink) complete(ctx context.Context, abandoned bool) error {
	e, err := s.store.GetExtraction(ctx, s.extractionID)
	if err != nil {
		return err
	}
	if e.Finished() {
		return nil
	}
	now := s.store.Now()
	patch := model.ExtractionPatch{FinishedAt: &now}
	if abandoned {
		msg := model.AbortedError
		patch.Error = &msg
	}
	return s.store.UpdateExtraction(ctx, s.extractionID, patch)
}

// Apply persists one chunk. Transactions and MFA markers are handled
// before the lifecycle patch so a chunk that also finishes the record is
// counted first.
func (s *Sink) Apply(ctx context.Context, c stream.Chunk) error {
	var errs []error
	if c.Price != nil {
		errs = append(errs, s.price(ctx, *c.Price))
	}
	if len(c.Transactions) > 0 {
		errs = append(errs, s.transactions(ctx, c.Transactions))
	}
	if len(c.MFAOptions) > 0 {
		errs = append(errs, s.store.RegisterChallenge(ctx, s.account.BankID, c.MFAOptions))
	}
	if c.NeedMFACode {
		errs = append(errs, s.store.RegisterChallenge(ctx, s.account.BankID, nil))
	}
	if c.MFAUpdate != nil {
		err := s.store.UpdateChallenge(ctx, s.account.BankID, *c.MFAUpdate)
		if !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if c.MFAFinish {
		errs = append(errs, s.store.DeleteChallenge(ctx, s.account.BankID))
	}
	if c.Extraction != nil {
		errs = append(errs, s.store.UpdateExtraction(ctx, s.extractionID, *c.Extraction))
	}
	return errors.Join(errs...)
}

func (s *Sink) price(ctx context.Context, p model.Price) error {
	if err := s.store.UpdateBalance(ctx, s.account.ID, p); err != nil {
		return err
	}
	now := s.store.Now()
	return s.store.UpdateExtraction(ctx, s.extractionID, model.ExtractionPatch{UpdatedAt: &now})
}

func (s *Sink) transactions(ctx context.Context, txns []model.Transaction) error {
	found, added := 0, 0
	var insertErr error
	for _, txn := range txns {
		ok, err := s.store.InsertTransaction(ctx, s.account.ID, txn)
		if err != nil {
			insertErr = err
			break
		}
		found++
		if ok {
			added++
		}
	}
	s.logger.Debug("stored transactions", zap.Int("found", found), zap.Int("added", added))
	// Rows stored before a failure still count.
	return errors.Join(insertErr, s.store.AddCounts(ctx, s.extractionID, found, added))
}
