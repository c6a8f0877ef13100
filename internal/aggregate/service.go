// Package aggregate is the receiving side of extraction: it queues
// accounts, fans them out to an extraction process with bounded
// concurrency and persists the resulting streams.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

// DefaultConcurrency is how many accounts extract at once.
const DefaultConcurrency = 2

var (
	// ErrAlreadyRunning is returned when an account already has an
	// unfinished extraction.
	ErrAlreadyRunning = errors.New("extraction already in progress")
	// ErrShutdown is returned by Enqueue after Shutdown.
	ErrShutdown = errors.New("service is shutting down")
)

// Report is the outcome of a Run.
type Report struct {
	Extractions []model.Extraction
}

// Failed counts extractions that finished with an error.
func (r Report) Failed() int {
	n := 0
	for _, e := range r.Extractions {
		if e.Error != "" {
			n++
		}
	}
	return n
}

// CredentialsFunc returns the login for a bank id.
type CredentialsFunc func(bankID string) (model.BankCredentials, bool)

// Service schedules extractions. Failures of one account never cancel
// another: every queued account runs to completion and is reported.
type Service struct {
	store     *store.Store
	transport Transport
	creds     CredentialsFunc
	limit     int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	dispatch sync.WaitGroup
	group    *errgroup.Group
}

// NewService returns a Service. A nil creds sends empty logins.
func NewService(s *store.Store, t Transport, creds CredentialsFunc, concurrency int, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if creds == nil {
		creds = func(string) (model.BankCredentials, bool) { return model.BankCredentials{}, false }
	}
	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     s,
		transport: t,
		creds:     creds,
		limit:     concurrency,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		group:     group,
	}
}

// Catalog lists the banks the extraction process supports.
func (s *Service) Catalog(ctx context.Context) ([]bank.Info, error) {
	return s.transport.Catalog(ctx)
}

type job struct {
	extraction model.Extraction
	account    model.Account
}

// Enqueue queues accounts and returns their new lifecycle records without
// waiting for the extractions.
func (s *Service) Enqueue(ctx context.Context, accountIDs []string) ([]model.Extraction, error) {
	// Held until dispatch is counted, so Shutdown either refuses this call or
	// sees its records and waits for them.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}

	jobs, err := s.prepare(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		for _, j := range jobs {
			s.group.Go(func() error {
				_, _ = s.extract(s.ctx, j)
				return nil
			})
		}
	}()
	return extractions(jobs), nil
}

// Wait blocks until every enqueued extraction has finished.
func (s *Service) Wait() {
	s.dispatch.Wait()
	_ = s.group.Wait()
}

// Run extracts accounts and waits for all of them, however many fail.
func (s *Service) Run(ctx context.Context, accountIDs []string) (Report, error) {
	jobs, err := s.prepare(ctx, accountIDs)
	if err != nil {
		return Report{}, err
	}

	report := Report{Extractions: make([]model.Extraction, len(jobs))}
	errs := make([]error, len(jobs))
	g := &errgroup.Group{}
	g.SetLimit(s.limit)
	for i, j := range jobs {
		g.Go(func() error {
			e, _ := s.extract(ctx, j)
			if e.ID == "" {
				e, errs[i] = s.store.GetExtraction(context.WithoutCancel(ctx), j.extraction.ID)
			}
			report.Extractions[i] = e
			return nil
		})
	}
	_ = g.Wait()
	return report, errors.Join(errs...)
}

// Shutdown refuses new work, marks every unfinished record aborted and
// lets in-flight extractions run until ctx expires. Only then are their
// streams cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	n, err := s.store.AbortUnfinished(context.WithoutCancel(ctx), model.AbortedError)
	if err != nil {
		return fmt.Errorf("aborting unfinished extractions: %w", err)
	}
	s.logger.Info("shutting down extraction service", zap.Int("aborted", n))

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.logger.Warn("grace period over, cancelling running extractions")
		s.cancel()
		return ctx.Err()
	}
}

// prepare validates every account before creating any record, so a bad id
// queues nothing.
func (s *Service) prepare(ctx context.Context, accountIDs []string) ([]job, error) {
	if len(accountIDs) == 0 {
		return nil, errors.New("no accounts given")
	}
	catalog, err := s.transport.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading bank catalog: %w", err)
	}
	unfinished, err := s.store.ListExtractions(ctx, true)
	if err != nil {
		return nil, err
	}
	running := make(map[string]bool, len(unfinished))
	for _, e := range unfinished {
		running[e.AccountID] = true
	}

	accounts := make([]model.Account, 0, len(accountIDs))
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		acct, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !bank.Supports(catalog, acct.BankID) {
			return nil, fmt.Errorf("account %s: %w: %q", id, bank.ErrUnknownBank, acct.BankID)
		}
		if running[id] {
			return nil, fmt.Errorf("account %s: %w", id, ErrAlreadyRunning)
		}
		accounts = append(accounts, acct)
	}

	jobs := make([]job, 0, len(accounts))
	for _, acct := range accounts {
		e, err := s.store.CreateExtraction(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job{extraction: e, account: acct})
	}
	return jobs, nil
}

// extract runs one job to completion, recording any failure on its record,
// and returns the final record. The zero Extraction means it could not be
// read back.
func (s *Service) extract(ctx context.Context, j job) (model.Extraction, error) {
	logger := s.logger.With(zap.String("extraction_id", j.extraction.ID), zap.String("account_id", j.account.ID))
	creds, _ := s.creds(j.account.BankID)
	req := stream.Request{Account: j.account, BankCreds: creds}

	dec, closer, err := s.transport.Extract(ctx, req)
	if err != nil {
		logger.Error("could not start extraction", zap.Error(err))
		now := s.store.Now()
		msg := err.Error()
		if uerr := s.store.UpdateExtraction(context.WithoutCancel(ctx), j.extraction.ID,
			model.ExtractionPatch{FinishedAt: &now, Error: &msg}); uerr != nil {
			logger.Error("recording start failure failed", zap.Error(uerr))
		}
		e, _ := s.settle(ctx, j.extraction.ID, logger)
		return e, err
	}

	err = NewSink(s.store, j.extraction.ID, j.account, s.logger).Consume(ctx, dec)
	_ = closer.Close()
	e, serr := s.settle(ctx, j.extraction.ID, logger)
	return e, errors.Join(err, serr)
}

// settle returns the final record, finishing it with model.AbortedError if
// the stream left it open. A record never stays in progress once its run
// is over.
func (s *Service) settle(ctx context.Context, extractionID string, logger *zap.Logger) (model.Extraction, error) {
	persist := context.WithoutCancel(ctx)
	e, err := s.store.GetExtraction(persist, extractionID)
	if err != nil {
		return model.Extraction{}, err
	}
	if e.Finished() {
		return e, nil
	}
	now := s.store.Now()
	msg := model.AbortedError
	patch := model.ExtractionPatch{FinishedAt: &now, Error: &msg}
	if err := s.store.UpdateExtraction(persist, extractionID, patch); err != nil {
		return model.Extraction{}, err
	}
	patch.Apply(&e)
	logger.Warn("extraction left unfinished, marked aborted")
	return e, nil
}

func extractions(jobs []job) []model.Extraction {
	out := make([]model.Extraction, len(jobs))
	for i, j := range jobs {
		out[i] = j.extraction
	}
	return out
}
