// Package extract runs one account's extraction: log in, read the balance,
// then walk the transaction history, reporting progress as stream chunks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/stream"
)

// SessionStore persists browser state between runs and keeps screenshots
// of failures.
type SessionStore interface {
	Load(accountID string) ([]byte, error)
	Save(accountID string, state []byte) error
	SaveScreenshot(accountID string, png []byte) (string, error)
}

// Coordinator extracts accounts. It holds no per-account state and is safe
// for concurrent use.
type Coordinator struct {
	banks    *bank.Registry
	relay    *mfa.Relay
	sessions SessionStore
	auth     *Authenticator
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSettle sets the wait after each login step.
func WithSettle(d time.Duration) Option {
	return func(c *Coordinator) { c.auth = NewAuthenticator(d, c.logger) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator returns a Coordinator using banks for adapters, relay for
// MFA input and sessions for durable state.
func NewCoordinator(banks *bank.Registry, relay *mfa.Relay, sessions SessionStore, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		banks:    banks,
		relay:    relay,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	c.auth = NewAuthenticator(DefaultSettle, logger)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog lists the registered banks.
func (c *Coordinator) Catalog() []bank.Info {
	return c.banks.Catalog()
}

// Extract runs one account and reports progress to emit. The stream always
// begins with extraction{startedAt} and ends with extraction{finishedAt},
// carrying the error text on failure. The returned error is the same
// failure, for the caller's logs.
func (c *Coordinator) Extract(ctx context.Context, req stream.Request, emit stream.Emitter) error {
	logger := c.logger.With(zap.String("account_id", req.Account.ID), zap.String("bank", req.Account.BankID))

	started := c.now().UTC()
	if err := emit.Emit(stream.Chunk{Extraction: &model.ExtractionPatch{StartedAt: &started}}); err != nil {
		return fmt.Errorf("reporting start: %w", err)
	}
	logger.Info("extraction started")

	found, runErr := c.run(ctx, req, emit, logger)

	finished := c.now().UTC()
	patch := &model.ExtractionPatch{FinishedAt: &finished}
	if runErr != nil {
		msg := runErr.Error()
		patch.Error = &msg
		logger.Error("extraction failed", zap.Int("transactions", found), zap.Error(runErr))
	} else {
		logger.Info("extraction finished", zap.Int("transactions", found), zap.Duration("took", finished.Sub(started)))
	}
	if err := emit.Emit(stream.Chunk{Extraction: patch}); err != nil {
		return errors.Join(runErr, fmt.Errorf("reporting finish: %w", err))
	}
	return runErr
}

func (c *Coordinator) run(ctx context.Context, req stream.Request, emit stream.Emitter, logger *zap.Logger) (int, error) {
	acct := req.Account
	if acct.ID == "" {
		return 0, errors.New("account id is required")
	}
	adapter, err := c.banks.Lookup(acct.BankID)
	if err != nil {
		return 0, err
	}

	state, err := c.sessions.Load(acct.ID)
	if err != nil {
		logger.Warn("ignoring unreadable session state", zap.Error(err))
		state = nil
	}
	sess, err := adapter.Open(ctx, state)
	if err != nil {
		return 0, fmt.Errorf("opening session: %w", err)
	}
	defer c.teardown(ctx, acct.ID, sess, logger)

	found, err := c.harvest(ctx, req, adapter, sess, emit, logger)
	if err != nil {
		c.screenshot(ctx, acct.ID, sess, logger)
		return found, err
	}
	return found, nil
}

// harvest runs the strictly sequential stages on an open session.
func (c *Coordinator) harvest(ctx context.Context, req stream.Request, adapter bank.Adapter, sess bank.Session, emit stream.Emitter, logger *zap.Logger) (int, error) {
	acct := req.Account
	prompt := c.relay.Prompt(acct.BankID, acct.MFAOption, emit)
	login := func(ctx context.Context) error {
		state, err := c.auth.Authenticate(ctx, adapter, sess, req.BankCreds, prompt)
		if err != nil {
			return fmt.Errorf("authenticating (%s): %w", state, err)
		}
		return nil
	}

	if err := adapter.Start(ctx, sess); err != nil {
		return 0, fmt.Errorf("opening start page: %w", err)
	}
	if err := login(ctx); err != nil {
		return 0, err
	}

	amount, err := adapter.Balance(ctx, sess, acct)
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	price := acct.SignedBalance(amount)
	if err := emit.Emit(stream.Chunk{Price: &price}); err != nil {
		return 0, fmt.Errorf("reporting balance: %w", err)
	}
	logger.Info("balance read", zap.String("amount", price.Amount.String()), zap.String("currency", price.Currency))

	pager := &Pager{
		Adapter: adapter,
		Session: sess,
		Account: acct,
		Reauth:  login,
		Now:     c.now,
		Logger:  logger,
	}
	return pager.Walk(ctx, func(txns []model.Transaction) error {
		updated := c.now().UTC()
		return emit.Emit(stream.Chunk{
			Transactions: txns,
			Extraction:   &model.ExtractionPatch{UpdatedAt: &updated},
		})
	})
}

func (c *Coordinator) screenshot(ctx context.Context, accountID string, sess bank.Session, logger *zap.Logger) {
	png, err := sess.Screenshot(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	path, err := c.sessions.SaveScreenshot(accountID, png)
	if err != nil {
		logger.Warn("saving screenshot failed", zap.Error(err))
		return
	}
	logger.Info("saved failure screenshot", zap.String("path", path))
}

// teardown saves durable state and closes the session whatever the
// outcome.
func (c *Coordinator) teardown(ctx context.Context, accountID string, sess bank.Session, logger *zap.Logger) {
	state, err := sess.State(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("reading session state failed", zap.Error(err))
	} else if err := c.sessions.Save(accountID, state); err != nil {
		logger.Warn("saving session state failed", zap.Error(err))
	}
	if err := sess.Close(); err != nil {
		logger.Warn("closing session failed", zap.Error(err))
	}
}
