// Package mfa relays multi-factor prompts from a blocking login step to an
// out-of-band party (a person at the CLI or an upstream caller) through a
// shared challenge store.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

// ErrTimeout is returned when nobody answers a challenge before the poll
// ceiling.
var ErrTimeout = errors.New("mfa: timed out waiting for input")

const (
	DefaultInterval = time.Second
	DefaultMaxPolls = 240
)

// ChallengeStore holds at most one challenge per bank. GetChallenge returns
// an error wrapping store.ErrNotFound when none exists.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, ch model.MFAChallenge) error
	GetChallenge(ctx context.Context, bankID string) (model.MFAChallenge, error)
	DeleteChallenge(ctx context.Context, bankID string) error
}

var (
	_ ChallengeStore = (*store.Store)(nil)
	_ ChallengeStore = (*Client)(nil)
)

// Relay registers challenges and polls for the answer.
type Relay struct {
	store    ChallengeStore
	interval time.Duration
	maxPolls int
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval sets the wait between polls.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithMaxPolls sets how many polls happen before ErrTimeout.
func WithMaxPolls(n int) Option {
	return func(r *Relay) { r.maxPolls = n }
}

// NewRelay returns a Relay polling s once a second for four minutes.
func NewRelay(s ChallengeStore, logger *zap.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:    s,
		interval: DefaultInterval,
		maxPolls: DefaultMaxPolls,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.maxPolls <= 0 {
		r.maxPolls = DefaultMaxPolls
	}
	return r
}

// RequestCode registers a code challenge for bankID, replacing any
// outstanding one, and blocks until a non-empty code is supplied. The
// challenge is deleted on success and on timeout.
func (r *Relay) RequestCode(ctx context.Context, bankID string, emit stream.Emitter) (string, error) {
	emit = orDiscard(emit)
	if err := r.store.PutChallenge(ctx, model.MFAChallenge{BankID: bankID, RequestedAt: r.now().UTC()}); err != nil {
		return "", fmt.Errorf("registering code challenge: %w", err)
	}
	if err := emit.Emit(stream.Chunk{NeedMFACode: true}); err != nil {
		r.logger.Warn("emit needMfaCode failed", zap.String("bank", bankID), zap.Error(err))
	}
	r.logger.Info("waiting for mfa code", zap.String("bank", bankID))

	var code string
	err := r.poll(ctx, bankID, func(ch model.MFAChallenge) bool {
		code = ch.Code
		return code != ""
	})
	r.finish(ctx, bankID, emit)
	if err != nil {
		return "", err
	}
	r.logger.Info("mfa code received", zap.String("bank", bankID))
	return code, nil
}

// RequestOption registers an option challenge listing options and blocks
// until a valid index is chosen. Cleanup matches RequestCode.
func (r *Relay) RequestOption(ctx context.Context, bankID string, options []string, emit stream.Emitter) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("mfa: no options to choose from")
	}
	emit = orDiscard(emit)
	ch := model.MFAChallenge{BankID: bankID, Options: options, RequestedAt: r.now().UTC()}
	if err := r.store.PutChallenge(ctx, ch); err != nil {
		return 0, fmt.Errorf("registering option challenge: %w", err)
	}
	if err := emit.Emit(stream.Chunk{MFAOptions: options}); err != nil {
		r.logger.Warn("emit mfaOptions failed", zap.String("bank", bankID), zap.Error(err))
	}
	r.logger.Info("waiting for mfa option", zap.String("bank", bankID), zap.Strings("options", options))

	var option int
	err := r.poll(ctx, bankID, func(ch model.MFAChallenge) bool {
		if ch.Option == nil || *ch.Option < 0 || *ch.Option >= len(options) {
			return false
		}
		option = *ch.Option
		return true
	})
	r.finish(ctx, bankID, emit)
	if err != nil {
		return 0, err
	}
	r.logger.Info("mfa option chosen", zap.String("bank", bankID), zap.String("option", options[option]))
	return option, nil
}

// poll waits one interval before each read, up to maxPolls reads, until
// answered reports true.
func (r *Relay) poll(ctx context.Context, bankID string, answered func(model.MFAChallenge) bool) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for i := 1; i <= r.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		ch, err := r.store.GetChallenge(ctx, bankID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			r.logger.Warn("mfa poll failed", zap.String("bank", bankID), zap.Int("poll", i), zap.Error(err))
			continue
		}
		if answered(ch) {
			return nil
		}
	}
	r.logger.Warn("mfa challenge timed out", zap.String("bank", bankID), zap.Int("polls", r.maxPolls))
	return fmt.Errorf("%w after %s", ErrTimeout, time.Duration(r.maxPolls)*r.interval)
}

func (r *Relay) finish(ctx context.Context, bankID string, emit stream.Emitter) {
	if err := r.store.DeleteChallenge(context.WithoutCancel(ctx), bankID); err != nil {
		r.logger.Warn("deleting mfa challenge failed", zap.String("bank", bankID), zap.Error(err))
	}
	if err := emit.Emit(stream.Chunk{MFAFinish: true}); err != nil {
		r.logger.Warn("emit mfaFinish failed", zap.String("bank", bankID), zap.Error(err))
	}
}

func orDiscard(e stream.Emitter) stream.Emitter {
	if e == nil {
		return stream.Discard
	}
	return e
}

// Prompt binds the relay to one account's bank and stream. A preferred
// option matching one of the offered options is chosen without asking.
func (r *Relay) Prompt(bankID, preferred string, emit stream.Emitter) bank.Prompt {
	return &prompt{relay: r, bankID: bankID, preferred: preferred, emit: emit}
}

type prompt struct {
	relay     *Relay
	bankID    string
	preferred string
	emit      stream.Emitter
}

func (p *prompt) Option(ctx context.Context, options []string) (int, error) {
	if p.preferred != "" {
		for i, o := range options {
			if strings.EqualFold(o, p.preferred) {
				return i, nil
			}
		}
	}
	return p.relay.RequestOption(ctx, p.bankID, options, p.emit)
}

func (p *prompt) Code(ctx context.Context) (string, error) {
	return p.relay.RequestCode(ctx, p.bankID, p.emit)
}
