package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/model"
)

// DefaultSettle is the wait after a login step before probing the page.
const DefaultSettle = 3 * time.Second

// AuthState is a login progress state.
type AuthState int

const (
	Unauthenticated AuthState = iota
	CredentialsSubmitted
	MFAPending
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case CredentialsSubmitted:
		return "credentials_submitted"
	case MFAPending:
		return "mfa_pending"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// errEmptyCode is returned to an adapter that would otherwise submit an
// empty one-time code.
var errEmptyCode = errors.New("mfa: empty code")

// Authenticator drives an adapter through credentials and MFA until the
// dashboard shows or the MFA step completes.
type Authenticator struct {
	settle time.Duration
	logger *zap.Logger
}

// NewAuthenticator returns an Authenticator that waits settle after each
// login step.
func NewAuthenticator(settle time.Duration, logger *zap.Logger) *Authenticator {
	if settle < 0 {
		settle = 0
	}
	return &Authenticator{settle: settle, logger: logger}
}

// Authenticate logs the session in. It returns the state reached, which is
// Authenticated on success. Adapter failures are returned as is, wrapped
// with the failing step.
func (a *Authenticator) Authenticate(ctx context.Context, adapter bank.Adapter, s bank.Session, creds model.BankCredentials, prompt bank.Prompt) (AuthState, error) {
	state := Unauthenticated

	ok, err := adapter.Dashboard(ctx, s)
	if err != nil {
		return state, fmt.Errorf("probing dashboard: %w", err)
	}
	if ok {
		a.logger.Debug("dashboard present, already logged in")
		return Authenticated, nil
	}

	if err := adapter.SubmitCredentials(ctx, s, creds); err != nil {
		return state, fmt.Errorf("submitting credentials: %w", err)
	}
	state = CredentialsSubmitted
	if err := sleep(ctx, a.settle); err != nil {
		return state, err
	}

	ok, err = adapter.Dashboard(ctx, s)
	if err != nil {
		return state, fmt.Errorf("probing dashboard: %w", err)
	}
	if ok {
		a.logger.Info("logged in with credentials")
		return Authenticated, nil
	}

	state = MFAPending
	a.logger.Info("second factor required")
	if err := adapter.SubmitMFA(ctx, s, nonEmptyCode{prompt}); err != nil {
		return state, fmt.Errorf("submitting mfa: %w", err)
	}
	if err := sleep(ctx, a.settle); err != nil {
		return state, err
	}

	a.logger.Info("logged in with second factor")
	return Authenticated, nil
}

type nonEmptyCode struct {
	bank.Prompt
}

func (p nonEmptyCode) Code(ctx context.Context) (string, error) {
	code, err := p.Prompt.Code(ctx)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", errEmptyCode
	}
	return code, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
