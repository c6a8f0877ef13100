package bank

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/harvest/internal/importer"
	"github.com/cleared-dev/harvest/internal/model"
)

// ErrUnknownBank is returned when no adapter is registered for a bank id.
var ErrUnknownBank = errors.New("no adapter registered for bank")

// ErrHistoryBoundary may be returned (wrapped) by ScrapeRange when the
// institution reports that no older history exists. It always ends a
// history walk normally, unlike other scrape errors.
var ErrHistoryBoundary = errors.New("history boundary reached")

// Info describes an adapter in the bank catalog.
type Info struct {
	ID    string              `json:"id"`
	Names []string            `json:"names"`
	Kinds []model.AccountKind `json:"kinds"`
	// MaxSpanMonths is the widest date range one ScrapeRange call accepts.
	MaxSpanMonths int `json:"maxSpanMonths"`
	// Columns maps ScrapeRange output to transaction fields.
	Columns importer.ColumnMap `json:"-"`
}

// Session is an open, possibly authenticated, connection to a bank's site.
// Adapters type-assert it back to their own concrete session.
type Session interface {
	// Screenshot captures the current page for diagnostics.
	Screenshot(ctx context.Context) ([]byte, error)
	// State returns durable session state (cookies, local storage) that
	// Open can restore on a later run.
	State(ctx context.Context) ([]byte, error)
	Close() error
}

// Prompt obtains out-of-band MFA input for one bank.
type Prompt interface {
	// Option asks which delivery option to use and returns its index.
	Option(ctx context.Context, options []string) (int, error)
	// Code blocks until a one-time code is supplied. It never returns an
	// empty code without an error.
	Code(ctx context.Context) (string, error)
}

// Adapter drives one institution's site. Implementations own every
// site-specific lookup; the orchestration never branches on bank id.
type Adapter interface {
	Info() Info
	// Open starts a session, restoring state saved by an earlier run. state
	// is nil on the first run.
	Open(ctx context.Context, state []byte) (Session, error)
	// Start navigates to the login or landing page.
	Start(ctx context.Context, s Session) error
	// Dashboard reports whether the session is already authenticated.
	Dashboard(ctx context.Context, s Session) (bool, error)
	// SubmitCredentials logs in. It may do nothing if the site does not
	// currently ask for credentials.
	SubmitCredentials(ctx context.Context, s Session, creds model.BankCredentials) error
	// SubmitMFA completes a second factor, calling p for any input it needs.
	SubmitMFA(ctx context.Context, s Session, p Prompt) error
	// Balance reads the account balance as displayed by the bank.
	Balance(ctx context.Context, s Session, account model.Account) (decimal.Decimal, error)
	// ScrapeRange returns the raw delimited rows for transactions in r.
	ScrapeRange(ctx context.Context, s Session, account model.Account, r model.DateRange) (string, error)
}
