// Package banktest provides a scripted in-memory adapter for tests.
package banktest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/importer"
	"github.com/cleared-dev/harvest/internal/model"
)

// Page is one scripted ScrapeRange result.
type Page struct {
	Rows string
	Err  error
}

// Fake is a bank.Adapter whose every answer is scripted. Rows use the
// layout "2006-01-02,payee,amount" (see Columns).
type Fake struct {
	ID         string
	SpanMonths int

	// Dashboards answers successive Dashboard calls; the last value repeats.
	Dashboards    []bool
	BalanceAmount decimal.Decimal
	Pages         []Page
	// MFA makes SubmitMFA ask the prompt for a code.
	MFA bool
	// MFAOptions makes SubmitMFA ask for a delivery option first.
	MFAOptions []string
	// Fail maps a step name (open, start, dashboard, credentials, mfa,
	// balance) to the error it returns.
	Fail map[string]error

	mu        sync.Mutex
	calls     []string
	ranges    []model.DateRange
	codes     []string
	options   []int
	dashboard int
	page      int
	sessions  []*Session
}

var _ bank.Adapter = (*Fake)(nil)

// Columns is the column map matching Fake rows.
func Columns() importer.ColumnMap {
	m := importer.EmptyColumns()
	m.Date = 0
	m.Payee = 1
	m.Price = 2
	m.DateLayouts = []string{"2006-01-02"}
	return m
}

// Rows renders "date,payee,amount" triples into Fake page text.
func Rows(triples ...string) string {
	var b strings.Builder
	for i := 0; i+2 < len(triples); i += 3 {
		fmt.Fprintf(&b, "%s,%s,%s\n", triples[i], triples[i+1], triples[i+2])
	}
	return b.String()
}

func (f *Fake) Info() bank.Info {
	span := f.SpanMonths
	if span == 0 {
		span = 1
	}
	return bank.Info{
		ID:            f.ID,
		Names:         []string{strings.ToUpper(f.ID)},
		Kinds:         []model.AccountKind{model.AccountKindChecking},
		MaxSpanMonths: span,
		Columns:       Columns(),
	}
}

func (f *Fake) record(step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
	return f.Fail[step]
}

// Record appends an externally observed event to the call log, so tests
// can interleave their own markers with adapter steps.
func (f *Fake) Record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, event)
}

func (f *Fake) Open(_ context.Context, state []byte) (bank.Session, error) {
	if err := f.record("open"); err != nil {
		return nil, err
	}
	s := &Session{Restored: state}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) Start(_ context.Context, _ bank.Session) error {
	return f.record("start")
}

func (f *Fake) Dashboard(_ context.Context, _ bank.Session) (bool, error) {
	if err := f.record("dashboard"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Dashboards) == 0 {
		return false, nil
	}
	i := f.dashboard
	if i >= len(f.Dashboards) {
		i = len(f.Dashboards) - 1
	}
	f.dashboard++
	return f.Dashboards[i], nil
}

func (f *Fake) SubmitCredentials(_ context.Context, _ bank.Session, _ model.BankCredentials) error {
	return f.record("credentials")
}

func (f *Fake) SubmitMFA(ctx context.Context, _ bank.Session, p bank.Prompt) error {
	if err := f.record("mfa"); err != nil {
		return err
	}
	if len(f.MFAOptions) > 0 {
		opt, err := p.Option(ctx, f.MFAOptions)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.options = append(f.options, opt)
		f.mu.Unlock()
	}
	if !f.MFA {
		return nil
	}
	code, err := p.Code(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.calls = append(f.calls, "code:"+code)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Balance(_ context.Context, _ bank.Session, _ model.Account) (decimal.Decimal, error) {
	if err := f.record("balance"); err != nil {
		return decimal.Decimal{}, err
	}
	return f.BalanceAmount, nil
}

func (f *Fake) ScrapeRange(_ context.Context, _ bank.Session, _ model.Account, r model.DateRange) (string, error) {
	_ = f.record("scrape")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, r)
	if f.page >= len(f.Pages) {
		return "", nil
	}
	p := f.Pages[f.page]
	f.page++
	return p.Rows, p.Err
}

// Calls returns the step log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Ranges returns every range passed to ScrapeRange.
func (f *Fake) Ranges() []model.DateRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DateRange(nil), f.ranges...)
}

// Codes returns every MFA code the adapter received.
func (f *Fake) Codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codes...)
}

// Options returns every MFA option index the adapter received.
func (f *Fake) Options() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.options...)
}

// Sessions returns every session opened so far.
func (f *Fake) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Session is the Fake's session.
type Session struct {
	Restored []byte

	mu     sync.Mutex
	closed bool
}

func (s *Session) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (s *Session) State(context.Context) ([]byte, error) {
	return []byte(`{"cookies":["session=1"]}`), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
