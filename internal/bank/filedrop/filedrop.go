// Package filedrop is a bank adapter over statements downloaded by hand.
// CSV exports saved under a per-bank directory stand in for the bank's
// site: the "dashboard" is always present, the balance comes from the
// newest row's running balance, and ranges are filtered by posting date.
package filedrop

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/importer"
	"github.com/cleared-dev/harvest/internal/model"
)

// Config describes one bank's statement directory.
type Config struct {
	ID    string
	Names []string
	Kinds []model.AccountKind
	// Dir holds the bank's *.csv exports. Files in Dir/<account number>
	// take precedence for that account.
	Dir           string
	Columns       importer.ColumnMap
	BalanceColumn int
	MaxSpanMonths int
}

// Chase returns the configuration for Chase checking exports saved under
// importDir/chase.
func Chase(importDir string) Config {
	return Config{
		ID:            "chase",
		Names:         []string{"Chase", "JPMorgan Chase"},
		Kinds:         []model.AccountKind{model.AccountKindChecking, model.AccountKindSavings},
		Dir:           filepath.Join(importDir, "chase"),
		Columns:       importer.Chase(),
		BalanceColumn: 5,
		MaxSpanMonths: 3,
	}
}

// Adapter implements bank.Adapter over a statement directory.
type Adapter struct {
	cfg    Config
	cols   importer.ColumnMap
	logger *zap.Logger
}

var _ bank.Adapter = (*Adapter)(nil)

// New validates cfg and returns an Adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.ID == "" {
		return nil, errors.New("filedrop: bank id is required")
	}
	if err := cfg.Columns.Validate(); err != nil {
		return nil, fmt.Errorf("filedrop %s: %w", cfg.ID, err)
	}
	if cfg.MaxSpanMonths <= 0 {
		cfg.MaxSpanMonths = 3
	}
	// Rows handed to the parser are already stripped of headers.
	cols := cfg.Columns
	cols.HeaderRows = 0
	return &Adapter{cfg: cfg, cols: cols, logger: logger.With(zap.String("bank", cfg.ID))}, nil
}

func (a *Adapter) Info() bank.Info {
	return bank.Info{
		ID:            a.cfg.ID,
		Names:         a.cfg.Names,
		Kinds:         a.cfg.Kinds,
		MaxSpanMonths: a.cfg.MaxSpanMonths,
		Columns:       a.cols,
	}
}

type session struct {
	restored []byte
	files    int
}

func (s *session) Screenshot(context.Context) ([]byte, error) {
	return nil, errors.New("filedrop: nothing to capture")
}

func (s *session) State(context.Context) ([]byte, error) {
	return json.Marshal(map[string]int{"files": s.files})
}

func (s *session) Close() error { return nil }

func (a *Adapter) Open(_ context.Context, state []byte) (bank.Session, error) {
	return &session{restored: state}, nil
}

// Start fails if the statement directory does not exist.
func (a *Adapter) Start(_ context.Context, _ bank.Session) error {
	info, err := os.Stat(a.cfg.Dir)
	if err != nil {
		return fmt.Errorf("statement directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("statement directory %s is not a directory", a.cfg.Dir)
	}
	return nil
}

func (a *Adapter) Dashboard(context.Context, bank.Session) (bool, error) { return true, nil }

func (a *Adapter) SubmitCredentials(context.Context, bank.Session, model.BankCredentials) error {
	return nil
}

func (a *Adapter) SubmitMFA(context.Context, bank.Session, bank.Prompt) error { return nil }

// Balance returns the running balance on the row with the newest posting
// date. Exports list newest first, so the first such row wins ties.
func (a *Adapter) Balance(_ context.Context, s bank.Session, account model.Account) (decimal.Decimal, error) {
	if a.cfg.BalanceColumn < 0 {
		return decimal.Decimal{}, errors.New("filedrop: no balance column configured")
	}
	rows, err := a.rows(s, account)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var (
		found  bool
		newest row
	)
	for _, r := range rows {
		if _, ok := importer.ParseAmount(field(r.rec, a.cfg.BalanceColumn)); !ok {
			continue
		}
		if !found || r.posted.After(newest.posted) {
			newest, found = r, true
		}
	}
	if !found {
		return decimal.Decimal{}, fmt.Errorf("filedrop: no row with a balance in %s", a.dir(account))
	}
	amount, _ := importer.ParseAmount(field(newest.rec, a.cfg.BalanceColumn))
	return amount, nil
}

// ScrapeRange renders the rows posted within r back to delimited text.
func (a *Adapter) ScrapeRange(_ context.Context, s bank.Session, account model.Account, r model.DateRange) (string, error) {
	rows, err := a.rows(s, account)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = a.comma()
	n := 0
	for _, row := range rows {
		if !r.Contains(row.posted) {
			continue
		}
		if err := w.Write(row.rec); err != nil {
			return "", fmt.Errorf("rendering rows: %w", err)
		}
		n++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("rendering rows: %w", err)
	}
	a.logger.Debug("scraped range",
		zap.String("account_id", account.ID),
		zap.Time("start", r.Start), zap.Time("end", r.End), zap.Int("rows", n))
	return buf.String(), nil
}

type row struct {
	rec    []string
	posted time.Time
}

func (a *Adapter) dir(account model.Account) string {
	if account.Number != "" {
		sub := filepath.Join(a.cfg.Dir, account.Number)
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			return sub
		}
	}
	return a.cfg.Dir
}

func (a *Adapter) comma() rune {
	if a.cols.Comma != 0 {
		return a.cols.Comma
	}
	return ','
}

// rows reads every export in the account's directory, dropping header
// rows and rows without a parsable posting date.
func (a *Adapter) rows(s bank.Session, account model.Account) ([]row, error) {
	dir := a.dir(account)
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	if sess, ok := s.(*session); ok {
		sess.files = len(files)
	}

	var rows []row
	for _, path := range files {
		recs, err := a.readFile(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			posted, ok := importer.ParseDate(field(rec, a.cols.PostDate), a.cols.DateLayouts)
			if !ok {
				posted, ok = importer.ParseDate(field(rec, a.cols.Date), a.cols.DateLayouts)
			}
			if !ok {
				continue
			}
			rows = append(rows, row{rec: rec, posted: posted})
		}
	}
	return rows, nil
}

func (a *Adapter) readFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.Comma = a.comma()

	var recs [][]string
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			a.logger.Warn("skipping malformed line", zap.String("file", path), zap.Error(err))
			continue
		}
		if i < a.cfg.Columns.HeaderRows {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
