package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/harvest/internal/model"
)

// NoColumn marks a logical field the export does not carry.
const NoColumn = -1

// ColumnMap maps logical transaction fields to column indices in an
// institution's delimited export. Either Price or the
// PriceWithdrawal/PriceDeposit pair is expected to be set.
type ColumnMap struct {
	Date            int `yaml:"date"`
	PostDate        int `yaml:"post_date"`
	Payee           int `yaml:"payee"`
	Price           int `yaml:"price"`
	PriceWithdrawal int `yaml:"price_withdrawal"`
	PriceDeposit    int `yaml:"price_deposit"`
	Type            int `yaml:"type"`
	Description     int `yaml:"description"`

	// DateLayouts are tried in order. Defaults to DefaultDateLayouts.
	DateLayouts []string `yaml:"date_layouts,omitempty"`
	// Comma is the field delimiter. Defaults to ','.
	Comma rune `yaml:"comma,omitempty"`
	// HeaderRows is the number of leading rows to ignore.
	HeaderRows int `yaml:"header_rows"`
}

// DefaultDateLayouts covers the formats seen in US bank exports.
var DefaultDateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02", "01/02/06", "Jan 2, 2006"}

// EmptyColumns returns a ColumnMap with every field unset.
func EmptyColumns() ColumnMap {
	return ColumnMap{
		Date:            NoColumn,
		PostDate:        NoColumn,
		Payee:           NoColumn,
		Price:           NoColumn,
		PriceWithdrawal: NoColumn,
		PriceDeposit:    NoColumn,
		Type:            NoColumn,
		Description:     NoColumn,
	}
}

// Validate checks that the map can produce transactions at all.
func (m ColumnMap) Validate() error {
	if m.Date < 0 {
		return errors.New("column map: date column is required")
	}
	if m.Price < 0 && m.PriceWithdrawal < 0 && m.PriceDeposit < 0 {
		return errors.New("column map: one of price, price_withdrawal or price_deposit is required")
	}
	return nil
}

// Result is the outcome of parsing one page of rows.
type Result struct {
	Transactions []model.Transaction
	// Skipped counts rows dropped for an unparsable date or amount.
	Skipped int
}

// Parse converts raw delimited text into transaction drafts. Rows with an
// unparsable date or no parsable amount are skipped and counted, never
// failed. Only a malformed column map returns an error.
func Parse(text string, cols ColumnMap) (Result, error) {
	if err := cols.Validate(); err != nil {
		return Result{}, err
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if cols.Comma != 0 {
		cr.Comma = cols.Comma
	}

	var res Result
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("reading rows: %w", err)
		}
		if row < cols.HeaderRows || blank(rec) {
			continue
		}

		txn, ok := parseRow(rec, cols)
		if !ok {
			res.Skipped++
			continue
		}
		res.Transactions = append(res.Transactions, txn)
	}
	return res, nil
}

func parseRow(rec []string, cols ColumnMap) (model.Transaction, bool) {
	date, ok := ParseDate(field(rec, cols.Date), cols.DateLayouts)
	if !ok {
		return model.Transaction{}, false
	}

	postDate := date
	if d, ok := ParseDate(field(rec, cols.PostDate), cols.DateLayouts); ok {
		postDate = d
	}

	amount, ok := rowAmount(rec, cols)
	if !ok {
		return model.Transaction{}, false
	}

	return model.Transaction{
		Date:        date,
		PostDate:    postDate,
		Payee:       field(rec, cols.Payee),
		Amount:      amount,
		Currency:    model.DefaultCurrency,
		Type:        field(rec, cols.Type),
		Description: field(rec, cols.Description),
	}, true
}

// rowAmount resolves the signed amount: a single price column wins,
// otherwise a withdrawal (negated) or a deposit (kept as is).
func rowAmount(rec []string, cols ColumnMap) (decimal.Decimal, bool) {
	if v, ok := ParseAmount(field(rec, cols.Price)); ok {
		return v, true
	}
	if v, ok := ParseAmount(field(rec, cols.PriceWithdrawal)); ok {
		return v.Neg(), true
	}
	if v, ok := ParseAmount(field(rec, cols.PriceDeposit)); ok {
		return v, true
	}
	return decimal.Decimal{}, false
}

// ParseDate tries each layout in turn. Empty input never parses.
func ParseDate(s string, layouts []string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseAmount parses money text such as "-4.00", "$1,234.56" or "(12.00)".
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, s)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		v = v.Neg()
	}
	return v, true
}

func field(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
