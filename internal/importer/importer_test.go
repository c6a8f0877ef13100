package importer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readChase(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/chase_checking.csv")
	require.NoError(t, err)
	return string(data)
}

func TestParse_Chase(t *testing.T) {
	res, err := Parse(readChase(t), Chase())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 6)
	assert.Zero(t, res.Skipped)

	first := res.Transactions[0]
	assert.Equal(t, "GITHUB *PRO SUBSCRIPTION", first.Payee)
	assert.Equal(t, "-4.00", first.Amount.StringFixed(2))
	assert.Equal(t, "ACH_DEBIT", first.Type)
	assert.Equal(t, "DEBIT", first.Description)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, 2025, first.Date.Year())
	assert.Equal(t, 3, first.Date.Day())
	assert.Equal(t, first.Date, first.PostDate, "post date falls back to date")

	income := res.Transactions[3]
	assert.True(t, income.Amount.IsPositive())
	assert.Equal(t, "3500.00", income.Amount.StringFixed(2))
}

func TestParse_SkipsBadRows(t *testing.T) {
	text := "Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n" +
		"DEBIT,NOTADATE,desc,-4.00,ACH_DEBIT,100.00,\n" +
		"DEBIT,01/03/2025,desc,NOTANUMBER,ACH_DEBIT,100.00,\n" +
		"DEBIT,01/04/2025,ok,-1.50,ACH_DEBIT,98.50,\n" +
		"DEBIT\n"
	res, err := Parse(text, Chase())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, "ok", res.Transactions[0].Payee)
}

func TestParse_NoAmountsAreNaNOrZeroDates(t *testing.T) {
	res, err := Parse(readChase(t)+"DEBIT,,x,,,,\n", Chase())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	for _, txn := range res.Transactions {
		assert.False(t, txn.Date.IsZero())
		assert.False(t, txn.PostDate.IsZero())
	}
}

func TestParse_SplitColumns(t *testing.T) {
	text := "Date,Description,Withdrawals,Deposits,Balance\n" +
		"2025-02-01,Rent,\"1,200.00\",,800.00\n" +
		"2025-02-02,Paycheck,,$2000.00,2800.00\n" +
		"2025-02-03,Nothing,,,2800.00\n"
	res, err := Parse(text, SplitColumns())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "-1200.00", res.Transactions[0].Amount.StringFixed(2))
	assert.Equal(t, "2000.00", res.Transactions[1].Amount.StringFixed(2))
}

func TestParse_SeparatePostDate(t *testing.T) {
	text := "Transaction Date,Post Date,Description,Category,Type,Amount,Memo\n" +
		"01/30/2025,02/01/2025,COFFEE,Food & Drink,Sale,-5.25,\n"
	res, err := Parse(text, ChaseCard())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	txn := res.Transactions[0]
	assert.Equal(t, 30, txn.Date.Day())
	assert.Equal(t, 1, txn.PostDate.Day())
	assert.Equal(t, "Food & Drink", txn.Type)
}

func TestParse_TabDelimited(t *testing.T) {
	cols := EmptyColumns()
	cols.Date = 0
	cols.Payee = 1
	cols.Price = 2
	cols.Comma = '\t'
	res, err := Parse("2025-03-01\tShop\t-3.00\n", cols)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "Shop", res.Transactions[0].Payee)
}

func TestParse_Empty(t *testing.T) {
	res, err := Parse("Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n", Chase())
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Zero(t, res.Skipped)
}

func TestParse_InvalidColumnMap(t *testing.T) {
	_, err := Parse("x", EmptyColumns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date column is required")

	cols := EmptyColumns()
	cols.Date = 0
	_, err = Parse("x", cols)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"-4.00", "-4.00", true},
		{"$1,234.56", "1234.56", true},
		{"(12.00)", "-12.00", true},
		{" 7 ", "7.00", true},
		{"", "", false},
		{"abc", "", false},
		{"NaN", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseAmount(%q)", tt.in)
		if ok {
			assert.Equal(t, tt.want, got.StringFixed(2), "ParseAmount(%q)", tt.in)
		}
	}
}
