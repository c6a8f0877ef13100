// Package export writes stored transactions as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cleared-dev/harvest/internal/model"
)

// Header is the CSV header written before the rows.
const Header = "id,account_id,date,post_date,payee,amount,currency,type,description"

const (
	numFields  = 9
	dateFormat = "2006-01-02"
	colID      = 0
	colAcctID  = 1
	colDate    = 2
	colPost    = 3
	colPayee   = 4
	colAmount  = 5
	colCurr    = 6
	colType    = 7
	colDesc    = 8
)

// WriteTransactions writes txns to w, including the header.
func WriteTransactions(w io.Writer, txns []model.Transaction) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, txn := range txns {
		if err := cw.Write(MarshalTransaction(txn)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalTransaction converts a Transaction to a CSV row.
func MarshalTransaction(txn model.Transaction) []string {
	row := make([]string, numFields)
	row[colID] = txn.ID
	row[colAcctID] = txn.AccountID
	row[colDate] = txn.Date.Format(dateFormat)
	row[colPost] = txn.PostDate.Format(dateFormat)
	row[colPayee] = txn.Payee
	row[colAmount] = txn.Amount.StringFixed(2)
	row[colCurr] = txn.Currency
	row[colType] = txn.Type
	row[colDesc] = txn.Description
	return row
}
