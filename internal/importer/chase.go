package importer

// Chase is the column map for Chase checking CSV exports:
//
//	Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #
func Chase() ColumnMap {
	m := EmptyColumns()
	m.Date = 1
	m.Payee = 2
	m.Price = 3
	m.Type = 4
	m.Description = 0
	m.DateLayouts = []string{"01/02/2006"}
	m.HeaderRows = 1
	return m
}

// ChaseCard is the column map for Chase credit card CSV exports, which
// carry separate transaction and post dates:
//
//	Transaction Date,Post Date,Description,Category,Type,Amount,Memo
func ChaseCard() ColumnMap {
	m := EmptyColumns()
	m.Date = 0
	m.PostDate = 1
	m.Payee = 2
	m.Type = 3
	m.Price = 5
	m.Description = 6
	m.DateLayouts = []string{"01/02/2006"}
	m.HeaderRows = 1
	return m
}

// SplitColumns is a generic map for exports with separate withdrawal and
// deposit columns:
//
//	Date,Description,Withdrawals,Deposits,Balance
func SplitColumns() ColumnMap {
	m := EmptyColumns()
	m.Date = 0
	m.Payee = 1
	m.PriceWithdrawal = 2
	m.PriceDeposit = 3
	m.HeaderRows = 1
	return m
}
