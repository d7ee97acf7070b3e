package storage

// Row types mirror the tables one to one. Amounts and instants are kept as the
// TEXT they are stored as; conversion happens in the repository.

type Account struct {
	ID             string
	Name           string
	AccountType    string
	AccountNumber  string
	BankName       string
	Description    string
	Status         string
	InitialBalance string
	CreatedAt      string
	Revision       int64
}

type Transaction struct {
	ID          string
	AccountID   string
	Amount      string
	Timestamp   string
	Description string
	PropertyID  string
	CompanyID   string
	CreatedAt   string
}

type BalanceSnapshot struct {
	AccountID    string
	SnapshotDate string
	Balance      string
	CreatedAt    string
}
