package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const accountColumns = `id, name, account_type, account_number, bank_name, description, status, initial_balance, created_at, revision`

const createAccount = `INSERT INTO accounts (` + accountColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

type CreateAccountParams struct {
	ID             string
	Name           string
	AccountType    string
	AccountNumber  string
	BankName       string
	Description    string
	Status         string
	InitialBalance string
	CreatedAt      string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx, createAccount,
		arg.ID,
		arg.Name,
		arg.AccountType,
		arg.AccountNumber,
		arg.BankName,
		arg.Description,
		arg.Status,
		arg.InitialBalance,
		arg.CreatedAt,
	)
	return err
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

func (q *Queries) GetAccount(ctx context.Context, id string) (Account, error) {
	row := q.db.QueryRowContext(ctx, getAccount, id)
	var i Account
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.AccountType,
		&i.AccountNumber,
		&i.BankName,
		&i.Description,
		&i.Status,
		&i.InitialBalance,
		&i.CreatedAt,
		&i.Revision,
	)
	return i, err
}

const listAccounts = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`

func (q *Queries) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		var i Account
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.AccountType,
			&i.AccountNumber,
			&i.BankName,
			&i.Description,
			&i.Status,
			&i.InitialBalance,
			&i.CreatedAt,
			&i.Revision,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const bumpAccountRevision = `UPDATE accounts SET revision = revision + 1 WHERE id = ?`

func (q *Queries) BumpAccountRevision(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, bumpAccountRevision, id)
	return err
}

const createTransaction = `INSERT INTO transactions (id, account_id, amount, timestamp, description, property_id, company_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

type CreateTransactionParams struct {
	ID          string
	AccountID   string
	Amount      string
	Timestamp   string
	Description string
	PropertyID  string
	CompanyID   string
	CreatedAt   string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.ID,
		arg.AccountID,
		arg.Amount,
		arg.Timestamp,
		arg.Description,
		arg.PropertyID,
		arg.CompanyID,
		arg.CreatedAt,
	)
	return err
}

const listAmountsInWindow = `SELECT amount FROM transactions
WHERE account_id = ? AND timestamp >= ? AND timestamp < ?`

type ListAmountsInWindowParams struct {
	AccountID string
	From      string
	To        string
}

func (q *Queries) ListAmountsInWindow(ctx context.Context, arg ListAmountsInWindowParams) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listAmountsInWindow, arg.AccountID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		items = append(items, amount)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Empty bounds and ids match every row; the timestamp range is served by
// idx_transactions_account_timestamp.
const listTransactions = `SELECT id, account_id, amount, timestamp, description, property_id, company_id, created_at
FROM transactions
WHERE account_id = ?
  AND timestamp >= ?
  AND (? = '' OR timestamp < ?)
  AND (? = '' OR property_id = ?)
  AND (? = '' OR company_id = ?)
ORDER BY timestamp, created_at, id`

type ListTransactionsParams struct {
	AccountID  string
	From       string
	To         string
	PropertyID string
	CompanyID  string
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions,
		arg.AccountID,
		arg.From,
		arg.To, arg.To,
		arg.PropertyID, arg.PropertyID,
		arg.CompanyID, arg.CompanyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.ID,
			&i.AccountID,
			&i.Amount,
			&i.Timestamp,
			&i.Description,
			&i.PropertyID,
			&i.CompanyID,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSnapshotsFrom = `DELETE FROM balance_snapshots WHERE account_id = ? AND snapshot_date >= ?`

type DeleteSnapshotsFromParams struct {
	AccountID string
	FromDate  string
}

func (q *Queries) DeleteSnapshotsFrom(ctx context.Context, arg DeleteSnapshotsFromParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSnapshotsFrom, arg.AccountID, arg.FromDate)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getLatestSnapshot = `SELECT account_id, snapshot_date, balance, created_at
FROM balance_snapshots
WHERE account_id = ? AND snapshot_date <= ?
ORDER BY snapshot_date DESC
LIMIT 1`

type GetLatestSnapshotParams struct {
	AccountID  string
	OnOrBefore string
}

func (q *Queries) GetLatestSnapshot(ctx context.Context, arg GetLatestSnapshotParams) (BalanceSnapshot, error) {
	row := q.db.QueryRowContext(ctx, getLatestSnapshot, arg.AccountID, arg.OnOrBefore)
	var i BalanceSnapshot
	err := row.Scan(
		&i.AccountID,
		&i.SnapshotDate,
		&i.Balance,
		&i.CreatedAt,
	)
	return i, err
}

const insertSnapshotIfAbsent = `INSERT INTO balance_snapshots (account_id, snapshot_date, balance, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(account_id, snapshot_date) DO NOTHING`

type InsertSnapshotIfAbsentParams struct {
	AccountID    string
	SnapshotDate string
	Balance      string
	CreatedAt    string
}

func (q *Queries) InsertSnapshotIfAbsent(ctx context.Context, arg InsertSnapshotIfAbsentParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertSnapshotIfAbsent,
		arg.AccountID,
		arg.SnapshotDate,
		arg.Balance,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listSnapshots = `SELECT account_id, snapshot_date, balance, created_at
FROM balance_snapshots WHERE account_id = ? ORDER BY snapshot_date`

func (q *Queries) ListSnapshots(ctx context.Context, accountID string) ([]BalanceSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, listSnapshots, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BalanceSnapshot
	for rows.Next() {
		var i BalanceSnapshot
		if err := rows.Scan(
			&i.AccountID,
			&i.SnapshotDate,
			&i.Balance,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
