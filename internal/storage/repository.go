package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"

	_ "modernc.org/sqlite"
)

// instantLayout is fixed width so TEXT comparison orders instants correctly.
const instantLayout = "2006-01-02T15:04:05.000000000Z"

var _ ports.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newRepository(db), nil
}

func newRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateAccount implements ports.AccountStore
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	err := r.queries.CreateAccount(ctx, CreateAccountParams{
		ID:             a.ID,
		Name:           a.Name,
		AccountType:    string(a.AccountType),
		AccountNumber:  a.AccountNumber,
		BankName:       a.BankName,
		Description:    a.Description,
		Status:         string(a.Status),
		InitialBalance: a.InitialBalance.String(),
		CreatedAt:      formatInstant(a.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, mapError(err))
	}

	slog.InfoContext(ctx, "Account saved to SQLite",
		"account_id", a.ID,
		"name", a.Name,
		"initial_balance", a.InitialBalance.String(),
		"created_at", a.CreatedAt.Format(time.RFC3339))

	return nil
}

// GetAccount implements ports.AccountStore
func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row, err := r.queries.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, mapError(err))
	}
	return accountFromRow(row)
}

// ListAccounts implements ports.AccountStore
func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.queries.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]core.Account, 0, len(rows))
	for _, row := range rows {
		a, err := accountFromRow(row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// RecordTransaction implements ports.LedgerStore
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, tx core.Transaction) (int, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	var invalidated int64
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetAccount(ctx, tx.AccountID)
		if err != nil {
			return fmt.Errorf("get account %s: %w", tx.AccountID, mapError(err))
		}
		acct, err := accountFromRow(row)
		if err != nil {
			return err
		}
		if err := tx.ValidateFor(acct); err != nil {
			return err
		}

		createdAt := tx.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if err := q.CreateTransaction(ctx, CreateTransactionParams{
			ID:          tx.ID,
			AccountID:   tx.AccountID,
			Amount:      tx.Amount.String(),
			Timestamp:   formatInstant(tx.Timestamp),
			Description: tx.Description,
			PropertyID:  tx.PropertyID,
			CompanyID:   tx.CompanyID,
			CreatedAt:   formatInstant(createdAt),
		}); err != nil {
			return fmt.Errorf("create transaction: %w", mapError(err))
		}

		invalidated, err = q.DeleteSnapshotsFrom(ctx, DeleteSnapshotsFromParams{
			AccountID: tx.AccountID,
			FromDate:  core.DateOf(tx.Timestamp).String(),
		})
		if err != nil {
			return fmt.Errorf("invalidate snapshots: %w", err)
		}

		if err := q.BumpAccountRevision(ctx, tx.AccountID); err != nil {
			return fmt.Errorf("bump account revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"account_id", tx.AccountID,
		"amount", tx.Amount.String(),
		"timestamp", tx.Timestamp.UTC().Format(time.RFC3339),
		"snapshots_invalidated", invalidated)

	return int(invalidated), nil
}

// SumAmounts implements ports.LedgerStore
func (r *SQLiteRepository) SumAmounts(ctx context.Context, accountID string, w core.Window) (decimal.Decimal, error) {
	if w.Empty() {
		return decimal.Zero, nil
	}
	amounts, err := r.queries.ListAmountsInWindow(ctx, ListAmountsInWindowParams{
		AccountID: accountID,
		From:      formatInstant(w.From),
		To:        formatInstant(w.To),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts for %s: %w", accountID, err)
	}

	total := decimal.Zero
	for _, s := range amounts {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse stored amount %q: %w", s, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// ListTransactions implements ports.LedgerStore
func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID string, f core.TransactionFilter) ([]core.Transaction, error) {
	arg := ListTransactionsParams{
		AccountID:  accountID,
		PropertyID: f.PropertyID,
		CompanyID:  f.CompanyID,
	}
	if !f.From.IsZero() {
		arg.From = formatInstant(f.From)
	}
	if !f.To.IsZero() {
		arg.To = formatInstant(f.To)
	}
	rows, err := r.queries.ListTransactions(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", accountID, err)
	}
	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := transactionFromRow(row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// LatestSnapshot implements ports.SnapshotStore
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, accountID string, onOrBefore core.Date) (core.BalanceSnapshot, bool, error) {
	row, err := r.queries.GetLatestSnapshot(ctx, GetLatestSnapshotParams{
		AccountID:  accountID,
		OnOrBefore: onOrBefore.String(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceSnapshot{}, false, nil
	}
	if err != nil {
		return core.BalanceSnapshot{}, false, fmt.Errorf("get latest snapshot for %s: %w", accountID, err)
	}
	snap, err := snapshotFromRow(row)
	if err != nil {
		return core.BalanceSnapshot{}, false, err
	}
	return snap, true, nil
}

// CreateSnapshotIfAbsent implements ports.SnapshotStore
func (r *SQLiteRepository) CreateSnapshotIfAbsent(ctx context.Context, s core.BalanceSnapshot, revision int64) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var created bool
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetAccount(ctx, s.AccountID)
		if err != nil {
			return fmt.Errorf("get account %s: %w", s.AccountID, mapError(err))
		}
		if row.Revision != revision {
			return core.ErrConflict
		}
		n, err := q.InsertSnapshotIfAbsent(ctx, InsertSnapshotIfAbsentParams{
			AccountID:    s.AccountID,
			SnapshotDate: s.SnapshotDate.String(),
			Balance:      s.Balance.String(),
			CreatedAt:    formatInstant(createdAt),
		})
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		created = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		slog.DebugContext(ctx, "Snapshot saved to SQLite",
			"account_id", s.AccountID,
			"snapshot_date", s.SnapshotDate.String(),
			"balance", s.Balance.String())
	}
	return created, nil
}

// ListSnapshots implements ports.SnapshotStore
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	rows, err := r.queries.ListSnapshots(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", accountID, err)
	}
	snaps := make([]core.BalanceSnapshot, 0, len(rows))
	for _, row := range rows {
		s, err := snapshotFromRow(row)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// mapError translates driver errors into domain errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
	default:
		return err
	}
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(instantLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored instant %q: %w", s, err)
	}
	return t, nil
}

func accountFromRow(row Account) (core.Account, error) {
	balance, err := decimal.NewFromString(row.InitialBalance)
	if err != nil {
		return core.Account{}, fmt.Errorf("parse initial balance of %s: %w", row.ID, err)
	}
	createdAt, err := parseInstant(row.CreatedAt)
	if err != nil {
		return core.Account{}, err
	}
	return core.Account{
		ID:             row.ID,
		Name:           row.Name,
		AccountType:    core.AccountType(row.AccountType),
		AccountNumber:  row.AccountNumber,
		BankName:       row.BankName,
		Description:    row.Description,
		Status:         core.AccountStatus(row.Status),
		InitialBalance: balance,
		CreatedAt:      createdAt,
		Revision:       row.Revision,
	}, nil
}

func transactionFromRow(row Transaction) (core.Transaction, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount of %s: %w", row.ID, err)
	}
	ts, err := parseInstant(row.Timestamp)
	if err != nil {
		return core.Transaction{}, err
	}
	createdAt, err := parseInstant(row.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:          row.ID,
		AccountID:   row.AccountID,
		Amount:      amount,
		Timestamp:   ts,
		Description: row.Description,
		PropertyID:  row.PropertyID,
		CompanyID:   row.CompanyID,
		CreatedAt:   createdAt,
	}, nil
}

func snapshotFromRow(row BalanceSnapshot) (core.BalanceSnapshot, error) {
	date, err := core.ParseDate(row.SnapshotDate)
	if err != nil {
		return core.BalanceSnapshot{}, err
	}
	balance, err := decimal.NewFromString(row.Balance)
	if err != nil {
		return core.BalanceSnapshot{}, fmt.Errorf("parse snapshot balance: %w", err)
	}
	createdAt, err := parseInstant(row.CreatedAt)
	if err != nil {
		return core.BalanceSnapshot{}, err
	}
	return core.BalanceSnapshot{
		AccountID:    row.AccountID,
		SnapshotDate: date,
		Balance:      balance,
		CreatedAt:    createdAt,
	}, nil
}
