package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
)

// Ports for the persistence adapters.
type (
	AccountStore interface {
		// CreateAccount persists a new account. Duplicate IDs return core.ErrAlreadyExists.
		CreateAccount(ctx context.Context, a core.Account) error
		// GetAccount returns core.ErrNotFound for unknown IDs.
		GetAccount(ctx context.Context, id string) (core.Account, error)
		ListAccounts(ctx context.Context) ([]core.Account, error)
	}

	// LedgerStore holds the append-only transaction log.
	LedgerStore interface {
		// RecordTransaction appends tx and, atomically with it, removes the
		// account's snapshots dated on or after the transaction's day. It
		// returns the number of snapshots removed.
		RecordTransaction(ctx context.Context, tx core.Transaction) (invalidated int, err error)
		// SumAmounts adds up the account's amounts with timestamps in the
		// window. No matching rows yields zero, not an error.
		SumAmounts(ctx context.Context, accountID string, w core.Window) (decimal.Decimal, error)
		// ListTransactions returns the entries f matches, oldest first. The
		// zero filter returns the full history.
		ListTransactions(ctx context.Context, accountID string, f core.TransactionFilter) ([]core.Transaction, error)
	}

	// SnapshotStore holds month-end checkpoints, unique per (account, date).
	SnapshotStore interface {
		// LatestSnapshot returns the most recent snapshot dated on or before
		// onOrBefore. ok is false when there is none.
		LatestSnapshot(ctx context.Context, accountID string, onOrBefore core.Date) (snap core.BalanceSnapshot, ok bool, err error)
		// CreateSnapshotIfAbsent inserts s unless a snapshot for the same
		// account and date exists. revision must match the account's current
		// ledger revision, otherwise core.ErrConflict is returned and nothing
		// is written.
		CreateSnapshotIfAbsent(ctx context.Context, s core.BalanceSnapshot, revision int64) (created bool, err error)
		// ListSnapshots returns the account's snapshots, oldest first.
		ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error)
	}

	// Store is everything a backend provides.
	Store interface {
		AccountStore
		LedgerStore
		SnapshotStore
		Ping(ctx context.Context) error
		Close() error
	}
)
