package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

// EventPublisher announces ledger changes to downstream consumers. Publishing
// is best effort: the ledger write has already committed when it is called.
type EventPublisher interface {
	PublishAccountCreated(ctx context.Context, a core.Account) error
	PublishTransactionRecorded(ctx context.Context, tx core.Transaction, invalidated int) error
	PublishSnapshotsGenerated(ctx context.Context, date core.Date, created, existing, failed int) error
}

// LedgerService orchestrates ledger writes across storage and AMQP
type LedgerService struct {
	store     ports.Store
	publisher EventPublisher
	now       func() time.Time
}

func NewLedgerService(store ports.Store, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateAccount fills in defaults, saves the account and publishes a message.
func (s *LedgerService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = core.Active
	}
	if a.AccountType == "" {
		a.AccountType = core.Checking
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Name = strings.TrimSpace(a.Name)
	a.InitialBalance = a.InitialBalance.Round(core.AmountPlaces)
	a.Revision = 0

	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}

	// Save to storage first
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return core.Account{}, fmt.Errorf("save account: %w", err)
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "Publisher not available, skipping account message")
	} else if err := s.publisher.PublishAccountCreated(ctx, a); err != nil {
		slog.ErrorContext(ctx, "Failed to publish account message",
			"account_id", a.ID, "error", err)
		// Don't fail the request - account is saved
	}

	return a, nil
}

// RecordTransaction appends an entry to the ledger. The returned count is the
// number of snapshots dropped because the entry is dated on or before them.
func (s *LedgerService) RecordTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, int, error) {
	if strings.TrimSpace(tx.ID) == "" {
		tx.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	tx.Timestamp = tx.Timestamp.UTC()
	tx.CreatedAt = now
	tx.Amount = tx.Amount.Round(core.AmountPlaces)

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, 0, err
	}

	invalidated, err := s.store.RecordTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, 0, fmt.Errorf("record transaction: %w", err)
	}

	if invalidated > 0 {
		slog.InfoContext(ctx, "Backdated transaction invalidated snapshots",
			"account_id", tx.AccountID,
			"transaction_id", tx.ID,
			"from_date", core.DateOf(tx.Timestamp).String(),
			"invalidated", invalidated)
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "Publisher not available, skipping transaction message")
	} else if err := s.publisher.PublishTransactionRecorded(ctx, tx, invalidated); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction message",
			"transaction_id", tx.ID, "error", err)
	}

	return tx, invalidated, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, id string) (core.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// ListAccounts returns the accounts f matches in creation order.
func (s *LedgerService) ListAccounts(ctx context.Context, f core.AccountFilter) ([]core.Account, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return core.FilterAccounts(accounts, f), nil
}

// ListTransactions returns an account's entries matching f, oldest first.
func (s *LedgerService) ListTransactions(ctx context.Context, accountID string, f core.TransactionFilter) ([]core.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, f)
}

// ListSnapshots returns an account's stored snapshots by date.
func (s *LedgerService) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, accountID)
}

// WithClock replaces the clock used for default timestamps.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}
