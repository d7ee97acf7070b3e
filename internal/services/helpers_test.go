package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"wellbooks/internal/core"
	"wellbooks/internal/storage/memory"
)

func utc(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func addAccount(t *testing.T, store *memory.Store, id, initial string, created time.Time) core.Account {
	t.Helper()
	a := core.Account{
		ID:             id,
		Name:           "Account " + id,
		AccountType:    core.Checking,
		Status:         core.Active,
		InitialBalance: dec(initial),
		CreatedAt:      created,
	}
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

func addTx(t *testing.T, store *memory.Store, accountID, amount string, ts time.Time) int {
	t.Helper()
	n, err := store.RecordTransaction(context.Background(), core.Transaction{
		ID:        accountID + ts.Format(time.RFC3339Nano) + amount,
		AccountID: accountID,
		Amount:    dec(amount),
		Timestamp: ts,
		CreatedAt: ts,
	})
	require.NoError(t, err)
	return n
}

// seedScenario builds the account used across the service tests: 1000 opening
// balance on 2024-01-01, +500 on 2024-01-15 and -200 on 2024-02-10.
func seedScenario(t *testing.T) (*memory.Store, core.Account) {
	t.Helper()
	store := memory.New()
	acct := addAccount(t, store, "acct-1", "1000", utc(2024, time.January, 1, 0))
	addTx(t, store, acct.ID, "500", utc(2024, time.January, 15, 10))
	addTx(t, store, acct.ID, "-200", utc(2024, time.February, 10, 9))
	return store, acct
}

func newGenerator(store *memory.Store, opts ...GeneratorOption) *SnapshotGenerator {
	return NewSnapshotGenerator(store, store, store, opts...)
}

func newResolver(store *memory.Store) *BalanceResolver {
	return NewBalanceResolver(store, store, store)
}

type recordingPublisher struct {
	mu           sync.Mutex
	accounts     []core.Account
	transactions []core.Transaction
	invalidated  []int
	runs         []core.Date
	err          error
}

func (p *recordingPublisher) PublishAccountCreated(_ context.Context, a core.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, a)
	return p.err
}

func (p *recordingPublisher) PublishTransactionRecorded(_ context.Context, tx core.Transaction, invalidated int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transactions = append(p.transactions, tx)
	p.invalidated = append(p.invalidated, invalidated)
	return p.err
}

func (p *recordingPublisher) PublishSnapshotsGenerated(_ context.Context, date core.Date, _, _, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, date)
	return p.err
}
