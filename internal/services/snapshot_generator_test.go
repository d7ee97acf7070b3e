package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellbooks/internal/core"
	"wellbooks/internal/storage/memory"
)

func TestSnapshotGenerator_Run(t *testing.T) {
	ctx := context.Background()
	store, acct := seedScenario(t)
	gen := newGenerator(store)

	result, err := gen.Run(ctx, utc(2024, time.March, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 2, 29), result.SnapshotDate)
	assert.Equal(t, 1, result.Accounts)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Existing)

	snaps, err := store.ListSnapshots(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, core.NewDate(2024, 2, 29), snaps[0].SnapshotDate)
	assert.True(t, snaps[0].Balance.Equal(dec("1300")), "got %s", snaps[0].Balance)
}

func TestSnapshotGenerator_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, acct := seedScenario(t)
	gen := newGenerator(store)
	now := utc(2024, time.March, 1, 2)

	_, err := gen.Run(ctx, now)
	require.NoError(t, err)

	second, err := gen.Run(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Existing)
	assert.Equal(t, 1, second.Processed())

	snaps, err := store.ListSnapshots(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSnapshotGenerator_ChainsFromPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store, acct := seedScenario(t)
	addTx(t, store, acct.ID, "75.25", utc(2024, time.March, 20, 12))
	gen := newGenerator(store)

	for _, now := range []time.Time{
		utc(2024, time.February, 1, 0),
		utc(2024, time.March, 1, 0),
		utc(2024, time.April, 1, 0),
	} {
		_, err := gen.Run(ctx, now)
		require.NoError(t, err)
	}

	snaps, err := store.ListSnapshots(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	txs, err := store.ListTransactions(ctx, acct.ID, core.TransactionFilter{})
	require.NoError(t, err)
	for _, snap := range snaps {
		want := core.FoldBalance(acct, txs, snap.SnapshotDate)
		assert.True(t, snap.Balance.Equal(want), "%s: got %s want %s", snap.SnapshotDate, snap.Balance, want)
	}
	assert.True(t, snaps[2].Balance.Equal(dec("1375.25")))
}

func TestSnapshotGenerator_OutOfOrderRuns(t *testing.T) {
	ctx := context.Background()
	store, acct := seedScenario(t)
	gen := newGenerator(store)

	for _, now := range []time.Time{utc(2024, time.March, 1, 0), utc(2024, time.February, 1, 0)} {
		result, err := gen.Run(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created, "run at %s", now)
	}

	snaps, err := store.ListSnapshots(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, core.NewDate(2024, 1, 31), snaps[0].SnapshotDate)
	assert.True(t, snaps[0].Balance.Equal(dec("1500")), "got %s", snaps[0].Balance)
	assert.Equal(t, core.NewDate(2024, 2, 29), snaps[1].SnapshotDate)
	assert.True(t, snaps[1].Balance.Equal(dec("1300")), "got %s", snaps[1].Balance)

	txs, err := store.ListTransactions(ctx, acct.ID, core.TransactionFilter{})
	require.NoError(t, err)
	for _, snap := range snaps {
		want := core.FoldBalance(acct, txs, snap.SnapshotDate)
		assert.True(t, snap.Balance.Equal(want), "%s: got %s want %s", snap.SnapshotDate, snap.Balance, want)
	}
}

func TestSnapshotGenerator_ZeroActivity(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	acct := addAccount(t, store, "quiet", "250.50", utc(2023, time.June, 3, 8))
	gen := newGenerator(store)

	for _, now := range []time.Time{utc(2023, time.July, 1, 0), utc(2023, time.August, 1, 0)} {
		_, err := gen.Run(ctx, now)
		require.NoError(t, err)
	}

	snaps, err := store.ListSnapshots(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, snap := range snaps {
		assert.True(t, snap.Balance.Equal(acct.InitialBalance))
	}
}

func TestSnapshotGenerator_SkipsAccountsCreatedAfterTarget(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addAccount(t, store, "old", "10", utc(2024, time.January, 5, 0))
	addAccount(t, store, "new", "10", utc(2024, time.March, 1, 0))
	sameDay := addAccount(t, store, "same-day", "10", utc(2024, time.February, 29, 18))
	addTx(t, store, sameDay.ID, "5", utc(2024, time.February, 29, 20))

	result, err := newGenerator(store).Run(ctx, utc(2024, time.March, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Accounts)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Skipped)

	snaps, err := store.ListSnapshots(ctx, sameDay.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Balance.Equal(dec("15")))
}

func TestSnapshotGenerator_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for i := 0; i < 5; i++ {
		addAccount(t, store, fmt.Sprintf("acct-%d", i), "100", utc(2024, time.January, 1, 0))
	}
	ledger := &failingLedger{Store: store, failFor: "acct-3"}

	gen := NewSnapshotGenerator(store, ledger, store, WithConcurrency(2))
	result, err := gen.Run(ctx, utc(2024, time.February, 1, 0))

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPartialBatchFailure)
	var batchErr *core.PartialBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 5, batchErr.Attempted)
	require.Len(t, batchErr.Failures, 1)
	assert.Equal(t, "acct-3", batchErr.Failures[0].AccountID)
	assert.Equal(t, 4, result.Created)

	snaps, err := store.ListSnapshots(ctx, "acct-3")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSnapshotGenerator_ListFailure(t *testing.T) {
	gen := NewSnapshotGenerator(brokenAccounts{}, memory.New(), memory.New())
	_, err := gen.Run(context.Background(), utc(2024, time.February, 1, 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrPartialBatchFailure)
}

func TestSnapshotGenerator_RetriesOnConflict(t *testing.T) {
	tests := []struct {
		name        string
		conflicts   int
		wantCreated int
		wantFailed  int
		wantCalls   int
	}{
		{name: "single conflict", conflicts: 1, wantCreated: 1, wantCalls: 2},
		{name: "persistent conflict", conflicts: 10, wantFailed: 1, wantCalls: maxSnapshotAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := seedScenario(t)
			snaps := &conflictingSnapshots{Store: store, conflicts: tt.conflicts}
			gen := NewSnapshotGenerator(store, store, snaps)

			result, err := gen.Run(context.Background(), utc(2024, time.March, 1, 0))
			if tt.wantFailed > 0 {
				assert.ErrorIs(t, err, core.ErrConflict)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCreated, result.Created)
			assert.Len(t, result.Failures, tt.wantFailed)
			assert.Equal(t, tt.wantCalls, snaps.calls)
		})
	}
}

func TestSnapshotGenerator_RunLock(t *testing.T) {
	ctx := context.Background()

	t.Run("held elsewhere", func(t *testing.T) {
		store, acct := seedScenario(t)
		locker := &fakeLocker{acquired: false}
		result, err := newGenerator(store, WithRunLock(locker)).Run(ctx, utc(2024, time.March, 1, 0))
		require.NoError(t, err)
		assert.True(t, result.Locked)
		assert.Equal(t, "snapshots:2024-02-29", locker.key)

		snaps, err := store.ListSnapshots(ctx, acct.ID)
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("acquired and released", func(t *testing.T) {
		store, _ := seedScenario(t)
		locker := &fakeLocker{acquired: true}
		result, err := newGenerator(store, WithRunLock(locker)).Run(ctx, utc(2024, time.March, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.True(t, locker.released)
	})

	t.Run("lock backend down", func(t *testing.T) {
		store, _ := seedScenario(t)
		locker := &fakeLocker{err: errors.New("dial tcp: connection refused")}
		result, err := newGenerator(store, WithRunLock(locker)).Run(ctx, utc(2024, time.March, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
	})
}

func TestSnapshotGenerator_PublishesRun(t *testing.T) {
	store, _ := seedScenario(t)
	pub := &recordingPublisher{err: errors.New("broker down")}

	_, err := newGenerator(store, WithPublisher(pub)).Run(context.Background(), utc(2024, time.March, 1, 0))
	require.NoError(t, err, "publish failures must not fail the run")
	assert.Equal(t, []core.Date{core.NewDate(2024, 2, 29)}, pub.runs)
}

type failingLedger struct {
	*memory.Store
	failFor string
}

func (l *failingLedger) SumAmounts(ctx context.Context, accountID string, w core.Window) (decimal.Decimal, error) {
	if accountID == l.failFor {
		return decimal.Zero, errors.New("database is locked")
	}
	return l.Store.SumAmounts(ctx, accountID, w)
}

type conflictingSnapshots struct {
	*memory.Store
	conflicts int
	calls     int
}

func (s *conflictingSnapshots) CreateSnapshotIfAbsent(ctx context.Context, snap core.BalanceSnapshot, revision int64) (bool, error) {
	s.calls++
	if s.calls <= s.conflicts {
		return false, core.ErrConflict
	}
	return s.Store.CreateSnapshotIfAbsent(ctx, snap, revision)
}

type brokenAccounts struct{}

func (brokenAccounts) CreateAccount(context.Context, core.Account) error { return errors.New("boom") }
func (brokenAccounts) GetAccount(context.Context, string) (core.Account, error) {
	return core.Account{}, errors.New("boom")
}
func (brokenAccounts) ListAccounts(context.Context) ([]core.Account, error) {
	return nil, errors.New("boom")
}

type fakeLocker struct {
	acquired bool
	err      error
	key      string
	released bool
}

func (l *fakeLocker) TryAcquire(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.key = key
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func(context.Context) error {
		l.released = true
		return nil
	}, true, nil
}
