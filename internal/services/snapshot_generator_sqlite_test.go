package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellbooks/internal/core"
	"wellbooks/internal/storage"
)

// TestSnapshotGenerator_SQLiteConcurrentWrites runs the generator against a
// real database while transactions land on the same accounts.
func TestSnapshotGenerator_SQLiteConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	const accounts = 6
	ids := make([]string, 0, accounts)
	for i := 0; i < accounts; i++ {
		id := fmt.Sprintf("acct-%d", i)
		require.NoError(t, repo.CreateAccount(ctx, core.Account{
			ID:             id,
			Name:           "Account " + id,
			AccountType:    core.Checking,
			Status:         core.Active,
			InitialBalance: dec("1000"),
			CreatedAt:      utc(2024, time.January, 1, 0),
		}))
		for day := 2; day <= 6; day++ {
			ts := utc(2024, time.January, day, 10)
			_, err := repo.RecordTransaction(ctx, core.Transaction{
				ID: fmt.Sprintf("%s-jan-%d", id, day), AccountID: id, Amount: dec("10.25"), Timestamp: ts, CreatedAt: ts,
			})
			require.NoError(t, err)
		}
		ids = append(ids, id)
	}

	gen := NewSnapshotGenerator(repo, repo, repo, WithConcurrency(8))
	_, err = gen.Run(ctx, utc(2024, time.February, 1, 0))
	require.NoError(t, err)

	// Two writes per account keep conflicts under the generator's retry limit.
	var wg sync.WaitGroup
	writeErrs := make(chan error, accounts*2)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for k, ts := range []time.Time{utc(2024, time.February, 14, 12), utc(2024, time.March, 2, 9)} {
				_, err := repo.RecordTransaction(ctx, core.Transaction{
					ID: fmt.Sprintf("%s-w%d", id, k), AccountID: id, Amount: dec("-3.50"), Timestamp: ts, CreatedAt: ts,
				})
				if err != nil {
					writeErrs <- err
				}
			}
		}(id)
	}

	result, runErr := gen.Run(ctx, utc(2024, time.March, 1, 0))
	wg.Wait()
	close(writeErrs)
	for err := range writeErrs {
		require.NoError(t, err)
	}
	require.NoError(t, runErr)
	assert.Empty(t, result.Failures)
	assert.Equal(t, accounts, result.Accounts)

	reports, err := NewReconciler(repo, repo, repo, 8).ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, accounts)
	for _, rep := range reports {
		assert.True(t, rep.Consistent(), "%s drifted: %+v", rep.AccountID, rep.Drifts)
		assert.NotZero(t, rep.Checked, "%s lost its january snapshot", rep.AccountID)
	}

	resolver := NewBalanceResolver(repo, repo, repo)
	for _, id := range ids {
		got, err := resolver.BalanceAsOf(ctx, id, core.NewDate(2024, 2, 29))
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("1047.75")), "%s: got %s", id, got)
	}
}
