package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

// Reconciler replays each account's full ledger and compares the result with
// every stored snapshot.
type Reconciler struct {
	accounts    ports.AccountStore
	ledger      ports.LedgerStore
	snapshots   ports.SnapshotStore
	concurrency int
}

func NewReconciler(accounts ports.AccountStore, ledger ports.LedgerStore, snapshots ports.SnapshotStore, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultSnapshotConcurrency
	}
	return &Reconciler{
		accounts:    accounts,
		ledger:      ledger,
		snapshots:   snapshots,
		concurrency: concurrency,
	}
}

// Reconcile checks one account.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string) (core.ReconcileReport, error) {
	acct, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return core.ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
	}
	return r.reconcileAccount(ctx, acct)
}

func (r *Reconciler) reconcileAccount(ctx context.Context, acct core.Account) (core.ReconcileReport, error) {
	txs, err := r.ledger.ListTransactions(ctx, acct.ID, core.TransactionFilter{})
	if err != nil {
		return core.ReconcileReport{}, fmt.Errorf("list transactions: %w", err)
	}
	snaps, err := r.snapshots.ListSnapshots(ctx, acct.ID)
	if err != nil {
		return core.ReconcileReport{}, fmt.Errorf("list snapshots: %w", err)
	}

	report := core.ReconcileReport{AccountID: acct.ID, Checked: len(snaps)}
	for _, snap := range snaps {
		expected := core.FoldBalance(acct, txs, snap.SnapshotDate)
		if expected.Equal(snap.Balance) {
			continue
		}
		report.Drifts = append(report.Drifts, core.SnapshotDrift{
			SnapshotDate: snap.SnapshotDate,
			Stored:       snap.Balance,
			Expected:     expected,
		})
	}

	if !report.Consistent() {
		slog.WarnContext(ctx, "Snapshot drift detected",
			"account_id", acct.ID,
			"checked", report.Checked,
			"drifts", len(report.Drifts))
	}
	return report, nil
}

// ReconcileAll checks every account. Reports for accounts that could be read
// are returned even when others fail, along with a *core.PartialBatchError.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]core.ReconcileReport, error) {
	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var (
		mu       sync.Mutex
		grp      errgroup.Group
		reports  = make([]core.ReconcileReport, 0, len(accounts))
		failures []core.AccountFailure
	)
	grp.SetLimit(r.concurrency)

	for _, acct := range accounts {
		acct := acct
		grp.Go(func() error {
			report, err := r.reconcileAccount(ctx, acct)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.ErrorContext(ctx, "Failed to reconcile account",
					"account_id", acct.ID,
					"error", err)
				failures = append(failures, core.AccountFailure{AccountID: acct.ID, Err: err})
				return nil
			}
			reports = append(reports, report)
			return nil
		})
	}
	_ = grp.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].AccountID < reports[j].AccountID })
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].AccountID < failures[j].AccountID })
		return reports, &core.PartialBatchError{Attempted: len(accounts), Failures: failures}
	}
	return reports, nil
}
