package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

// baseline is the starting point of a balance computation: the latest usable
// snapshot or, when there is none, the account's opening state.
type baseline struct {
	Balance decimal.Decimal
	// From is the first instant whose transactions are not yet in Balance.
	From time.Time
	// Date is the snapshot day; zero when starting from the account itself.
	Date         core.Date
	FromSnapshot bool
}

func findBaseline(ctx context.Context, snapshots ports.SnapshotStore, acct core.Account, target core.Date) (baseline, error) {
	snap, ok, err := snapshots.LatestSnapshot(ctx, acct.ID, target)
	if err != nil {
		return baseline{}, fmt.Errorf("latest snapshot: %w", err)
	}
	if ok {
		return baseline{
			Balance:      snap.Balance,
			From:         snap.SnapshotDate.Cutoff(),
			Date:         snap.SnapshotDate,
			FromSnapshot: true,
		}, nil
	}
	return baseline{
		Balance: acct.InitialBalance,
		From:    acct.CreatedAt,
	}, nil
}

// balanceThrough returns the balance at the end of target: the baseline plus
// every transaction between the baseline and target's cutoff.
func balanceThrough(ctx context.Context, snapshots ports.SnapshotStore, ledger ports.LedgerStore, acct core.Account, target core.Date) (decimal.Decimal, baseline, error) {
	base, err := findBaseline(ctx, snapshots, acct, target)
	if err != nil {
		return decimal.Zero, baseline{}, err
	}
	if base.FromSnapshot && base.Date.Equal(target) {
		return base.Balance, base, nil
	}

	delta, err := ledger.SumAmounts(ctx, acct.ID, core.Window{From: base.From, To: target.Cutoff()})
	if err != nil {
		return decimal.Zero, baseline{}, fmt.Errorf("sum ledger: %w", err)
	}
	return base.Balance.Add(delta), base, nil
}
