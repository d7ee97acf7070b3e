package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

// BalanceResolver answers point-in-time balance queries. It starts from the
// latest snapshot on or before the requested day and folds in only the
// transactions after it, so the answer never depends on which snapshots exist.
type BalanceResolver struct {
	accounts  ports.AccountStore
	ledger    ports.LedgerStore
	snapshots ports.SnapshotStore
}

func NewBalanceResolver(accounts ports.AccountStore, ledger ports.LedgerStore, snapshots ports.SnapshotStore) *BalanceResolver {
	return &BalanceResolver{
		accounts:  accounts,
		ledger:    ledger,
		snapshots: snapshots,
	}
}

// BalanceAsOf returns the account balance at the end of asOf.
func (r *BalanceResolver) BalanceAsOf(ctx context.Context, accountID string, asOf core.Date) (decimal.Decimal, error) {
	if err := asOf.Validate(); err != nil {
		return decimal.Zero, err
	}

	acct, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve balance: %w", err)
	}
	return r.balanceFor(ctx, acct, asOf)
}

// TotalBalanceAsOf sums the end-of-day balances of every account f matches.
// Accounts opened after asOf are left out rather than failing the total.
func (r *BalanceResolver) TotalBalanceAsOf(ctx context.Context, asOf core.Date, f core.AccountFilter) (core.BalanceTotal, error) {
	if err := asOf.Validate(); err != nil {
		return core.BalanceTotal{}, err
	}
	if err := f.Validate(); err != nil {
		return core.BalanceTotal{}, err
	}

	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		return core.BalanceTotal{}, fmt.Errorf("total balance: %w", err)
	}

	total := core.BalanceTotal{AsOf: asOf, Total: decimal.Zero, Accounts: []core.AccountBalance{}}
	for _, acct := range core.FilterAccounts(accounts, f) {
		if asOf.Before(acct.CreatedOn()) {
			continue
		}
		balance, err := r.balanceFor(ctx, acct, asOf)
		if err != nil {
			return core.BalanceTotal{}, err
		}
		total.Total = total.Total.Add(balance)
		total.Accounts = append(total.Accounts, core.AccountBalance{AccountID: acct.ID, Balance: balance})
	}
	return total, nil
}

func (r *BalanceResolver) balanceFor(ctx context.Context, acct core.Account, asOf core.Date) (decimal.Decimal, error) {
	if asOf.Before(acct.CreatedOn()) {
		return decimal.Zero, fmt.Errorf("%w: %s is before account %s was created on %s",
			core.ErrInvalidRange, asOf, acct.ID, acct.CreatedOn())
	}

	balance, _, err := balanceThrough(ctx, r.snapshots, r.ledger, acct, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve balance for %s: %w", acct.ID, err)
	}
	return balance, nil
}
