package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
)

// TrendAggregator builds month-end balance series for the trend view.
type TrendAggregator struct {
	accounts ports.AccountStore
	resolver *BalanceResolver
}

func NewTrendAggregator(accounts ports.AccountStore, resolver *BalanceResolver) *TrendAggregator {
	return &TrendAggregator{
		accounts: accounts,
		resolver: resolver,
	}
}

// Trend returns month-end balances from January of the first year in the
// look-back period through the current month, grouped by year. Months that
// end before the account existed report the initial balance.
func (t *TrendAggregator) Trend(ctx context.Context, accountID string, years int, now time.Time) ([]core.TrendYear, error) {
	if !core.ValidTrendYears(years) {
		return nil, fmt.Errorf("%w: got %d", core.ErrInvalidYears, years)
	}

	acct, err := t.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("trend: %w", err)
	}

	today := now.UTC()
	currentYear := today.Year()
	created := acct.CreatedOn()

	out := make([]core.TrendYear, 0, years)
	for year := currentYear - years + 1; year <= currentYear; year++ {
		last := time.December
		if year == currentYear {
			last = today.Month()
		}

		ty := core.TrendYear{Year: year, MonthlyData: make([]core.MonthBalance, 0, int(last))}
		for month := time.January; month <= last; month++ {
			end := core.MonthEnd(year, month)

			var amount decimal.Decimal
			if end.Before(created) {
				amount = acct.InitialBalance
			} else {
				amount, err = t.resolver.balanceFor(ctx, acct, end)
				if err != nil {
					return nil, fmt.Errorf("trend %d-%02d: %w", year, month, err)
				}
			}
			ty.MonthlyData = append(ty.MonthlyData, core.MonthBalance{Month: int(month), Amount: amount})
		}
		out = append(out, ty)
	}
	return out, nil
}
