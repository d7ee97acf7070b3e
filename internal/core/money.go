// Package core provides the ledger domain types and amount handling utilities.
//
// This file contains functions for parsing signed monetary amounts from
// strings and folding ledger entries into balances.
package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits amounts are rounded to.
const AmountPlaces = 2

// ParseAmount converts a decimal string to a signed amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half away from zero to two places. Zero is rejected because a ledger entry
// without value carries no information.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("-12,34") -> -12.34, nil
//	ParseAmount("12.345") -> 12.35, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := ParseBalance(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseBalance is like ParseAmount but accepts zero. Empty input is zero.
func ParseBalance(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(AmountPlaces), nil
}

// FormatAmount renders an amount with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}

// SumAmounts adds up the amounts of txs whose timestamp falls in [from, to).
// A zero from means unbounded below.
func SumAmounts(txs []Transaction, window Window) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if window.Contains(tx.Timestamp) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// FoldBalance replays the full history of an account up to the end of asOf.
// It is the reference definition of a balance and ignores snapshots.
func FoldBalance(a Account, txs []Transaction, asOf Date) decimal.Decimal {
	ordered := make([]Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	balance := a.InitialBalance
	cutoff := asOf.Cutoff()
	for _, tx := range ordered {
		if tx.AccountID != a.ID {
			continue
		}
		if !tx.Timestamp.Before(cutoff) {
			break
		}
		balance = balance.Add(tx.Amount)
	}
	return balance
}
