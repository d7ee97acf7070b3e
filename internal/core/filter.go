package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFilter narrows an account's history. Zero fields match
// everything; From and To bound a half-open range [From, To).
type TransactionFilter struct {
	From       time.Time
	To         time.Time
	PropertyID string
	CompanyID  string
}

// DayRange returns the filter bounds covering the whole of from through the
// whole of to. Zero dates leave that side open.
func DayRange(from, to Date) (time.Time, time.Time, error) {
	var lo, hi time.Time
	if !from.IsZero() {
		lo = from.Time
	}
	if !to.IsZero() {
		hi = to.Cutoff()
	}
	if !lo.IsZero() && !hi.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is after to %s", ErrValidation, from, to)
	}
	return lo, hi, nil
}

func (f TransactionFilter) Matches(tx Transaction) bool {
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Timestamp.Before(f.To) {
		return false
	}
	if f.PropertyID != "" && tx.PropertyID != f.PropertyID {
		return false
	}
	if f.CompanyID != "" && tx.CompanyID != f.CompanyID {
		return false
	}
	return true
}

// AccountFilter selects accounts by type, status or bank. Zero fields match
// everything.
type AccountFilter struct {
	Type     AccountType
	Status   AccountStatus
	BankName string
}

// Validate rejects a type or status outside the known values.
func (f AccountFilter) Validate() error {
	if f.Type != "" && !f.Type.IsValid() {
		return ErrInvalidAccountType
	}
	if f.Status != "" && !f.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

func (f AccountFilter) Matches(a Account) bool {
	if f.Type != "" && a.AccountType != f.Type {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.BankName != "" && a.BankName != f.BankName {
		return false
	}
	return true
}

// FilterAccounts returns the accounts f matches, order preserved.
func FilterAccounts(accounts []Account, f AccountFilter) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// AccountBalance is one account's contribution to a BalanceTotal.
type AccountBalance struct {
	AccountID string
	Balance   decimal.Decimal
}

// BalanceTotal sums the balances of a set of accounts at the end of AsOf.
// Accounts opened after AsOf are not part of it.
type BalanceTotal struct {
	AsOf     Date
	Total    decimal.Decimal
	Accounts []AccountBalance
}
