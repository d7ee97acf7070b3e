package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendYearOptions are the look-back periods a trend can be requested for.
var TrendYearOptions = []int{1, 2, 3, 5}

// DefaultTrendYears is the look-back period used when none is requested.
const DefaultTrendYears = 3

// ValidTrendYears reports whether years is one of TrendYearOptions.
func ValidTrendYears(years int) bool {
	for _, y := range TrendYearOptions {
		if y == years {
			return true
		}
	}
	return false
}

// Window is a half-open instant range [From, To) over transaction timestamps.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	return t.Before(w.To)
}

// Empty reports whether no instant can fall in the window.
func (w Window) Empty() bool {
	return !w.From.IsZero() && !w.From.Before(w.To)
}

// MonthBalance is the balance at the end of one month.
type MonthBalance struct {
	Month  int             `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// TrendYear groups the month-end balances of one calendar year, months ascending.
type TrendYear struct {
	Year        int            `json:"year"`
	MonthlyData []MonthBalance `json:"monthlyData"`
}

// SnapshotDrift is a stored snapshot that disagrees with a full replay of the ledger.
type SnapshotDrift struct {
	SnapshotDate Date            `json:"snapshot_date"`
	Stored       decimal.Decimal `json:"stored"`
	Expected     decimal.Decimal `json:"expected"`
}

// ReconcileReport summarizes one account's snapshot verification.
type ReconcileReport struct {
	AccountID string          `json:"account_id"`
	Checked   int             `json:"checked"`
	Drifts    []SnapshotDrift `json:"drifts"`
}

func (r ReconcileReport) Consistent() bool {
	return len(r.Drifts) == 0
}
