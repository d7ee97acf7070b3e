package cache

import (
	"fmt"
	"time"
)

// TrendKey identifies a cached trend series. The month component retires
// entries when the calendar month rolls over and a new month appears.
func TrendKey(accountID string, years int, now time.Time) string {
	return fmt.Sprintf("%s%d:%s", AccountPrefix(accountID), years, now.UTC().Format("2006-01"))
}

// AccountPrefix is shared by every key cached for accountID, so one
// DeletePrefix drops them all when the account's ledger changes.
func AccountPrefix(accountID string) string {
	return "trend:" + accountID + ":"
}
