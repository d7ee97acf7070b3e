package google

import (
	"strconv"
	"strings"

	"wellbooks/internal/core"
)

var monthHeaders = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// maxTitleLen is the longest sheet title the Sheets API accepts.
const maxTitleLen = 100

// buildTrendGrid lays the trend out the way the Trends table shows it: one
// row per month, one column per year. Months without data are left blank.
func buildTrendGrid(acct core.Account, trend []core.TrendYear) [][]any {
	header := make([]any, 0, len(trend)+1)
	header = append(header, "Month")
	for _, ty := range trend {
		header = append(header, strconv.Itoa(ty.Year))
	}

	grid := make([][]any, 0, len(monthHeaders)+3)
	grid = append(grid, []any{"Account", acct.Name})
	grid = append(grid, header)

	for i, name := range monthHeaders {
		row := make([]any, 0, len(trend)+1)
		row = append(row, name)
		for _, ty := range trend {
			row = append(row, cellFor(ty, i+1))
		}
		grid = append(grid, row)
	}
	return grid
}

func cellFor(ty core.TrendYear, month int) any {
	for _, mb := range ty.MonthlyData {
		if mb.Month == month {
			return core.FormatAmount(mb.Amount)
		}
	}
	return ""
}

var titleReplacer = strings.NewReplacer("[", "(", "]", ")", "*", "", "?", "", "/", "-", "\\", "-", ":", "-")

// sheetTitle names an account's sheet; the account id keeps titles unique
// when two accounts share a name, so it survives any truncation. Lengths
// count runes.
func sheetTitle(prefix string, acct core.Account) string {
	id := []rune(titleReplacer.Replace(strings.TrimSpace(acct.ID)))
	if len(id) > 8 {
		id = id[:8]
	}
	suffix := string(id)

	head := []rune(strings.TrimSpace(titleReplacer.Replace(prefix + " " + strings.TrimSpace(acct.Name))))
	if budget := maxTitleLen - len(id) - 1; len(head) > budget {
		head = head[:budget]
	}
	return strings.TrimSpace(strings.TrimSpace(string(head)) + " " + suffix)
}

// a1Range quotes sheet for A1 notation.
func a1Range(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}
