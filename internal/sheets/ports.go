package sheets

import (
	"context"

	"wellbooks/internal/core"
)

// Ports for outbound adapters.
type (
	// TrendExporter publishes an account's month-end balance series to a
	// spreadsheet, replacing whatever was exported before.
	TrendExporter interface {
		ExportTrend(ctx context.Context, acct core.Account, trend []core.TrendYear) error
	}
)
