package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wellbooks/internal/amqp"
	"wellbooks/internal/core"
	"wellbooks/internal/log"
	"wellbooks/internal/ports"
	"wellbooks/internal/sheets"
)

// TrendSource computes an account's month-end balance series.
type TrendSource interface {
	Trend(ctx context.Context, accountID string, years int, now time.Time) ([]core.TrendYear, error)
}

// ExportWorker copies account trends to the spreadsheet after each snapshot run.
type ExportWorker struct {
	accounts ports.AccountStore
	trends   TrendSource
	exporter sheets.TrendExporter
	years    int
	now      func() time.Time
}

func NewExportWorker(accounts ports.AccountStore, trends TrendSource, exporter sheets.TrendExporter, years int) *ExportWorker {
	return &ExportWorker{
		accounts: accounts,
		trends:   trends,
		exporter: exporter,
		years:    years,
		now:      time.Now,
	}
}

// ExportResult counts the accounts handled by one export pass.
type ExportResult struct {
	Exported int
	Skipped  int
	Failures []core.AccountFailure
}

// HandleSnapshotsGenerated processes a generator run message from AMQP.
// Per-account failures are logged and the message is still acknowledged; the
// next run exports them again.
func (w *ExportWorker) HandleSnapshotsGenerated(ctx context.Context, msg *amqp.SnapshotsGeneratedMessage) error {
	slog.InfoContext(ctx, "Exporting trends after snapshot run",
		"snapshot_date", msg.SnapshotDate.String(),
		"created", msg.Created,
		"existing", msg.Existing,
		"failed", msg.Failed)

	_, err := w.ExportAll(ctx)
	var partial *core.PartialBatchError
	if errors.As(err, &partial) {
		return nil
	}
	return err
}

// ExportAll exports the trend of every active account. When some accounts
// fail the others are still exported and a *core.PartialBatchError is returned.
func (w *ExportWorker) ExportAll(ctx context.Context) (ExportResult, error) {
	var result ExportResult

	accounts, err := w.accounts.ListAccounts(ctx)
	if err != nil {
		return result, fmt.Errorf("list accounts: %w", err)
	}

	now := w.now()
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if acct.Status == core.Inactive {
			result.Skipped++
			continue
		}
		if err := w.exportAccount(ctx, acct, now); err != nil {
			slog.ErrorContext(ctx, "Failed to export trend",
				log.NewFields().WithAccount(acct.ID).WithOperation(log.OpExport).WithError(err).ToSlice()...)
			result.Failures = append(result.Failures, core.AccountFailure{AccountID: acct.ID, Err: err})
			continue
		}
		result.Exported++
	}

	slog.InfoContext(ctx, "Trend export completed",
		"accounts", len(accounts),
		"exported", result.Exported,
		"skipped", result.Skipped,
		"failed", len(result.Failures))

	if len(result.Failures) > 0 {
		return result, &core.PartialBatchError{
			Attempted: len(accounts) - result.Skipped,
			Failures:  result.Failures,
		}
	}
	return result, nil
}

func (w *ExportWorker) exportAccount(ctx context.Context, acct core.Account, now time.Time) error {
	trend, err := w.trends.Trend(ctx, acct.ID, w.years, now)
	if err != nil {
		return fmt.Errorf("compute trend: %w", err)
	}
	if err := w.exporter.ExportTrend(ctx, acct, trend); err != nil {
		return fmt.Errorf("export to sheets: %w", err)
	}

	slog.DebugContext(ctx, "Exported trend",
		"account_id", acct.ID,
		"years", w.years)
	return nil
}
