package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wellbooks/internal/core"
	"wellbooks/internal/log"
	"wellbooks/internal/ports"
)

const (
	defaultSnapshotConcurrency = 4
	maxSnapshotAttempts        = 3
)

// RunLocker keeps two generator processes from working the same target date.
// Holding it is an optimisation only: inserts are idempotent either way.
type RunLocker interface {
	TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

// RunResult summarizes one generator run.
type RunResult struct {
	SnapshotDate core.Date
	Accounts     int
	Created      int
	Existing     int
	Skipped      int
	Failures     []core.AccountFailure
	// Locked is set when another process held the run lock and nothing was done.
	Locked bool
}

// Processed is the number of accounts that have a snapshot at SnapshotDate after the run.
func (r RunResult) Processed() int {
	return r.Created + r.Existing
}

type snapshotOutcome int

const (
	outcomeCreated snapshotOutcome = iota
	outcomeExisting
	outcomeSkipped
)

// SnapshotGenerator checkpoints every account's balance at the end of the
// month preceding the run time.
type SnapshotGenerator struct {
	accounts    ports.AccountStore
	ledger      ports.LedgerStore
	snapshots   ports.SnapshotStore
	publisher   EventPublisher
	locker      RunLocker
	concurrency int
}

type GeneratorOption func(*SnapshotGenerator)

// WithConcurrency bounds how many accounts are processed at once.
func WithConcurrency(n int) GeneratorOption {
	return func(g *SnapshotGenerator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithPublisher announces completed runs.
func WithPublisher(p EventPublisher) GeneratorOption {
	return func(g *SnapshotGenerator) { g.publisher = p }
}

// WithRunLock skips runs whose target date is being worked elsewhere.
func WithRunLock(l RunLocker) GeneratorOption {
	return func(g *SnapshotGenerator) { g.locker = l }
}

// NewSnapshotGenerator creates a new snapshot generator
func NewSnapshotGenerator(accounts ports.AccountStore, ledger ports.LedgerStore, snapshots ports.SnapshotStore, opts ...GeneratorOption) *SnapshotGenerator {
	g := &SnapshotGenerator{
		accounts:    accounts,
		ledger:      ledger,
		snapshots:   snapshots,
		concurrency: defaultSnapshotConcurrency,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run snapshots every account at the last day of the month before now. A
// failing account does not stop the others; when any fail, the result is
// returned together with a *core.PartialBatchError.
func (g *SnapshotGenerator) Run(ctx context.Context, now time.Time) (RunResult, error) {
	if g.accounts == nil || g.ledger == nil || g.snapshots == nil {
		return RunResult{}, fmt.Errorf("generator not properly initialized")
	}

	target := core.PreviousMonthEnd(now)
	result := RunResult{SnapshotDate: target}

	if g.locker != nil {
		release, acquired, err := g.locker.TryAcquire(ctx, "snapshots:"+target.String())
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Run lock unavailable, continuing without it",
				"snapshot_date", target.String(),
				"error", err)
		case !acquired:
			slog.InfoContext(ctx, "Snapshot run already in progress elsewhere, skipping",
				"snapshot_date", target.String())
			result.Locked = true
			return result, nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					slog.WarnContext(ctx, "Failed to release run lock", "error", err)
				}
			}()
		}
	}

	accounts, err := g.accounts.ListAccounts(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list accounts: %w", err)
	}
	result.Accounts = len(accounts)

	slog.InfoContext(ctx, "Generating balance snapshots",
		"accounts", len(accounts),
		"snapshot_date", target.String(),
		"run_time", now.UTC().Format(time.RFC3339))

	var (
		mu  sync.Mutex
		grp errgroup.Group
	)
	grp.SetLimit(g.concurrency)

	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		accountID := acct.ID
		grp.Go(func() error {
			outcome, err := g.snapshotAccount(ctx, accountID, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fields := log.NewFields().WithAccount(accountID).WithOperation(log.OpSnapshot).WithError(err)
				fields[log.FieldSnapshotDate] = target.String()
				slog.ErrorContext(ctx, "Failed to snapshot account", fields.ToSlice()...)
				result.Failures = append(result.Failures, core.AccountFailure{AccountID: accountID, Err: err})
				return nil
			}
			switch outcome {
			case outcomeCreated:
				result.Created++
			case outcomeExisting:
				result.Existing++
			case outcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	_ = grp.Wait()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("snapshot run interrupted: %w", err)
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].AccountID < result.Failures[j].AccountID
	})

	slog.InfoContext(ctx, "Balance snapshot run complete",
		"snapshot_date", target.String(),
		"processed", result.Processed(),
		"created", result.Created,
		"existing", result.Existing,
		"skipped", result.Skipped,
		"failed", len(result.Failures))

	if g.publisher != nil {
		if err := g.publisher.PublishSnapshotsGenerated(ctx, target, result.Created, result.Existing, len(result.Failures)); err != nil {
			slog.ErrorContext(ctx, "Failed to publish snapshot run message",
				"snapshot_date", target.String(),
				"error", err)
		}
	}

	if len(result.Failures) > 0 {
		return result, &core.PartialBatchError{
			Attempted: result.Accounts,
			Failures:  result.Failures,
		}
	}
	return result, nil
}

// snapshotAccount writes the target snapshot for one account. The account is
// re-read on every attempt so the revision guard sees the latest ledger.
func (g *SnapshotGenerator) snapshotAccount(ctx context.Context, accountID string, target core.Date) (snapshotOutcome, error) {
	for attempt := 1; ; attempt++ {
		acct, err := g.accounts.GetAccount(ctx, accountID)
		if err != nil {
			return 0, fmt.Errorf("get account: %w", err)
		}
		if acct.CreatedOn().After(target) {
			return outcomeSkipped, nil
		}

		balance, base, err := balanceThrough(ctx, g.snapshots, g.ledger, acct, target)
		if err != nil {
			return 0, err
		}
		if base.FromSnapshot && base.Date.Equal(target) {
			return outcomeExisting, nil
		}

		created, err := g.snapshots.CreateSnapshotIfAbsent(ctx, core.BalanceSnapshot{
			AccountID:    acct.ID,
			SnapshotDate: target,
			Balance:      balance,
		}, acct.Revision)
		if errors.Is(err, core.ErrConflict) && attempt < maxSnapshotAttempts {
			slog.DebugContext(ctx, "Ledger changed during snapshot, retrying",
				"account_id", acct.ID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("create snapshot: %w", err)
		}
		if !created {
			return outcomeExisting, nil
		}

		fields := log.NewFields().WithSnapshot(acct.ID, target.String(), core.FormatAmount(balance))
		fields["from_snapshot"] = base.FromSnapshot
		slog.DebugContext(ctx, "Created balance snapshot", fields.ToSlice()...)
		return outcomeCreated, nil
	}
}
