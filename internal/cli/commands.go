package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"wellbooks/internal/core"
	"wellbooks/internal/ports"
	"wellbooks/internal/services"
)

// ErrUsage is returned for unknown commands and bad flags. The usage text has
// already been written to the error stream.
var ErrUsage = errors.New("usage error")

const usage = `Usage: wellbooks-cli <command> [flags]

Commands:
  accounts list [-type TYPE] [-status active|inactive] [-bank NAME]
  accounts create -name NAME [-type checking] [-balance 0] [-created YYYY-MM-DD] [-id ID]
  tx record -account ID -amount AMOUNT [-at YYYY-MM-DD|RFC3339] [-description TEXT]
  tx list -account ID [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-property ID] [-company ID]
  balance -account ID [-as-of YYYY-MM-DD]
  total [-as-of YYYY-MM-DD] [-type TYPE] [-status active|inactive] [-bank NAME]
  trend -account ID [-years 3]
  snapshots run [-now YYYY-MM-DD|RFC3339]
  snapshots list -account ID
  reconcile [-account ID]
`

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
)

// App runs wellbooks-cli commands against a store.
type App struct {
	Store     ports.Store
	Publisher services.EventPublisher
	Out       io.Writer
	Err       io.Writer
	Now       func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) ledger() *services.LedgerService {
	return services.NewLedgerService(a.Store, a.Publisher).WithClock(a.now)
}

func (a *App) resolver() *services.BalanceResolver {
	return services.NewBalanceResolver(a.Store, a.Store, a.Store)
}

// Run executes the command named by args.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.usage("")
	}

	switch args[0] {
	case "accounts":
		return a.sub(ctx, args, map[string]func(context.Context, []string) error{
			"list":   a.listAccounts,
			"create": a.createAccount,
		})
	case "tx":
		return a.sub(ctx, args, map[string]func(context.Context, []string) error{
			"record": a.recordTransaction,
			"list":   a.listTransactions,
		})
	case "snapshots":
		return a.sub(ctx, args, map[string]func(context.Context, []string) error{
			"run":  a.runSnapshots,
			"list": a.listSnapshots,
		})
	case "balance":
		return a.balance(ctx, args[1:])
	case "total":
		return a.total(ctx, args[1:])
	case "trend":
		return a.trend(ctx, args[1:])
	case "reconcile":
		return a.reconcile(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(a.Out, usage)
		return nil
	default:
		return a.usage("unknown command: " + args[0])
	}
}

func (a *App) sub(ctx context.Context, args []string, cmds map[string]func(context.Context, []string) error) error {
	if len(args) < 2 {
		return a.usage(args[0] + " needs a subcommand")
	}
	cmd, ok := cmds[args[1]]
	if !ok {
		return a.usage(fmt.Sprintf("unknown %s subcommand: %s", args[0], args[1]))
	}
	return cmd(ctx, args[2:])
}

func (a *App) usage(msg string) error {
	if msg != "" {
		errColor.Fprintln(a.Err, msg)
	}
	fmt.Fprint(a.Err, usage)
	return ErrUsage
}

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Err)
	return fs
}

func (a *App) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return ErrUsage
	}
	return nil
}

// accountFilterFlags registers the flags shared by commands that select accounts.
func accountFilterFlags(fs *flag.FlagSet) func() core.AccountFilter {
	accountType := fs.String("type", "", "account type")
	status := fs.String("status", "", "active or inactive")
	bank := fs.String("bank", "", "bank name")
	return func() core.AccountFilter {
		return core.AccountFilter{
			Type:     core.AccountType(strings.ToLower(*accountType)),
			Status:   core.AccountStatus(strings.ToLower(*status)),
			BankName: *bank,
		}
	}
}

func (a *App) listAccounts(ctx context.Context, args []string) error {
	fs := a.flags("accounts list")
	filter := accountFilterFlags(fs)
	if err := a.parse(fs, args); err != nil {
		return err
	}

	accounts, err := a.ledger().ListAccounts(ctx, filter())
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		warnColor.Fprintln(a.Out, "no accounts")
		return nil
	}
	headerColor.Fprintf(a.Out, "%-36s  %-24s  %-10s  %-8s  %12s\n", "ID", "NAME", "TYPE", "STATUS", "INITIAL")
	for _, acct := range accounts {
		fmt.Fprintf(a.Out, "%-36s  %-24s  %-10s  %-8s  %12s\n",
			acct.ID, acct.Name, acct.AccountType, acct.Status, core.FormatAmount(acct.InitialBalance))
	}
	return nil
}

func (a *App) createAccount(ctx context.Context, args []string) error {
	fs := a.flags("accounts create")
	id := fs.String("id", "", "account id (generated when empty)")
	name := fs.String("name", "", "account name")
	accountType := fs.String("type", string(core.Checking), "checking, savings, investment, credit or other")
	balance := fs.String("balance", "0", "initial balance")
	created := fs.String("created", "", "creation date, YYYY-MM-DD or RFC 3339 (default now)")
	bank := fs.String("bank", "", "bank name")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	initial, err := core.ParseBalance(*balance)
	if err != nil {
		return err
	}
	createdAt, err := parseInstant(*created)
	if err != nil {
		return err
	}

	acct, err := a.ledger().CreateAccount(ctx, core.Account{
		ID:             *id,
		Name:           *name,
		AccountType:    core.AccountType(strings.ToLower(*accountType)),
		BankName:       *bank,
		InitialBalance: initial,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return err
	}
	okColor.Fprintf(a.Out, "created account %s (%s) with balance %s\n",
		acct.ID, acct.Name, core.FormatAmount(acct.InitialBalance))
	return nil
}

func (a *App) recordTransaction(ctx context.Context, args []string) error {
	fs := a.flags("tx record")
	accountID := fs.String("account", "", "account id")
	amount := fs.String("amount", "", "signed amount")
	at := fs.String("at", "", "event time, YYYY-MM-DD or RFC 3339 (default now)")
	description := fs.String("description", "", "description")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *amount == "" {
		return fmt.Errorf("%w: -amount is required", core.ErrInvalidAmount)
	}

	value, err := core.ParseBalance(*amount)
	if err != nil {
		return err
	}
	ts, err := parseInstant(*at)
	if err != nil {
		return err
	}

	tx, invalidated, err := a.ledger().RecordTransaction(ctx, core.Transaction{
		AccountID:   *accountID,
		Amount:      value,
		Timestamp:   ts,
		Description: *description,
	})
	if err != nil {
		return err
	}
	okColor.Fprintf(a.Out, "recorded %s on %s for account %s\n",
		core.FormatAmount(tx.Amount), tx.Timestamp.Format(time.RFC3339), tx.AccountID)
	if invalidated > 0 {
		warnColor.Fprintf(a.Out, "invalidated %d snapshot(s)\n", invalidated)
	}
	return nil
}

func (a *App) listTransactions(ctx context.Context, args []string) error {
	fs := a.flags("tx list")
	accountID := fs.String("account", "", "account id")
	from := fs.String("from", "", "first day, YYYY-MM-DD")
	to := fs.String("to", "", "last day, YYYY-MM-DD")
	property := fs.String("property", "", "property id")
	company := fs.String("company", "", "company id")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	var days [2]core.Date
	for i, v := range []string{*from, *to} {
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return err
		}
		days[i] = d
	}
	lo, hi, err := core.DayRange(days[0], days[1])
	if err != nil {
		return err
	}

	txs, err := a.ledger().ListTransactions(ctx, *accountID, core.TransactionFilter{
		From:       lo,
		To:         hi,
		PropertyID: *property,
		CompanyID:  *company,
	})
	if err != nil {
		return err
	}
	headerColor.Fprintf(a.Out, "%-20s  %12s  %s\n", "TIMESTAMP", "AMOUNT", "DESCRIPTION")
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
		fmt.Fprintf(a.Out, "%-20s  %12s  %s\n",
			tx.Timestamp.Format(time.RFC3339), core.FormatAmount(tx.Amount), tx.Description)
	}
	fmt.Fprintf(a.Out, "%-20s  %12s\n", fmt.Sprintf("%d entries", len(txs)), core.FormatAmount(total))
	return nil
}

func (a *App) balance(ctx context.Context, args []string) error {
	fs := a.flags("balance")
	accountID := fs.String("account", "", "account id")
	asOf := fs.String("as-of", "", "date, YYYY-MM-DD (default today)")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	date := core.DateOf(a.now())
	if *asOf != "" {
		d, err := core.ParseDate(*asOf)
		if err != nil {
			return err
		}
		date = d
	}

	balance, err := a.resolver().BalanceAsOf(ctx, *accountID, date)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s balance as of %s: ", *accountID, date)
	okColor.Fprintln(a.Out, core.FormatAmount(balance))
	return nil
}

func (a *App) total(ctx context.Context, args []string) error {
	fs := a.flags("total")
	asOf := fs.String("as-of", "", "date, YYYY-MM-DD (default today)")
	filter := accountFilterFlags(fs)
	if err := a.parse(fs, args); err != nil {
		return err
	}

	date := core.DateOf(a.now())
	if *asOf != "" {
		d, err := core.ParseDate(*asOf)
		if err != nil {
			return err
		}
		date = d
	}

	total, err := a.resolver().TotalBalanceAsOf(ctx, date, filter())
	if err != nil {
		return err
	}
	for _, ab := range total.Accounts {
		fmt.Fprintf(a.Out, "%-36s  %12s\n", ab.AccountID, core.FormatAmount(ab.Balance))
	}
	fmt.Fprintf(a.Out, "total of %d account(s) as of %s: ", len(total.Accounts), date)
	okColor.Fprintln(a.Out, core.FormatAmount(total.Total))
	return nil
}

func (a *App) trend(ctx context.Context, args []string) error {
	fs := a.flags("trend")
	accountID := fs.String("account", "", "account id")
	years := fs.Int("years", core.DefaultTrendYears, "look-back period: 1, 2, 3 or 5")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	trend, err := services.NewTrendAggregator(a.Store, a.resolver()).Trend(ctx, *accountID, *years, a.now())
	if err != nil {
		return err
	}
	for _, ty := range trend {
		headerColor.Fprintf(a.Out, "%d\n", ty.Year)
		for _, mb := range ty.MonthlyData {
			fmt.Fprintf(a.Out, "  %-9s %12s\n", time.Month(mb.Month), core.FormatAmount(mb.Amount))
		}
	}
	return nil
}

func (a *App) runSnapshots(ctx context.Context, args []string) error {
	fs := a.flags("snapshots run")
	at := fs.String("now", "", "run time, YYYY-MM-DD or RFC 3339 (default now)")
	concurrency := fs.Int("concurrency", 4, "accounts processed in parallel")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	now := a.now()
	if *at != "" {
		t, err := parseInstant(*at)
		if err != nil {
			return err
		}
		now = t
	}

	generator := services.NewSnapshotGenerator(a.Store, a.Store, a.Store,
		services.WithConcurrency(*concurrency),
		services.WithPublisher(a.Publisher))
	res, err := generator.Run(ctx, now)
	var partial *core.PartialBatchError
	if err != nil && !errors.As(err, &partial) {
		return err
	}

	okColor.Fprintf(a.Out, "snapshot date %s: %d created, %d existing, %d skipped\n",
		res.SnapshotDate, res.Created, res.Existing, res.Skipped)
	for _, f := range res.Failures {
		errColor.Fprintf(a.Out, "  %s: %v\n", f.AccountID, f.Err)
	}
	return err
}

func (a *App) listSnapshots(ctx context.Context, args []string) error {
	fs := a.flags("snapshots list")
	accountID := fs.String("account", "", "account id")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	snaps, err := a.ledger().ListSnapshots(ctx, *accountID)
	if err != nil {
		return err
	}
	headerColor.Fprintf(a.Out, "%-10s  %12s\n", "DATE", "BALANCE")
	for _, s := range snaps {
		fmt.Fprintf(a.Out, "%-10s  %12s\n", s.SnapshotDate, core.FormatAmount(s.Balance))
	}
	return nil
}

func (a *App) reconcile(ctx context.Context, args []string) error {
	fs := a.flags("reconcile")
	accountID := fs.String("account", "", "account id (default all)")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	reconciler := services.NewReconciler(a.Store, a.Store, a.Store, 4)
	var (
		reports []core.ReconcileReport
		err     error
	)
	if *accountID != "" {
		var report core.ReconcileReport
		report, err = reconciler.Reconcile(ctx, *accountID)
		if err == nil {
			reports = []core.ReconcileReport{report}
		}
	} else {
		reports, err = reconciler.ReconcileAll(ctx)
	}
	var partial *core.PartialBatchError
	if err != nil && !errors.As(err, &partial) {
		return err
	}

	for _, report := range reports {
		if report.Consistent() {
			okColor.Fprintf(a.Out, "%s: %d snapshot(s) consistent\n", report.AccountID, report.Checked)
			continue
		}
		for _, d := range report.Drifts {
			warnColor.Fprintf(a.Out, "%s: snapshot %s stored %s, ledger says %s\n",
				report.AccountID, d.SnapshotDate, core.FormatAmount(d.Stored), core.FormatAmount(d.Expected))
		}
	}
	return err
}

// parseInstant accepts RFC 3339 or a bare date meaning midnight UTC. Empty
// input yields the zero time.
func parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time, nil
}
