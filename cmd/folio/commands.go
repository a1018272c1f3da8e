package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/subcommands"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/cycle"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- run ---

type runCmd struct {
	*env
	skipLedger bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run one portfolio construction cycle" }
func (*runCmd) Usage() string {
	return `folio run [-skip-ledger]

  Analyzes every configured sector, publishes the target allocation, its risk
  assessment and checks, trades the virtual ledger and writes the weekly summary,
  history snapshot and audit record. Prints the weekly summary.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.skipLedger, "skip-ledger", false, "publish the target without trading the ledger")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	summary, err := a.RunCycle(ctx, cycle.Options{SkipLedger: c.skipLedger})
	if err != nil {
		return c.fail(err)
	}
	if err := printJSON(c.out, summary); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

// --- schedule ---

type scheduleCmd struct {
	*env
	now bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "run cycles on the configured cron schedule" }
func (*scheduleCmd) Usage() string {
	return `folio schedule [-now]

  Runs the cycle on schedule.cron until interrupted.
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.now, "now", false, "run one cycle immediately before waiting for the schedule")
}

func (c *scheduleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	if c.now {
		// a failed first run leaves the schedule in place
		if _, err := a.RunCycle(ctx, cycle.Options{}); err != nil {
			a.Logger.Error().Err(err).Msg("Initial cycle failed")
		}
	}

	common.PrintBanner(c.errOut, a.Config, a.Logger)
	if err := a.StartScheduler(ctx); err != nil {
		return c.fail(err)
	}
	<-ctx.Done()
	common.PrintShutdownBanner(c.errOut, a.Logger)
	return subcommands.ExitSuccess
}

// --- sync ---

type syncCmd struct {
	*env
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "refresh cached series for every known symbol" }
func (*syncCmd) Usage() string {
	return `folio sync

  Resolves the published target, the configured universe, the symbols of
  persisted sector analytics and the benchmark, so the ledger can price them.
`
}

func (*syncCmd) SetFlags(*flag.FlagSet) {}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	var report *cycle.SyncReport
	err := a.WithRunLock(func() error {
		var err error
		report, err = a.Cycle.Sync(ctx)
		return err
	})
	if err != nil {
		return c.fail(err)
	}
	if err := printJSON(c.out, report); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

// --- risk ---

type riskCmd struct {
	*env
	strict bool
}

func (*riskCmd) Name() string     { return "risk" }
func (*riskCmd) Synopsis() string { return "evaluate the published target allocation" }
func (*riskCmd) Usage() string {
	return `folio risk [-strict]

  Prints the risk assessment and checks of the published target.
`
}

func (c *riskCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.strict, "strict", false, "exit 1 when a check fails or the status is RED")
}

func (c *riskCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	assessment, checks, err := a.Cycle.Risk()
	if err != nil {
		return c.fail(err)
	}
	out := struct {
		Risk   *models.RiskAssessment `json:"risk"`
		Checks *models.ChecksResult   `json:"checks"`
	}{assessment, checks}
	if err := printJSON(c.out, out); err != nil {
		return c.fail(err)
	}
	if c.strict && (!checks.OK || assessment.Status == models.RiskRed) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- init ---

type initCmd struct {
	*env
	cash float64
}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "create the virtual ledger" }
func (*initCmd) Usage() string {
	return `folio init [-cash amount]

  Creates the ledger with its baseline NAV row. An existing ledger is left untouched.
`
}

func (c *initCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.cash, "cash", -1, "initial cash (default: ledger.initial_cash)")
}

func (c *initCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	cash := a.Config.Ledger.InitialCash
	if c.cash >= 0 {
		cash = c.cash
	}
	asOf := common.DateString(time.Now().UTC())

	var created bool
	err := a.WithRunLock(func() error {
		var err error
		created, err = a.Ledger.Init(ctx, cash, asOf)
		return err
	})
	if err != nil {
		return c.fail(err)
	}
	if created {
		fmt.Fprintf(c.out, "Ledger created with cash %.2f as of %s\n", cash, asOf)
	} else {
		fmt.Fprintln(c.out, "Ledger already exists")
	}
	return subcommands.ExitSuccess
}

// --- mtm ---

type mtmCmd struct {
	*env
}

func (*mtmCmd) Name() string     { return "mtm" }
func (*mtmCmd) Synopsis() string { return "value the ledger at the latest cached prices" }
func (*mtmCmd) Usage() string {
	return `folio mtm

  Prints the current valuation of the ledger. Nothing is written.
`
}

func (*mtmCmd) SetFlags(*flag.FlagSet) {}

func (c *mtmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	valuation, err := a.Ledger.MarkToMarket(ctx, common.DateString(time.Now().UTC()))
	if err != nil {
		return c.fail(err)
	}
	if err := printJSON(c.out, valuation); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

// --- rebalance ---

type rebalanceCmd struct {
	*env
}

func (*rebalanceCmd) Name() string     { return "rebalance" }
func (*rebalanceCmd) Synopsis() string { return "trade the ledger towards the published target" }
func (*rebalanceCmd) Usage() string {
	return `folio rebalance

  Rebalances the ledger to the published target at the latest cached prices.
`
}

func (*rebalanceCmd) SetFlags(*flag.FlagSet) {}

func (c *rebalanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, ok := c.open()
	if !ok {
		return subcommands.ExitFailure
	}
	defer a.Close()

	var result *models.RebalanceResult
	err := a.WithRunLock(func() error {
		var err error
		result, err = a.Cycle.Rebalance(ctx)
		return err
	})
	if err != nil {
		return c.fail(err)
	}
	if err := printJSON(c.out, result); err != nil {
		return c.fail(err)
	}
	return subcommands.ExitSuccess
}

// --- version ---

type versionCmd struct {
	*env
}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "print version information" }
func (*versionCmd) Usage() string            { return "folio version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}

func (c *versionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(c.out, "folio %s\n", common.GetFullVersion())
	return subcommands.ExitSuccess
}
