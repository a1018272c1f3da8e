package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // schedule.timezone must resolve on hosts without zoneinfo

	"github.com/google/subcommands"

	"github.com/bobmcallan/folio/internal/app"
	"github.com/bobmcallan/folio/internal/common"
)

// env is shared by every subcommand.
type env struct {
	configPath string
	out        io.Writer
	errOut     io.Writer
}

func main() {
	e := &env{out: os.Stdout, errOut: os.Stderr}
	flag.StringVar(&e.configPath, "config", "", "path to folio.toml (default: $FOLIO_CONFIG, then next to the binary, then config/folio.toml)")

	commander := newCommander(flag.CommandLine, e)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := int(commander.Execute(ctx))
	stop()
	os.Exit(code)
}

func newCommander(fs *flag.FlagSet, e *env) *subcommands.Commander {
	commander := subcommands.NewCommander(fs, "folio")
	commander.Output = e.out
	commander.Error = e.errOut

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&runCmd{env: e}, "cycle")
	commander.Register(&scheduleCmd{env: e}, "cycle")
	commander.Register(&syncCmd{env: e}, "cycle")
	commander.Register(&riskCmd{env: e}, "portfolio")
	commander.Register(&initCmd{env: e}, "ledger")
	commander.Register(&mtmCmd{env: e}, "ledger")
	commander.Register(&rebalanceCmd{env: e}, "ledger")
	commander.Register(&versionCmd{env: e}, "")
	return commander
}

// open builds the application. Any failure, an invalid configuration included,
// is reported and maps to exit status 1.
func (e *env) open() (*app.App, bool) {
	a, err := app.NewApp(e.configPath)
	if err != nil {
		if common.IsConfigInvalid(err) {
			fmt.Fprintf(e.errOut, "Invalid configuration: %v\n", err)
		} else {
			fmt.Fprintf(e.errOut, "Failed to initialize app: %v\n", err)
		}
		return nil, false
	}
	return a, true
}

func (e *env) fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(e.errOut, "Error: %v\n", err)
	return subcommands.ExitFailure
}
