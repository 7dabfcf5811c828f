package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "texttest"

// Filter options keep their single-dash spelling, e.g. -ts or -grepfile.
var filterFlags = []cli.Flag{
	&cli.StringFlag{Name: "t", Usage: "Select tests whose name contains any of the comma-separated texts"},
	&cli.StringFlag{Name: "ts", Usage: "Select tests in suites whose path contains any of the comma-separated texts"},
	&cli.StringFlag{Name: "tp", Usage: "Select tests by their exact path relative to the suite root"},
	&cli.StringFlag{Name: "desc", Usage: "Select tests whose description contains the text"},
	&cli.StringFlag{Name: "a", Usage: "Select the applications whose name contains any of the texts"},
	&cli.StringFlag{Name: "grep", Usage: "Select tests whose log file contains the text"},
	&cli.StringFlag{Name: "grepfile", Usage: "Stem of the file searched by -grep (default: config log_file)"},
	&cli.StringFlag{Name: "r", Usage: "Select tests by CPU time in minutes, e.g. '<5' or '1,3'"},
	&cli.StringFlag{Name: "f", Usage: "Select the tests listed in the filter files"},
	&cli.StringFlag{Name: "fintersect", Usage: "Select the tests listed in all of the filter files"},
	&cli.StringFlag{Name: "funion", Usage: "Select the tests listed in any of the filter files"},
	&cli.StringFlag{Name: "finverse", Usage: "Select the tests not listed in the filter file"},
	&cli.StringFlag{Name: "b", Usage: "Batch session; applies its batch_filter_file and batch_timelimit and tags the run"},
}

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run text-based acceptance tests locally or in LSF",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run the selected tests and compare their output with the standard files",
		Action: app.run,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "app",
				Usage:    "Application to test; selects config.<app>.yaml and testsuite.<app>",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Root directory of the test suite",
				Value: ".",
			},
			&cli.StringSliceFlag{
				Name:  "versions",
				Usage: "Active versions, selecting version-specific standard files",
			},
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Run tests as local processes instead of submitting them to LSF",
			},
			&cli.StringFlag{
				Name:  "queue",
				Usage: "LSF queue to submit to (default: config lsf_queue)",
			},
			&cli.StringFlag{
				Name:  "resource",
				Usage: "LSF resource requirement added to every submission",
			},
			&cli.BoolFlag{
				Name:  "perf",
				Usage: "Restrict LSF jobs to the configured performance test machines",
			},
			&cli.StringFlag{
				Name:  "submit-host",
				Usage: "SSH host to run LSF commands on",
			},
			&cli.StringFlag{
				Name:  "ssh-identity",
				Usage: "Private key for the connection to the submit host",
			},
			&cli.StringFlag{
				Name:  "ssh-known-hosts",
				Usage: "Known hosts file for the connection to the submit host",
			},
			&cli.StringFlag{
				Name:  "ssh-proxy",
				Usage: "Proxy command for the connection to the submit host",
			},
			&cli.StringSliceFlag{
				Name:  "ssh-option",
				Usage: "Extra ssh -o option for the connection to the submit host",
			},
			&cli.StringFlag{
				Name:  "reconnect",
				Usage: "Write directory of a previous run to evaluate again instead of running tests",
			},
			&cli.BoolFlag{
				Name:  "collect",
				Usage: "Collect the latest results of the batch session given with -b instead of running tests",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write run metrics in Prometheus text format to this file",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only list the selected tests",
			},
		}, filterFlags...),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "app",
				Aliases: []string{"p"},
				Usage:   "Filter by application name",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View the test results of a previous run",
		ArgsUsage:       "[ID|INDEX] [--] [TEST_PATH...]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View the test results of a previous run.

Arguments:
  0           View last run (default)
  -1          View 2nd last run
  -2          View 3rd last run
  <hex-id>    View run matching the hex ID prefix

Test paths after the run select tests whose details are shown in full.

Examples:
  texttest view                   # Summary of the last run
  texttest view -1                # Summary of the 2nd last run
  texttest view abc123 suite/t1   # Details of suite/t1 in run abc123
  texttest view -- suite/t1       # Details of suite/t1 in the last run`,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
