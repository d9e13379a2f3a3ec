package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/example/migr/internal/config"
	"github.com/example/migr/internal/logging"
	"github.com/example/migr/internal/migration"
	"github.com/example/migr/internal/observability"
	"github.com/example/migr/internal/persistence"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `Usage: migr [global flags] <command> [flags]

Commands:
  status   Show the state of every migration
  setup    Create the metadata table and the initial migration
  sync     Register new migration directories (-trim drops stale rows)
  gen      Generate a new migration: gen [-force] <name>
  run      Apply pending migrations (default: all)
  rev      Revert applied migrations (default: 1)
  redo     Revert then re-apply migrations (default: 1)

Global flags:
`

// streams are the process stdio. in is only used for the interactive
// connection prompt and may be nil.
type streams struct {
	in  *os.File
	out io.Writer
	err io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}))
}

func run(ctx context.Context, args []string, stdio streams) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stdio.err, "failed to load configuration: %v\n", err)
		return exitError
	}

	global := flag.NewFlagSet("migr", flag.ContinueOnError)
	global.SetOutput(stdio.err)
	global.Usage = func() {
		fmt.Fprint(stdio.err, usage)
		global.PrintDefaults()
	}
	global.StringVar(&cfg.Path, "path", cfg.Path, "migrations directory (default: search for a 'migrations' directory)")
	global.IntVar(&cfg.SearchDepth, "depth", cfg.SearchDepth, "how many levels below the working directory to search for migrations")
	global.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "log migr plumbing")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if global.NArg() == 0 {
		global.Usage()
		return exitUsage
	}
	command, commandArgs := global.Arg(0), global.Args()[1:]

	logger, err := logging.New(stdio.err, logging.Options{
		Format:  cfg.LogFormat,
		Verbose: cfg.Verbose,
		NoColor: !cfg.Colored(isTerminal(stdio.err)),
	})
	if err != nil {
		fmt.Fprintf(stdio.err, "failed to configure logging: %v\n", err)
		return exitError
	}

	cmd, ok := commands[command]
	if !ok {
		fmt.Fprintf(stdio.err, "unknown command %q\n\n", command)
		global.Usage()
		return exitUsage
	}

	opts, err := cmd.parse(commandArgs, stdio.err)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stdio.err, "%s: %v\n", command, err)
		return exitUsage
	}

	metrics := observability.NewMetrics()
	defer func() {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}()

	if err := execute(ctx, cfg, command, cmd, opts, stdio, logger, metrics); err != nil {
		logger.Error(command+" failed", "error", err, "kind", migration.ErrorKind(err))
		return exitError
	}
	return exitOK
}

func execute(ctx context.Context, cfg config.Config, name string, cmd command, opts options, stdio streams, logger *slog.Logger, metrics *observability.Metrics) error {
	if cfg.DatabaseURL == "" && stdio.in != nil && config.IsTerminal(stdio.in) {
		url, err := config.PromptDatabaseURL(config.NewTerminalPrompter(stdio.in, stdio.out))
		if err != nil {
			return err
		}
		cfg.DatabaseURL = url
	}
	if err := cfg.RequireDatabaseURL(); err != nil {
		return err
	}

	root, err := migrationsRoot(cfg, cmd.createsRoot)
	if err != nil {
		return err
	}
	logger.Debug("using migrations directory", "path", root)

	conn, err := persistence.Open(ctx, cfg.Database())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("failed to close database", "error", cerr)
		}
	}()

	engine, err := migration.NewEngine(conn.Conn, migration.EngineConfig{
		Root:    root,
		Dialect: conn.Dialect,
		Logger:  logger,
		Metrics: metrics,
		Now:     time.Now,
	})
	if err != nil {
		return err
	}

	ctx = logging.ContextWithLogger(ctx, logger.With("command", name, "driver", conn.Dialect.Name()))
	return cmd.run(ctx, engine, opts, stdio.out)
}

// migrationsRoot resolves the migrations directory. Commands that create
// it default to ./migrations instead of searching.
func migrationsRoot(cfg config.Config, createsRoot bool) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	if createsRoot {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, config.MigrationsDirName), nil
	}
	return config.ResolveMigrationsDir("", cfg.SearchDepth)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && config.IsTerminal(f)
}

func printStatus(w io.Writer, entries []migration.StatusEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tMIGRATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", statusLabel(e), e.ID)
	}
	return tw.Flush()
}

func statusLabel(e migration.StatusEntry) string {
	switch {
	case !e.InMetadata:
		return "unsynced"
	case !e.OnDisk:
		return "orphaned"
	case e.Pending:
		return "pending"
	default:
		return "applied"
	}
}
