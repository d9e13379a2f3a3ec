package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/example/migr/internal/migration"
)

// options are the parsed per-command flags.
type options struct {
	selection migration.Selection
	trim      bool
	force     bool
	name      string
}

type command struct {
	createsRoot bool
	parse       func(args []string, stderr io.Writer) (options, error)
	run         func(ctx context.Context, engine *migration.Engine, opts options, out io.Writer) error
}

var commands = map[string]command{
	"status": {
		parse: noFlags("status"),
		run: func(ctx context.Context, engine *migration.Engine, _ options, out io.Writer) error {
			entries, err := engine.Status(ctx)
			if err != nil {
				return err
			}
			return printStatus(out, entries)
		},
	},
	"setup": {
		createsRoot: true,
		parse:       noFlags("setup"),
		run: func(ctx context.Context, engine *migration.Engine, _ options, _ io.Writer) error {
			return engine.Setup(ctx)
		},
	},
	"sync": {
		parse: func(args []string, stderr io.Writer) (options, error) {
			var opts options
			fs := newFlagSet("sync", stderr)
			fs.BoolVar(&opts.trim, "trim", false, "delete metadata rows whose migration directory no longer exists")
			return opts, parseNoArgs(fs, args)
		},
		run: func(ctx context.Context, engine *migration.Engine, opts options, _ io.Writer) error {
			_, err := engine.Sync(ctx, opts.trim)
			return err
		},
	},
	"gen": {
		parse: func(args []string, stderr io.Writer) (options, error) {
			var opts options
			fs := newFlagSet("gen", stderr)
			fs.BoolVar(&opts.force, "force", false, "create the initial migration when it is missing")
			if err := fs.Parse(args); err != nil {
				return opts, err
			}
			if fs.NArg() != 1 {
				return opts, errors.New("expected exactly one migration name")
			}
			opts.name = fs.Arg(0)
			return opts, nil
		},
		run: func(ctx context.Context, engine *migration.Engine, opts options, out io.Writer) error {
			m, err := engine.Generate(ctx, opts.name, opts.force)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, m.Dir)
			return nil
		},
	},
	"run":  selectionCommand("run", (*migration.Engine).Run),
	"rev":  selectionCommand("rev", (*migration.Engine).Revert),
	"redo": selectionCommand("redo", (*migration.Engine).Redo),
}

func selectionCommand(name string, op func(*migration.Engine, context.Context, migration.Selection) (int, error)) command {
	return command{
		parse: func(args []string, stderr io.Writer) (options, error) {
			var opts options
			fs := newFlagSet(name, stderr)
			fs.StringVar(&opts.selection.Exact, "exact", "", "execute exactly this migration, ignoring its pending flag")
			fs.IntVar(&opts.selection.Count, "count", 0, "number of migrations to execute")
			fs.BoolVar(&opts.selection.All, "all", false, "execute every eligible migration")
			return opts, parseNoArgs(fs, args)
		},
		run: func(ctx context.Context, engine *migration.Engine, opts options, _ io.Writer) error {
			_, err := op(engine, ctx, opts.selection)
			return err
		},
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func noFlags(name string) func([]string, io.Writer) (options, error) {
	return func(args []string, stderr io.Writer) (options, error) {
		return options{}, parseNoArgs(newFlagSet(name, stderr), args)
	}
}

func parseNoArgs(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	return nil
}
