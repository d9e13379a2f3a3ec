package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/example/migr/internal/logging"
	"github.com/example/migr/internal/observability"
	"github.com/example/migr/internal/persistence"
)

// EngineConfig wires an Engine to its collaborators. Only Root and Dialect
// are required.
type EngineConfig struct {
	Root    string
	Dialect persistence.Dialect
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Engine applies and reverts migrations found under one directory against a
// single database session.
type Engine struct {
	conn    Conn
	repo    *Repository
	store   *Store
	dialect persistence.Dialect
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	runID   string
}

// NewEngine creates an Engine driving conn.
func NewEngine(conn Conn, cfg EngineConfig) (*Engine, error) {
	if conn == nil {
		return nil, errors.New("engine requires a database connection")
	}
	if cfg.Root == "" {
		return nil, errors.New("engine requires a migrations directory")
	}
	if cfg.Dialect == nil {
		return nil, errors.New("engine requires a SQL dialect")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		conn:    conn,
		repo:    NewRepository(cfg.Root),
		store:   NewStore(cfg.Dialect),
		dialect: cfg.Dialect,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     now,
		runID:   uuid.NewString(),
	}, nil
}

// RunID identifies this engine instance in logs.
func (e *Engine) RunID() string {
	return e.runID
}

// Repository exposes the on-disk view of migrations.
func (e *Engine) Repository() *Repository {
	return e.repo
}

func (e *Engine) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Component(ctx, e.logger, "migration", operation, append([]any{"run_id", e.runID}, attrs...)...)
}

// fail records err in metrics and returns it unchanged.
func (e *Engine) fail(err error) error {
	if err != nil {
		e.metrics.IncFailure(ErrorKind(err))
	}
	return err
}

// Setup creates the metadata table, seeds the reserved initial row and
// scaffolds the initial migration directory.
func (e *Engine) Setup(ctx context.Context) error {
	logger := e.log(ctx, "setup")
	txCtx := context.WithoutCancel(ctx)

	tx, err := e.conn.BeginTx(txCtx, nil)
	if err != nil {
		return e.fail(NewDatabaseError("", "begin transaction", err))
	}

	if err := e.store.EnsureSchema(txCtx, tx); err != nil {
		return e.fail(rollback(tx, err))
	}
	if err := e.scaffoldInitial(); err != nil {
		return e.fail(rollback(tx, err))
	}
	if err := tx.Commit(); err != nil {
		return e.fail(NewDatabaseError("", "commit transaction", err))
	}

	logger.Info("metadata table created", "table", MetaTable, "initial", InitialID)
	return nil
}

// Run applies pending migrations in ascending order. The default selection
// applies all of them.
func (e *Engine) Run(ctx context.Context, sel Selection) (int, error) {
	n, err := e.migrate(ctx, Up, sel, -1)
	return n, e.fail(err)
}

// Revert reverts applied migrations in descending order. The default
// selection reverts the most recent one.
func (e *Engine) Revert(ctx context.Context, sel Selection) (int, error) {
	n, err := e.migrate(ctx, Down, sel, 1)
	return n, e.fail(err)
}

// Redo reverts migrations and then reapplies exactly the ones it reverted,
// as two separate operations. The default selection redoes the most recent
// applied migration. The returned count covers both phases.
func (e *Engine) Redo(ctx context.Context, sel Selection) (int, error) {
	downLogger := e.log(ctx, Down.String(), "redo", true)
	plan, err := e.selectPlan(ctx, downLogger, Down, sel, 1)
	if err != nil {
		return 0, e.fail(err)
	}
	reverted, err := e.runPlan(ctx, downLogger, Down, plan)
	if err != nil {
		return reverted, e.fail(err)
	}

	reapply := slices.Clone(plan[:reverted])
	slices.Reverse(reapply)
	applied, err := e.runPlan(ctx, e.log(ctx, Up.String(), "redo", true), Up, reapply)
	return reverted + applied, e.fail(err)
}

func (e *Engine) migrate(ctx context.Context, d Direction, sel Selection, defaultCount int) (int, error) {
	logger := e.log(ctx, d.String())
	plan, err := e.selectPlan(ctx, logger, d, sel, defaultCount)
	if err != nil {
		return 0, err
	}
	return e.runPlan(ctx, logger, d, plan)
}

// selectPlan resolves sel into the ordered migrations to execute for d.
func (e *Engine) selectPlan(ctx context.Context, logger *slog.Logger, d Direction, sel Selection, defaultCount int) ([]Migration, error) {
	limit, err := sel.limit(defaultCount)
	if err != nil {
		return nil, err
	}

	if sel.Exact != "" {
		target, err := e.ResolveExact(ctx, sel.Exact)
		if err != nil {
			return nil, err
		}
		logger.Debug("exact target resolved", "id", target.ID)
		return []Migration{target}, nil
	}
	return e.plan(ctx, d, limit)
}

func (e *Engine) runPlan(ctx context.Context, logger *slog.Logger, d Direction, plan []Migration) (int, error) {
	if len(plan) == 0 {
		logger.Info("nothing to do")
		return 0, nil
	}

	executed, err := e.execute(ctx, logger, d, plan)
	e.metrics.MarkFinished(e.now())
	if err != nil {
		logger.Error("migration failed", "executed", executed, "error", err, "kind", ErrorKind(err))
		return executed, err
	}

	logger.Info("migrations complete", "executed", executed)
	return executed, nil
}

// plan selects up to limit eligible migrations for d. limit -1 means all.
func (e *Engine) plan(ctx context.Context, d Direction, limit int) ([]Migration, error) {
	migrations, err := e.repo.List(d)
	if err != nil {
		return nil, err
	}
	states, err := e.store.LoadStates(ctx, e.conn, ids(migrations), d)
	if err != nil {
		return nil, err
	}
	if err := checkSynced(migrations, states); err != nil {
		return nil, err
	}

	var plan []Migration
	for i, m := range migrations {
		if limit >= 0 && len(plan) >= limit {
			break
		}
		if !d.eligible(states[i].Pending) {
			continue
		}
		plan = append(plan, m)
	}
	return plan, nil
}

// checkSynced requires states to pair one-to-one, in order, with migrations.
func checkSynced(migrations []Migration, states []State) error {
	if len(states) != len(migrations) {
		known := make(map[string]struct{}, len(states))
		for _, s := range states {
			known[s.ID] = struct{}{}
		}
		var missing []string
		for _, m := range migrations {
			if _, ok := known[m.ID]; !ok {
				missing = append(missing, m.ID)
			}
		}
		return fmt.Errorf("%w: no metadata for %v", ErrNotSynced, missing)
	}
	for i := range migrations {
		if migrations[i].ID != states[i].ID {
			return fmt.Errorf("%w: directory %s paired with metadata row %s", ErrNotSynced, migrations[i].ID, states[i].ID)
		}
	}
	return nil
}
