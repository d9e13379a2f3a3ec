package migration

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/migr/internal/logging"
	"github.com/example/migr/internal/observability"
	"github.com/example/migr/internal/testfixtures"
)

type engineFixture struct {
	engine  *Engine
	db      *testfixtures.SQLiteHarness
	tree    *testfixtures.MigrationTree
	clock   *testfixtures.Clock
	metrics *observability.Metrics
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db := testfixtures.NewSQLiteHarness(t)
	tree := testfixtures.NewMigrationTree(t)
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	metrics := observability.NewMetrics()

	engine, err := NewEngine(db.Conn.Conn, EngineConfig{
		Root:    tree.Root,
		Dialect: db.Conn.Dialect,
		Logger:  logging.Discard(),
		Metrics: metrics,
		Now:     clock.NowFunc(),
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	return &engineFixture{engine: engine, db: db, tree: tree, clock: clock, metrics: metrics}
}

func (f *engineFixture) sync(t *testing.T) {
	t.Helper()
	if _, err := f.engine.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func (f *engineFixture) pending(t *testing.T, id string) bool {
	t.Helper()
	pending, ok := f.db.Pending(t, MetaTable, id)
	if !ok {
		t.Fatalf("no metadata row for %s", id)
	}
	return pending
}

// addTrail adds a migration whose scripts append "<name>:up" or
// "<name>:down" to the trail table, so execution order is observable.
func (f *engineFixture) addTrail(id, name string) {
	const create = "CREATE TABLE IF NOT EXISTS trail (seq INTEGER PRIMARY KEY AUTOINCREMENT, entry TEXT NOT NULL);\n"
	f.tree.Add(id,
		create+"INSERT INTO trail (entry) VALUES ('"+name+":up');",
		create+"INSERT INTO trail (entry) VALUES ('"+name+":down');")
}

func (f *engineFixture) trail(t *testing.T) []string {
	t.Helper()
	rows, err := f.db.Conn.Conn.QueryContext(context.Background(), "SELECT entry FROM trail ORDER BY seq")
	if err != nil {
		t.Fatalf("failed to read trail: %v", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			t.Fatalf("failed to scan trail: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewEngine_Validation(t *testing.T) {
	db := testfixtures.NewSQLiteHarness(t)

	tests := []struct {
		name string
		conn Conn
		cfg  EngineConfig
	}{
		{name: "nil connection", conn: nil, cfg: EngineConfig{Root: "m", Dialect: db.Conn.Dialect}},
		{name: "missing root", conn: db.Conn.Conn, cfg: EngineConfig{Dialect: db.Conn.Dialect}},
		{name: "missing dialect", conn: db.Conn.Conn, cfg: EngineConfig{Root: "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.conn, tt.cfg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestEngine_RunAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0010_c", "c")
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.sync(t)

	executed, err := f.engine.Run(ctx, Selection{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if executed != 3 {
		t.Fatalf("expected 3 executions, got %d", executed)
	}
	if got := f.trail(t); !slices.Equal(got, []string{"a:up", "b:up", "c:up"}) {
		t.Fatalf("unexpected execution order %v", got)
	}
	for _, id := range []string{"0001_a", "0002_b", "0010_c"} {
		if f.pending(t, id) {
			t.Fatalf("%s should be applied", id)
		}
	}

	// Nothing left to do.
	executed, err = f.engine.Run(ctx, Selection{})
	if err != nil || executed != 0 {
		t.Fatalf("expected no-op run, got %d (%v)", executed, err)
	}
}

func TestEngine_RunCount(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.addTrail("0003_c", "c")
	f.sync(t)

	executed, err := f.engine.Run(ctx, Selection{Count: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if executed != 2 {
		t.Fatalf("expected 2 executions, got %d", executed)
	}
	if !f.pending(t, "0003_c") {
		t.Fatal("0003_c should still be pending")
	}
}

func TestEngine_RevertDefaultsToOne(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.addTrail("0003_c", "c")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	executed, err := f.engine.Revert(ctx, Selection{})
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected 1 revert, got %d", executed)
	}
	if !f.pending(t, "0003_c") || f.pending(t, "0002_b") {
		t.Fatal("only the most recent migration should be reverted")
	}

	executed, err = f.engine.Revert(ctx, Selection{All: true})
	if err != nil || executed != 2 {
		t.Fatalf("expected 2 reverts, got %d (%v)", executed, err)
	}
	want := []string{"a:up", "b:up", "c:up", "c:down", "b:down", "a:down"}
	if got := f.trail(t); !slices.Equal(got, want) {
		t.Fatalf("unexpected trail %v, want %v", got, want)
	}
}

func TestEngine_UpDownInverse(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	users := f.tree.AddTable("users")
	posts := f.tree.AddTable("posts")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{All: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !f.db.TableExists(t, "users") || !f.db.TableExists(t, "posts") {
		t.Fatal("expected tables after run")
	}

	executed, err := f.engine.Revert(ctx, Selection{All: true})
	if err != nil || executed != 2 {
		t.Fatalf("expected 2 reverts, got %d (%v)", executed, err)
	}
	if f.db.TableExists(t, "users") || f.db.TableExists(t, "posts") {
		t.Fatal("expected tables to be dropped after revert")
	}
	if !f.pending(t, users) || !f.pending(t, posts) {
		t.Fatal("expected every migration to be pending again")
	}
}

func TestEngine_PartialFailureKeepsEarlierMigrations(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	users := f.tree.AddTable("users")
	broken := f.tree.AddBroken("broken")
	posts := f.tree.AddTable("posts")
	f.sync(t)

	executed, err := f.engine.Run(ctx, Selection{})
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected 1 successful execution, got %d", executed)
	}

	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected MigrationError, got %T", err)
	}
	if migErr.ID != broken || migErr.Operation != "up" {
		t.Fatalf("unexpected failure context %+v", migErr)
	}
	if ErrorKind(err) != "execution" {
		t.Fatalf("expected execution kind, got %s", ErrorKind(err))
	}

	if !f.db.TableExists(t, "users") || f.pending(t, users) {
		t.Fatal("migration before the failure must stay applied")
	}
	if f.db.TableExists(t, "broken_tmp") || !f.pending(t, broken) {
		t.Fatal("failed migration must be rolled back and stay pending")
	}
	if f.db.TableExists(t, "posts") || !f.pending(t, posts) {
		t.Fatal("migrations after the failure must not run")
	}

	// The session is usable afterwards; fixing the script lets run continue.
	f.tree.WriteFile(broken+"/up.sql", "CREATE TABLE fixed (id INTEGER);")
	executed, err = f.engine.Run(ctx, Selection{})
	if err != nil || executed != 2 {
		t.Fatalf("expected 2 executions after fix, got %d (%v)", executed, err)
	}
}

func TestEngine_MetadataMissing(t *testing.T) {
	f := newEngineFixture(t)
	f.tree.AddTable("users")

	_, err := f.engine.Run(context.Background(), Selection{})
	if !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing, got %v", err)
	}

	// The probe also runs when there is nothing on disk.
	f.tree.Remove("0001_create_users")
	_, err = f.engine.Revert(context.Background(), Selection{})
	if !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing for an empty directory, got %v", err)
	}
}

func TestEngine_NotSynced(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.tree.AddTable("users")
	f.sync(t)
	f.tree.AddTable("posts")

	executed, err := f.engine.Run(ctx, Selection{})
	if !errors.Is(err, ErrNotSynced) {
		t.Fatalf("expected ErrNotSynced, got %v", err)
	}
	if executed != 0 || f.db.TableExists(t, "users") {
		t.Fatal("nothing may run while out of sync")
	}
}

func TestEngine_ExactBypassesPendingFlag(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Already applied, runs again anyway.
	executed, err := f.engine.Run(ctx, Selection{Exact: "a"})
	if err != nil || executed != 1 {
		t.Fatalf("expected exact run, got %d (%v)", executed, err)
	}
	if f.pending(t, "0001_a") {
		t.Fatal("exact up must leave the migration applied")
	}

	// Full ids resolve too; revert twice, the second on a pending row.
	for range 2 {
		if _, err := f.engine.Revert(ctx, Selection{Exact: "0001_a"}); err != nil {
			t.Fatalf("exact revert failed: %v", err)
		}
		if !f.pending(t, "0001_a") {
			t.Fatal("exact down must leave the migration pending")
		}
	}

	want := []string{"a:up", "b:up", "a:up", "a:down", "a:down"}
	if got := f.trail(t); !slices.Equal(got, want) {
		t.Fatalf("unexpected trail %v, want %v", got, want)
	}
	if f.pending(t, "0002_b") {
		t.Fatal("exact mode must not touch other migrations")
	}
}

func TestEngine_ExactErrors(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.sync(t)
	f.addTrail("0002_b", "b")

	tests := []struct {
		name      string
		sel       Selection
		expectErr error
	}{
		{name: "unknown name", sel: Selection{Exact: "nope"}, expectErr: ErrTargetNotFound},
		{name: "no metadata row", sel: Selection{Exact: "b"}, expectErr: ErrNoMetadataEntry},
		{name: "combined with count", sel: Selection{Exact: "a", Count: 1}, expectErr: ErrInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Run(ctx, tt.sel); !errors.Is(err, tt.expectErr) {
				t.Fatalf("expected %v, got %v", tt.expectErr, err)
			}
		})
	}
}

func TestEngine_Redo(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	executed, err := f.engine.Redo(ctx, Selection{})
	if err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if executed != 2 {
		t.Fatalf("expected revert plus run of one migration, got %d", executed)
	}
	want := []string{"a:up", "b:up", "b:down", "b:up"}
	if got := f.trail(t); !slices.Equal(got, want) {
		t.Fatalf("unexpected trail %v, want %v", got, want)
	}

	executed, err = f.engine.Redo(ctx, Selection{All: true})
	if err != nil || executed != 4 {
		t.Fatalf("expected redo of everything, got %d (%v)", executed, err)
	}
	want = append(want, "b:down", "a:down", "a:up", "b:up")
	if got := f.trail(t); !slices.Equal(got, want) {
		t.Fatalf("unexpected trail %v, want %v", got, want)
	}
	if f.pending(t, "0001_a") || f.pending(t, "0002_b") {
		t.Fatal("redo must leave migrations applied")
	}

	if _, err := f.engine.Redo(ctx, Selection{All: true, Count: 1}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestEngine_RedoReappliesOnlyRevertedMigrations(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.addTrail("0002_b", "b")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := f.engine.Revert(ctx, Selection{Exact: "a"}); err != nil {
		t.Fatalf("Revert failed: %v", err)
	}

	executed, err := f.engine.Redo(ctx, Selection{})
	if err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if executed != 2 {
		t.Fatalf("expected revert plus run of one migration, got %d", executed)
	}
	want := []string{"a:up", "b:up", "a:down", "b:down", "b:up"}
	if got := f.trail(t); !slices.Equal(got, want) {
		t.Fatalf("unexpected trail %v, want %v", got, want)
	}
	if !f.pending(t, "0001_a") || f.pending(t, "0002_b") {
		t.Fatal("redo must leave every migration in the state it found it")
	}
}

// cancelOnMessage cancels a context when a record with msg is logged.
type cancelOnMessage struct {
	msg    string
	cancel context.CancelFunc
}

func (h cancelOnMessage) Enabled(context.Context, slog.Level) bool { return true }

func (h cancelOnMessage) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.cancel()
	}
	return nil
}

func (h cancelOnMessage) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h cancelOnMessage) WithGroup(string) slog.Handler      { return h }

func TestEngine_RunInterruptedKeepsCompletedMigrations(t *testing.T) {
	f := newEngineFixture(t)
	users := f.tree.AddTable("users")
	posts := f.tree.AddTable("posts")
	f.sync(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine, err := NewEngine(f.db.Conn.Conn, EngineConfig{
		Root:    f.tree.Root,
		Dialect: f.db.Conn.Dialect,
		Logger:  slog.New(cancelOnMessage{msg: "executed up migration", cancel: cancel}),
		Metrics: f.metrics,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	executed, err := engine.Run(ctx, Selection{})
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected an interrupted run, got %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected one completed migration, got %d", executed)
	}
	if f.pending(t, users) || !f.db.TableExists(t, "users") {
		t.Fatal("migration completed before the interrupt must stay applied")
	}
	if !f.pending(t, posts) || f.db.TableExists(t, "posts") {
		t.Fatal("migration after the interrupt must not run")
	}

	executed, err = engine.Run(context.Background(), Selection{})
	if err != nil || executed != 1 {
		t.Fatalf("expected the session to stay usable, got %d (%v)", executed, err)
	}
	if f.pending(t, posts) {
		t.Fatal("expected posts to be applied after resuming")
	}
}

func TestEngine_RedoStopsOnRevertFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addTrail("0001_a", "a")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f.tree.WriteFile("0001_a/down.sql", "NOT SQL;")

	executed, err := f.engine.Redo(ctx, Selection{})
	var migErr *MigrationError
	if !errors.As(err, &migErr) || migErr.Operation != "down" {
		t.Fatalf("expected a down failure, got %v", err)
	}
	if executed != 0 || f.pending(t, "0001_a") {
		t.Fatal("run phase must not start after a failed revert")
	}
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.tree.AddTable("users")
	f.tree.AddBroken("broken")
	f.sync(t)

	if _, err := f.engine.Run(ctx, Selection{}); err == nil {
		t.Fatal("expected failure")
	}

	expected := `
# HELP migr_failures_total Failed operations by error kind.
# TYPE migr_failures_total counter
migr_failures_total{kind="execution"} 1
# HELP migr_migrations_executed_total Migrations executed by direction.
# TYPE migr_migrations_executed_total counter
migr_migrations_executed_total{direction="up"} 1
`
	err := testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"migr_failures_total", "migr_migrations_executed_total")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}
