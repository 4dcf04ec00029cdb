package migrations

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/database"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/README.md":           {Data: []byte("ignored")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[1].Name != "two" || items[1].DownSQL != "SELECT -2;" {
		t.Fatalf("unexpected migration: %+v", items[1])
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsErrorsOnConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for conflicting migration names")
	}
}

func TestEmbeddedMigrationsCreateDemoSchema(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations(embedded) error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for _, snippet := range []string{
		"CREATE TABLE departments",
		"CREATE TABLE employees",
		"department_id INTEGER REFERENCES departments (dept_id)",
		"annual_salary INTEGER",
	} {
		if !strings.Contains(items[0].UpSQL, snippet) {
			t.Fatalf("demo schema migration missing %q", snippet)
		}
	}
	if !strings.Contains(items[1].UpSQL, "'Engineering'") {
		t.Fatal("seed migration should insert the Engineering department")
	}
}

func TestRunnerDownRollsBackLatestAppliedMigration(t *testing.T) {
	db, mock := newSQLMock(t)
	appliedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS askdb_schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM askdb_schema_migrations ORDER BY version`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
			AddRow(int64(1), appliedAt).
			AddRow(int64(2), appliedAt))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM employees WHERE id BETWEEN 1 AND 8`).
		WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec(`DELETE FROM askdb_schema_migrations WHERE version = \$1`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := NewRunner().Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("Down() = %d, want 1", rolledBack)
	}
	assertSQLMock(t, mock)
}

func TestRunnerUpStopsOnFailedMigration(t *testing.T) {
	db, mock := newSQLMock(t)
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INTEGER);")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one;")},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS askdb_schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM askdb_schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE one`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	applied, err := NewRunnerFS(fsys).Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "apply migration 1") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("Up() = %d, want 0", applied)
	}
	assertSQLMock(t, mock)
}

func TestRunnerAppliesDemoSchemaOnDuckDB(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Config{DSN: "duckdb://", PoolSize: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := NewRunner()
	applied, err := runner.Up(ctx, db, 1)
	if err != nil {
		t.Fatalf("Up(1) error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up(1) = %d, want 1", applied)
	}

	applied, err = runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("Up(0) error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up(0) = %d, want 1", applied)
	}

	applied, err = runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("repeat Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("repeat Up() = %d, want 0", applied)
	}

	var engineers int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees e JOIN departments d ON e.department_id = d.dept_id WHERE d.dept_name ILIKE '%engineering%'`).Scan(&engineers); err != nil {
		t.Fatalf("count engineers: %v", err)
	}
	if engineers != 5 {
		t.Fatalf("engineers = %d, want 5", engineers)
	}

	statuses, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d", len(statuses))
	}
	for _, status := range statuses {
		if !status.Applied || status.AppliedAt == nil {
			t.Fatalf("migration %d not reported as applied: %+v", status.Version, status)
		}
	}
	if statuses[0].Name != "demo_schema" || statuses[1].Name != "demo_seed" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}
