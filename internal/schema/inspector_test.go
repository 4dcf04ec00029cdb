package schema

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/askdb/askdb/internal/database"
	"github.com/google/go-cmp/cmp"
)

func TestDiscoverReadsTablesColumnsAndKeys(t *testing.T) {
	db, mock := newSQLMock(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inspector := NewInspector(db, Options{Clock: func() time.Time { return fixed }})

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("departments").AddRow("employees"))

	expectTable(mock, "departments",
		[][2]string{{"dept_id", "integer"}, {"dept_name", "text"}, {"manager", "text"}},
		[]string{"dept_id"}, nil)
	expectTable(mock, "employees",
		[][2]string{{"id", "integer"}, {"full_name", "text"}, {"department_id", "integer"}},
		[]string{"id"}, []ForeignKey{{Column: "department_id", RefTable: "departments", RefColumn: "dept_id"}})

	snapshot, err := inspector.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if !snapshot.DiscoveredAt.Equal(fixed) {
		t.Fatalf("DiscoveredAt = %s", snapshot.DiscoveredAt)
	}

	want := map[string]TableInfo{
		"departments": {
			Columns:     []Column{{Name: "dept_id", Type: "integer"}, {Name: "dept_name", Type: "text"}, {Name: "manager", Type: "text"}},
			PrimaryKey:  []string{"dept_id"},
			ForeignKeys: []ForeignKey{},
			Likely:      []string{},
		},
		"employees": {
			Columns:     []Column{{Name: "id", Type: "integer"}, {Name: "full_name", Type: "text"}, {Name: "department_id", Type: "integer"}},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []ForeignKey{{Column: "department_id", RefTable: "departments", RefColumn: "dept_id"}},
			Likely:      []string{},
		},
	}
	if diff := cmp.Diff(want, snapshot.Tables); diff != "" {
		t.Fatalf("Discover() tables mismatch (-want +got):\n%s", diff)
	}
	assertSQLMock(t, mock)
}

func TestDiscoverSkipsTableWhoseIntrospectionFails(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, Options{Schema: "hr"})

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WithArgs("hr").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("broken").AddRow("employees"))
	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("hr", "broken").
		WillReturnError(errors.New("permission denied for table broken"))
	expectTable(mock, "employees", [][2]string{{"id", "integer"}}, []string{"id"}, nil)

	snapshot, err := inspector.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if _, ok := snapshot.Tables["broken"]; ok {
		t.Fatal("expected broken table to be omitted")
	}
	if _, ok := snapshot.Tables["employees"]; !ok {
		t.Fatal("expected employees table to survive a sibling failure")
	}
	assertSQLMock(t, mock)
}

func TestDiscoverSkipsTableWhenForeignKeyLookupFails(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, Options{})

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("employees"))
	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("public", "employees").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "integer"))
	mock.ExpectQuery(`constraint_type = 'PRIMARY KEY'`).
		WithArgs("public", "employees").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectQuery(`constraint_type = 'FOREIGN KEY'`).
		WithArgs("public", "employees").
		WillReturnError(errors.New("relation does not exist"))

	snapshot, err := inspector.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(snapshot.Tables) != 0 {
		t.Fatalf("Tables = %#v, want empty", snapshot.Tables)
	}
	assertSQLMock(t, mock)
}

func TestDiscoverReturnsErrDiscoveryWhenTablesCannotBeListed(t *testing.T) {
	db, mock := newSQLMock(t)
	inspector := NewInspector(db, Options{})

	mock.ExpectQuery(`FROM information_schema\.tables`).
		WillReturnError(errors.New("password authentication failed"))

	_, err := inspector.Discover(context.Background())
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("Discover() error = %v, want ErrDiscovery", err)
	}
	assertSQLMock(t, mock)
}

func TestOpenInspectorAgainstDuckDB(t *testing.T) {
	ctx := context.Background()
	inspector, closeFn, err := OpenInspector(ctx, database.Config{DSN: "duckdb://", PoolSize: 1}, Options{})
	if err != nil {
		t.Fatalf("OpenInspector() error = %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })

	db, ok := inspector.db.(*sql.DB)
	if !ok {
		t.Fatalf("inspector.db = %T, want *sql.DB", inspector.db)
	}
	for _, stmt := range []string{
		`CREATE TABLE departments (dept_id INTEGER PRIMARY KEY, name VARCHAR)`,
		`CREATE TABLE emp_records (id INTEGER PRIMARY KEY, full_name VARCHAR, annual_salary INTEGER, department_id INTEGER REFERENCES departments(dept_id))`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	snapshot, err := inspector.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	info, ok := snapshot.Tables["emp_records"]
	if !ok {
		t.Fatalf("Tables = %#v, want emp_records", snapshot.Tables)
	}
	names := make([]string, 0, len(info.Columns))
	for _, column := range info.Columns {
		names = append(names, column.Name)
	}
	if diff := cmp.Diff([]string{"id", "full_name", "annual_salary", "department_id"}, names); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"id"}, info.PrimaryKey); diff != "" {
		t.Fatalf("PrimaryKey mismatch (-want +got):\n%s", diff)
	}
	wantFKs := []ForeignKey{{Column: "department_id", RefTable: "departments", RefColumn: "dept_id"}}
	if diff := cmp.Diff(wantFKs, info.ForeignKeys); diff != "" {
		t.Fatalf("ForeignKeys mismatch (-want +got):\n%s", diff)
	}
	if _, ok := snapshot.Tables["departments"]; !ok {
		t.Fatalf("Tables = %v, want departments", snapshot.TableNames())
	}

	annotated := Annotate(snapshot)
	if diff := cmp.Diff([]string{"employee", "department", "salary"}, annotated.Tables["emp_records"].Likely); diff != "" {
		t.Fatalf("Likely mismatch (-want +got):\n%s", diff)
	}
}

func expectTable(mock sqlmock.Sqlmock, table string, columns [][2]string, primaryKey []string, foreignKeys []ForeignKey) {
	columnRows := sqlmock.NewRows([]string{"column_name", "data_type"})
	for _, column := range columns {
		columnRows.AddRow(column[0], column[1])
	}
	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs(sqlmock.AnyArg(), table).
		WillReturnRows(columnRows)

	pkRows := sqlmock.NewRows([]string{"column_name"})
	for _, column := range primaryKey {
		pkRows.AddRow(column)
	}
	mock.ExpectQuery(`constraint_type = 'PRIMARY KEY'`).
		WithArgs(sqlmock.AnyArg(), table).
		WillReturnRows(pkRows)

	fkRows := sqlmock.NewRows([]string{"column_name", "table_name", "column_name"})
	for _, key := range foreignKeys {
		fkRows.AddRow(key.Column, key.RefTable, key.RefColumn)
	}
	mock.ExpectQuery(`constraint_type = 'FOREIGN KEY'`).
		WithArgs(sqlmock.AnyArg(), table).
		WillReturnRows(fkRows)
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
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDiscoverDSNRejectsUnsupportedScheme(t *testing.T) {
	_, err := DiscoverDSN(context.Background(), database.Config{DSN: "mysql://root@localhost/hr", PoolSize: 5, MaxOverflow: 10}, Options{})
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("DiscoverDSN() error = %v, want ErrDiscovery", err)
	}
}

func TestDiscoverDSNAnnotatesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hr.duckdb")
	seed, err := database.Open(context.Background(), database.Config{DSN: "duckdb://" + path, PoolSize: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if _, err := seed.Exec(`CREATE TABLE staff (id INTEGER PRIMARY KEY, pay INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("close seed db: %v", err)
	}

	snapshot, err := DiscoverDSN(context.Background(), database.Config{DSN: "duckdb://" + path, PoolSize: 5, MaxOverflow: 10}, Options{})
	if err != nil {
		t.Fatalf("DiscoverDSN() error = %v", err)
	}
	if diff := cmp.Diff([]string{"employee", "salary"}, snapshot.Tables["staff"].Likely); diff != "" {
		t.Fatalf("Likely mismatch (-want +got):\n%s", diff)
	}
}
