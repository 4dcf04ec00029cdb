//go:build integration

package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/migrations"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

func TestQueryFlowAgainstPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("ASKDB_TEST_DATABASE_DSN"))
	if adminDSN == "" {
		t.Skip("ASKDB_TEST_DATABASE_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Config{DSN: testDSN, PoolSize: 2, MaxOverflow: 2})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}

	history := query.NewHistory(10)
	inspector := schema.NewInspector(db, schema.Options{})
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Queries: &query.Engine{
			Discoverer: inspector,
			Translator: nl2sql.RuleTranslator{},
			Executor:   &query.SQLExecutor{DB: db},
			History:    history,
		},
		History: history,
		Schema:  inspector,
		DiscoverDatabase: func(ctx context.Context, dsn string) (schema.Snapshot, error) {
			return schema.DiscoverDSN(ctx, database.Config{DSN: dsn, PoolSize: 5, MaxOverflow: 10}, schema.Options{})
		},
	})

	managers := decodeBody(t, postJSON(h, "/api/query", `{"query":"who are the managers"}`))
	if rows, ok := managers["results"].([]any); !ok || len(rows) != 3 {
		t.Fatalf("managers results = %#v", managers["results"])
	}

	salaries := decodeBody(t, postJSON(h, "/api/query", `{"query":"salary above 150000"}`))
	if rows, ok := salaries["results"].([]any); !ok || len(rows) != 4 {
		t.Fatalf("salary results = %#v", salaries["results"])
	}

	adhoc := decodeBody(t, postJSON(h, "/api/ingest/database", fmt.Sprintf(`{"connection_string":%q}`, strings.Replace(testDSN, "postgres://", "postgresql+psycopg2://", 1))))
	if adhoc["ok"] != true {
		t.Fatalf("ingest database body = %v", adhoc)
	}
	tables := adhoc["schema"].(map[string]any)
	employees := tables["employees"].(map[string]any)
	fks := employees["foreign_keys"].([]any)
	if len(fks) != 1 || fks[0].(map[string]any)["ref_table"] != "departments" {
		t.Fatalf("employees foreign keys = %v", fks)
	}
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("askdb_api_it_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		_, _ = adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name)
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testURL.String(), cleanup
}
