package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/query"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "askdb-api" {
		t.Fatalf("service = %v", body["service"])
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpointExposesHTTPCounters(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "askdb_http_requests_total") {
		t.Fatal("metrics output missing askdb_http_requests_total")
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:query_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		History:        fakeHistory{records: []query.HistoryRecord{{Query: "list all employees", GeneratedSQL: "SELECT * FROM employees;"}}},
		Schema:         &fakeDiscoverer{},
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/api/query/history", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/api/query/history", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}

	forbiddenReq := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	forbiddenReq.Header.Set("X-API-Key", "k1")
	forbiddenResp := httptest.NewRecorder()
	h.ServeHTTP(forbiddenResp, forbiddenReq)
	if forbiddenResp.Code != http.StatusForbidden {
		t.Fatalf("schema status = %d, want 403", forbiddenResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{History: fakeHistory{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/query/history", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("body = %v", body)
	}
}

func TestUnconfiguredDependenciesReturn501(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	requests := []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"list all employees"}`)),
		httptest.NewRequest(http.MethodGet, "/api/query/history", nil),
		httptest.NewRequest(http.MethodPost, "/api/query/history/archive", nil),
		httptest.NewRequest(http.MethodGet, "/api/query/history/archives", nil),
		httptest.NewRequest(http.MethodGet, "/api/schema", nil),
		httptest.NewRequest(http.MethodPost, "/api/ingest/database", nil),
		httptest.NewRequest(http.MethodPost, "/api/ingest/documents", nil),
		httptest.NewRequest(http.MethodGet, "/api/ingest/status/abc", nil),
	}
	for _, req := range requests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s: status = %d", req.Method, req.URL.Path, rr.Code)
		}
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestConfigReadinessChecks(t *testing.T) {
	cfg := loadConfig(t, nil)
	if err := CheckDatabaseURL(cfg)(context.Background()); err == nil {
		t.Fatal("expected error without a database url")
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("disabled object store should be ready: %v", err)
	}

	cfg = loadConfig(t, map[string]string{
		"ASKDB_DATABASE_URL":        "postgres://localhost/hr",
		"ASKDB_OBJECTSTORE_ENABLED": "true",
		"ASKDB_OBJECTSTORE_BUCKET":  "",
	})
	if err := CheckDatabaseURL(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckDatabaseURL() error = %v", err)
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for enabled object store without a bucket")
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("askdb-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v (body=%s)", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
