package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	operands := fs.Args()[1:]
	req, err := buildRequest(command, operands)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
	} else if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	if command == "query" {
		if message := queryError(responseBody); message != "" {
			_, _ = fmt.Fprintf(stderr, "query failed: %s\n", message)
			return 1
		}
	}
	return 0
}

func buildRequest(command string, operands []string) (request, error) {
	joined := strings.TrimSpace(strings.Join(operands, " "))
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/api/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/api/ready"}, nil
	case "query", "match":
		if joined == "" {
			return request{}, fmt.Errorf("%s requires a question", command)
		}
		path := "/api/query"
		if command == "match" {
			path = "/api/schema/match"
		}
		return jsonRequest(path, map[string]string{"query": joined})
	case "history":
		return request{method: http.MethodGet, path: "/api/query/history"}, nil
	case "archive-history":
		return request{method: http.MethodPost, path: "/api/query/history/archive"}, nil
	case "archives":
		return request{method: http.MethodGet, path: "/api/query/history/archives"}, nil
	case "schema":
		return request{method: http.MethodGet, path: "/api/schema"}, nil
	case "ingest-db":
		if joined == "" {
			return request{}, fmt.Errorf("ingest-db requires a connection string")
		}
		return jsonRequest("/api/ingest/database", map[string]string{"connection_string": joined})
	case "upload":
		if len(operands) == 0 {
			return request{}, fmt.Errorf("upload requires at least one file")
		}
		return uploadRequest(operands)
	case "job":
		if joined == "" {
			return request{}, fmt.Errorf("job requires a job id")
		}
		return request{method: http.MethodGet, path: "/api/ingest/status/" + url.PathEscape(joined)}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func jsonRequest(path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	return request{method: http.MethodPost, path: path, body: bytes.NewReader(body), contentType: "application/json"}, nil
}

func uploadRequest(files []string) (request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range files {
		if err := addFile(writer, name); err != nil {
			return request{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return request{}, err
	}
	return request{method: http.MethodPost, path: "/api/ingest/documents", body: &buf, contentType: writer.FormDataContentType()}, nil
}

func addFile(writer *multipart.Writer, name string) error {
	file, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	part, err := writer.CreateFormFile("files", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, in request, endpoint, apiKey string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, in.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func queryError(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /api/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /api/ready")
	_, _ = fmt.Fprintln(w, "  query <question>     POST /api/query")
	_, _ = fmt.Fprintln(w, "  history              GET /api/query/history")
	_, _ = fmt.Fprintln(w, "  archive-history      POST /api/query/history/archive")
	_, _ = fmt.Fprintln(w, "  archives             GET /api/query/history/archives")
	_, _ = fmt.Fprintln(w, "  schema               GET /api/schema")
	_, _ = fmt.Fprintln(w, "  match <question>     POST /api/schema/match")
	_, _ = fmt.Fprintln(w, "  ingest-db <dsn>      POST /api/ingest/database")
	_, _ = fmt.Fprintln(w, "  upload <file>...     POST /api/ingest/documents")
	_, _ = fmt.Fprintln(w, "  job <job_id>         GET /api/ingest/status/{job_id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
