package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/observability"
)

const realm = "askdb"

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// Guard admits requests carrying a key the validator accepts and attaches
// the matching Identity to the request context. Keys are read from
// X-API-Key first, then from an Authorization bearer credential.
type Guard struct {
	Validator APIKeyValidator
	Logger    *slog.Logger
}

// Middleware wraps handlers with a Guard.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	guard := &Guard{Validator: validator, Logger: logger}
	return guard.Wrap
}

func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, source := credentialFrom(r)
		if apiKey == "" {
			g.reject(w, r, "missing API key", "", source)
			return
		}

		identity, ok := g.Validator.Validate(r.Context(), apiKey)
		if !ok {
			g.reject(w, r, "invalid API key", apiKey, source)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, message, apiKey, source string) {
	if g.Logger != nil && apiKey != "" {
		observability.LoggerWithTrace(r.Context(), g.Logger).WarnContext(r.Context(), "api key rejected",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("credential_source", source),
			slog.String("key_fingerprint", fingerprint(apiKey)),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"context":    map[string]any{},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}

// credentialFrom returns the presented key and the header it came from. The
// bearer scheme name is matched case-insensitively.
func credentialFrom(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "x-api-key"
	}
	scheme, credential, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ""
	}
	return strings.TrimSpace(credential), "authorization"
}

// fingerprint identifies a key in logs without revealing it.
func fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:4])
}
