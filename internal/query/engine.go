package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

var ErrEmptyQuery = errors.New("query is required")

// UninterpretableMessage is reported when no translation rule matches.
const UninterpretableMessage = "Could not interpret your query. Try rephrasing."

type SchemaDiscoverer interface {
	Discover(ctx context.Context) (schema.Snapshot, error)
}

// Result is the outcome of one Process call. Error is set for translation
// misses and execution failures; GeneratedSQL is nil only for misses.
type Result struct {
	Rows           []Row
	GeneratedSQL   *string
	ElapsedSeconds float64
	CacheHit       bool
	Error          string
}

// Engine answers natural-language questions: cache lookup, schema discovery,
// translation, execution, then cache and history bookkeeping. One Engine is
// shared by all requests.
type Engine struct {
	Discoverer SchemaDiscoverer
	Translator nl2sql.Translator
	Executor   Executor
	Cache      *ResultCache
	History    *History
	Logger     *slog.Logger
	Clock      func() time.Time

	defaultsOnce sync.Once
	schemaMu     sync.RWMutex
	latest       *schema.Snapshot
}

func (e *Engine) Process(ctx context.Context, raw string) (Result, error) {
	e.ensureDefaults()
	start := e.Clock()

	if raw == "" {
		return Result{}, ErrEmptyQuery
	}

	if entry, ok := e.Cache.Get(raw); ok {
		generated := entry.GeneratedSQL
		elapsed := e.Clock().Sub(start)
		observability.ObserveQuery(observability.QueryOutcomeCacheHit, elapsed)
		return Result{
			Rows:           entry.Rows,
			GeneratedSQL:   &generated,
			ElapsedSeconds: roundSeconds(elapsed),
			CacheHit:       true,
		}, nil
	}
	observability.SetResultCacheEntries(e.Cache.Len())

	snapshot, err := e.Discoverer.Discover(ctx)
	observability.ObserveSchemaDiscovery(err)
	if err != nil {
		observability.ObserveQuery(observability.QueryOutcomeDiscoveryFail, e.Clock().Sub(start))
		return Result{}, fmt.Errorf("discover schema: %w", err)
	}
	annotated := schema.Annotate(snapshot)
	e.schemaMu.Lock()
	e.latest = &annotated
	e.schemaMu.Unlock()

	translation, ok := e.Translator.Translate(raw)
	if !ok {
		elapsed := e.Clock().Sub(start)
		observability.ObserveQuery(observability.QueryOutcomeTranslateMiss, elapsed)
		e.log(ctx).DebugContext(ctx, "query not interpretable", slog.String("query", raw))
		return Result{
			ElapsedSeconds: roundSeconds(elapsed),
			Error:          UninterpretableMessage,
		}, nil
	}
	observability.IncrementTranslationRule(translation.Rule)
	generated := translation.SQL

	rows, err := e.Executor.Query(ctx, generated)
	if err != nil {
		elapsed := e.Clock().Sub(start)
		observability.ObserveQuery(observability.QueryOutcomeExecError, elapsed)
		e.log(ctx).WarnContext(ctx, "generated query failed",
			slog.String("rule", translation.Rule),
			slog.String("sql", generated),
			slog.Any("error", err),
		)
		return Result{
			GeneratedSQL:   &generated,
			ElapsedSeconds: roundSeconds(elapsed),
			Error:          err.Error(),
		}, nil
	}

	now := e.Clock()
	elapsed := roundSeconds(now.Sub(start))
	e.Cache.Put(raw, CacheEntry{Rows: rows, GeneratedSQL: generated, StoredAt: now})
	e.History.Append(HistoryRecord{
		Query:          raw,
		GeneratedSQL:   generated,
		ElapsedSeconds: elapsed,
		ExecutedAt:     now.UTC(),
	})
	observability.SetResultCacheEntries(e.Cache.Len())
	observability.SetQueryHistoryRecords(e.History.Len())
	observability.ObserveQuery(observability.QueryOutcomeOK, now.Sub(start))

	return Result{
		Rows:           rows,
		GeneratedSQL:   &generated,
		ElapsedSeconds: elapsed,
	}, nil
}

// LatestSchema returns the annotated snapshot built by the most recent cache
// miss, if any.
func (e *Engine) LatestSchema() (schema.Snapshot, bool) {
	e.schemaMu.RLock()
	defer e.schemaMu.RUnlock()
	if e.latest == nil {
		return schema.Snapshot{}, false
	}
	return *e.latest, true
}

func (e *Engine) ensureDefaults() {
	e.defaultsOnce.Do(func() {
		if e.Clock == nil {
			e.Clock = time.Now
		}
		if e.Translator == nil {
			e.Translator = nl2sql.RuleTranslator{}
		}
		if e.Cache == nil {
			// Only fails for a non-positive size, which defaults rule out.
			e.Cache, _ = NewResultCache(DefaultCacheTTL, DefaultCacheMaxEntries, e.Clock)
		}
		if e.History == nil {
			e.History = NewHistory(DefaultHistorySize)
		}
	})
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return observability.LoggerWithTrace(ctx, e.Logger)
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
