package query

import (
	"context"
	"database/sql"
	"fmt"
)

// Row maps column names to values. Text returned by the driver as []byte is
// converted to string.
type Row map[string]any

type Executor interface {
	Query(ctx context.Context, sqlText string) ([]Row, error)
}

// SQLExecutor runs each statement on a connection checked out of DB for the
// duration of the call.
type SQLExecutor struct {
	DB *sql.DB
}

func (e *SQLExecutor) Query(ctx context.Context, sqlText string) ([]Row, error) {
	if e.DB == nil {
		return nil, fmt.Errorf("database is not configured")
	}
	conn, err := e.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValue(value any) any {
	if typed, ok := value.([]byte); ok {
		return string(typed)
	}
	return value
}
