package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"driftwatch/internal/query"

	_ "modernc.org/sqlite"
)

// SQLExecutor runs scheduled queries against an embedded SQLite
// database of telemetry tables.
type SQLExecutor struct {
	conn *sql.DB
}

// OpenSQL opens the telemetry database in read-only mode.
func OpenSQL(path string) (*SQLExecutor, error) {
	conn, err := sql.Open("sqlite", path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to telemetry database: %w", err)
	}

	log.Debug().Str("path", path).Msg("opened telemetry database")
	return &SQLExecutor{conn: conn}, nil
}

func (e *SQLExecutor) Execute(ctx context.Context, sqlText string) (query.QueryData, error) {
	rows, err := e.conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var qd query.QueryData
	values := make([]any, len(cols))
	scans := make([]any, len(cols))
	for i := range values {
		scans[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scans...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		row := make(query.Row, len(cols))
		for i, col := range cols {
			row[col] = typedValue(values[i])
		}
		qd = append(qd, row)
	}
	return qd, rows.Err()
}

func (e *SQLExecutor) Close() error {
	return e.conn.Close()
}

// typedValue maps driver values onto the row value types the diff
// treats as structurally comparable.
func typedValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case string:
		return t
	case bool:
		return t
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case float64:
		return json.Number(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
