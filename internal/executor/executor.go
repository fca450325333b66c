// Package executor produces raw result rows for scheduled queries.
// Query parsing and SQL semantics belong to the underlying engine;
// this package only adapts its output to typed rows.
package executor

import (
	"context"

	"driftwatch/internal/query"
)

// Executor runs one query and returns its raw result rows in
// execution order.
type Executor interface {
	Execute(ctx context.Context, sql string) (query.QueryData, error)
	Close() error
}

// StaticExecutor returns canned results keyed by query text. Used in
// tests and dry runs.
type StaticExecutor struct {
	Results map[string]query.QueryData
}

func (e *StaticExecutor) Execute(_ context.Context, sql string) (query.QueryData, error) {
	return query.NormalizeData(e.Results[sql]), nil
}

func (e *StaticExecutor) Close() error {
	return nil
}
