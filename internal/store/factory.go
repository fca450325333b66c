package store

import (
	"context"
	"fmt"
)

// Open constructs a store for the named backend.
// For "sqlite", target is a file path; for "postgres", a connection
// string; "memory" ignores target.
func Open(ctx context.Context, backend, target string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(target)
	case "postgres":
		return OpenPostgres(ctx, target)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
