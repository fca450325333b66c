// Package store provides the namespaced key-value store that backs
// query result tracking. Backends guarantee per-key atomicity only;
// callers own the serialization of multi-key read-modify-write
// sequences.
package store

import (
	"context"
	"errors"
)

// NamespaceQueries holds per-query tracking state: the last result
// set under the bare query name, plus "<name>epoch", "<name>counter",
// and "query.<name>" for the literal query text.
const NamespaceQueries = "queries"

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a namespaced key-value store.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
	// Keys lists every key in the namespace, in unspecified order.
	Keys(ctx context.Context, namespace string) ([]string, error)
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	Close() error
}
