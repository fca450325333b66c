package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
)

// backends under test; postgres needs a live server and is covered by
// deployment smoke tests instead.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, NamespaceQueries, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
			}

			if err := s.Set(ctx, NamespaceQueries, "k1", "v1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, NamespaceQueries, "k1")
			if err != nil || got != "v1" {
				t.Errorf("Get = %q, %v; want v1", got, err)
			}

			// Overwrite
			if err := s.Set(ctx, NamespaceQueries, "k1", "v2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, _ = s.Get(ctx, NamespaceQueries, "k1")
			if got != "v2" {
				t.Errorf("Get after overwrite = %q, want v2", got)
			}
		})
	}
}

func TestStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "ns1", "k", "a"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "ns2", "k", "b"); err != nil {
				t.Fatalf("Set: %v", err)
			}

			v1, _ := s.Get(ctx, "ns1", "k")
			v2, _ := s.Get(ctx, "ns2", "k")
			if v1 != "a" || v2 != "b" {
				t.Errorf("namespaces bled: ns1=%q ns2=%q", v1, v2)
			}
		})
	}
}

func TestStoreKeysAndDelete(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"b", "a", "c"} {
				if err := s.Set(ctx, "ks", k, "v"); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}

			keys, err := s.Keys(ctx, "ks")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			sort.Strings(keys)
			want := []string{"a", "b", "c"}
			if len(keys) != len(want) {
				t.Fatalf("Keys = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("Keys = %v, want %v", keys, want)
				}
			}

			if err := s.Delete(ctx, "ks", "b"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "ks", "b"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete err = %v, want ErrNotFound", err)
			}

			// Deleting an absent key is not an error.
			if err := s.Delete(ctx, "ks", "nope"); err != nil {
				t.Errorf("Delete(absent) = %v, want nil", err)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Set(ctx, NamespaceQueries, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, NamespaceQueries, "k")
	if err != nil || got != "v" {
		t.Errorf("Get after reopen = %q, %v; want v", got, err)
	}
}

func TestOpenFactory(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory", "")
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	s.Close()

	if _, err := Open(ctx, "rocksdb", ""); err == nil {
		t.Error("Open(rocksdb) succeeded, want error")
	}
}
