package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/query"
	"driftwatch/internal/store"
)

var (
	storeBackend string
	storePath    string
	storeDSN     string
)

func main() {
	root := &cobra.Command{
		Use:   "driftctl",
		Short: "Maintenance tool for the driftwatch query store",
	}

	root.PersistentFlags().StringVar(&storeBackend, "backend", "sqlite", "Store backend (sqlite, postgres)")
	root.PersistentFlags().StringVar(&storePath, "store", "driftwatch.db", "SQLite store path")
	root.PersistentFlags().StringVar(&storeDSN, "dsn", os.Getenv("DRIFTWATCH_STORE_DSN"), "Postgres store DSN")

	root.AddCommand(&cobra.Command{
		Use:   "names",
		Short: "List all stored query keys",
		RunE:  runNames,
	})

	root.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show the stored record for a query name",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	})

	root.AddCommand(&cobra.Command{
		Use:   "purge [name]",
		Short: "Delete all stored state for a query name",
		Args:  cobra.ExactArgs(1),
		RunE:  runPurge,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	target := storePath
	if storeBackend == "postgres" {
		target = storeDSN
	}
	return store.Open(ctx, storeBackend, target)
}

func runNames(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := query.StoredQueryNames(ctx, db)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runShow(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	name := args[0]
	record := map[string]any{"name": name}

	if raw, err := db.Get(ctx, store.NamespaceQueries, name); err == nil {
		rows, derr := query.UnmarshalQueryData(raw)
		if derr != nil {
			record["results"] = raw
		} else {
			record["results"] = rows
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	for field, key := range map[string]string{
		"epoch":   name + "epoch",
		"counter": name + "counter",
		"query":   "query." + name,
	} {
		if v, err := db.Get(ctx, store.NamespaceQueries, key); err == nil {
			record[field] = v
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	formatted, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func runPurge(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	name := args[0]
	keys := []string{name, name + "epoch", name + "counter", "query." + name}
	for _, key := range keys {
		if err := db.Delete(ctx, store.NamespaceQueries, key); err != nil {
			return err
		}
	}
	fmt.Printf("purged %s\n", strings.Join(keys, ", "))
	return nil
}
