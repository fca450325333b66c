package query

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"driftwatch/internal/store"
)

func newTestQuery(t *testing.T) (*Query, store.Store) {
	t.Helper()
	db := store.NewMemory()
	return New(db, "q1", "SELECT * FROM processes"), db
}

func TestGetStatusFirstEncounter(t *testing.T) {
	ctx := context.Background()
	q, db := newTestQuery(t)

	st := q.GetStatus(ctx, 1)
	if !st.NewEpoch || !st.NewQuery {
		t.Errorf("first encounter = %+v, want NewEpoch and NewQuery", st)
	}
	if st.PreviousEpoch != 0 {
		t.Errorf("PreviousEpoch = %d, want 0", st.PreviousEpoch)
	}

	text, err := db.Get(ctx, store.NamespaceQueries, "query.q1")
	if err != nil {
		t.Fatalf("query text not persisted on first encounter: %v", err)
	}
	if text != "SELECT * FROM processes" {
		t.Errorf("stored query text = %q", text)
	}

	// The bare name key only appears once a recording persists the
	// result body, so the name is not in the store yet.
	if q.IsNameInStore(ctx) {
		t.Error("name in store before any recording")
	}
}

func TestGetStatusStable(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	var item LogItem
	item.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &item, true); err != nil {
		t.Fatalf("AddNewResults: %v", err)
	}

	st := q.GetStatus(ctx, 1)
	if st.NewEpoch || st.NewQuery {
		t.Errorf("stable status = %+v, want neither flag", st)
	}
	if st.PreviousEpoch != 1 {
		t.Errorf("PreviousEpoch = %d, want 1", st.PreviousEpoch)
	}
}

func TestGetStatusEpochChange(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	var item LogItem
	item.Epoch = 5
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &item, true); err != nil {
		t.Fatalf("AddNewResults: %v", err)
	}

	// Any change, in either direction, is a discontinuity.
	for _, epoch := range []uint64{6, 3} {
		st := q.GetStatus(ctx, epoch)
		if !st.NewEpoch {
			t.Errorf("epoch %d: NewEpoch = false, want true", epoch)
		}
		if st.NewQuery {
			t.Errorf("epoch %d: NewQuery = true, want false", epoch)
		}
		if st.PreviousEpoch != 5 {
			t.Errorf("epoch %d: PreviousEpoch = %d, want 5", epoch, st.PreviousEpoch)
		}
	}
}

func TestGetStatusQueryTextChange(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()

	var item LogItem
	item.Epoch = 1
	q := New(db, "q1", "SELECT 1")
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &item, true); err != nil {
		t.Fatalf("AddNewResults: %v", err)
	}

	altered := New(db, "q1", "SELECT 2")
	st := altered.GetStatus(ctx, 1)
	if !st.NewQuery || st.NewEpoch {
		t.Errorf("altered text status = %+v, want NewQuery only", st)
	}

	// The new text is persisted, so a repeat call is stable.
	st = altered.GetStatus(ctx, 1)
	if st.NewQuery || st.NewEpoch {
		t.Errorf("repeat status = %+v, want neither flag", st)
	}
}

func TestCounterRules(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	tests := []struct {
		name       string
		allRecords bool
		newQuery   bool
		want       uint64
	}{
		{"all records resets to 0", true, false, 0},
		{"all records wins over new query", true, true, 0},
		{"new query starts at 1", false, true, 1},
		{"no stored counter starts at 0", false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Counter(ctx, tt.allRecords, tt.newQuery); got != tt.want {
				t.Errorf("Counter(%v, %v) = %d, want %d", tt.allRecords, tt.newQuery, got, tt.want)
			}
		})
	}
}

func TestCounterMonotonicity(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	first, err := q.IncrementCounter(ctx, false, true)
	if err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if first != 1 {
		t.Fatalf("new-query counter = %d, want 1", first)
	}

	prev := first
	for i := 0; i < 5; i++ {
		c, err := q.IncrementCounter(ctx, false, false)
		if err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
		if c != prev+1 {
			t.Fatalf("counter = %d, want %d", c, prev+1)
		}
		prev = c
	}

	c, err := q.IncrementCounter(ctx, true, false)
	if err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if c != 0 {
		t.Errorf("all-records counter = %d, want 0", c)
	}
}

func TestAddNewResultsNoOpSuppression(t *testing.T) {
	ctx := context.Background()
	q, db := newTestQuery(t)

	rows := QueryData{row("a", "1"), row("b", "2")}

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, rows, &first, true); err != nil {
		t.Fatalf("first AddNewResults: %v", err)
	}
	if first.Counter != 1 {
		t.Errorf("first counter = %d, want 1", first.Counter)
	}

	counterBefore, _ := db.Get(ctx, store.NamespaceQueries, "q1counter")

	var second LogItem
	second.Epoch = 1
	if err := q.AddNewResults(ctx, rows, &second, true); err != nil {
		t.Fatalf("second AddNewResults: %v", err)
	}
	if !second.Results.Empty() {
		t.Errorf("second results = %+v, want empty", second.Results)
	}
	if second.Counter != 0 {
		t.Errorf("second counter = %d, want 0 (not assigned)", second.Counter)
	}

	counterAfter, _ := db.Get(ctx, store.NamespaceQueries, "q1counter")
	if counterBefore != counterAfter {
		t.Errorf("stored counter advanced %s -> %s on a no-op execution", counterBefore, counterAfter)
	}
}

func TestAddNewResultsDifferential(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &first, true); err != nil {
		t.Fatalf("first AddNewResults: %v", err)
	}
	if !reflect.DeepEqual(first.Results.Added, QueryData{row("a", "1")}) {
		t.Errorf("first added = %v", first.Results.Added)
	}

	var second LogItem
	second.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1"), row("b", "2")}, &second, true); err != nil {
		t.Fatalf("second AddNewResults: %v", err)
	}
	if !reflect.DeepEqual(second.Results.Added, QueryData{row("b", "2")}) {
		t.Errorf("second added = %v, want just b", second.Results.Added)
	}
	if len(second.Results.Removed) != 0 {
		t.Errorf("second removed = %v, want none", second.Results.Removed)
	}
	if second.Counter != 2 {
		t.Errorf("second counter = %d, want 2", second.Counter)
	}
}

// TestEpochBoundary follows one query across an epoch change: the
// closing epoch's tail delta is emitted once with its own counter and
// the new epoch restarts as a full added baseline with counter 0.
func TestEpochBoundary(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &first, true); err != nil {
		t.Fatalf("first AddNewResults: %v", err)
	}
	if first.Counter != 1 {
		t.Errorf("first counter = %d, want 1", first.Counter)
	}

	var second LogItem
	second.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1"), row("b", "2")}, &second, true); err != nil {
		t.Fatalf("second AddNewResults: %v", err)
	}
	if second.Counter != 2 {
		t.Errorf("second counter = %d, want 2", second.Counter)
	}

	var third LogItem
	third.Epoch = 2
	if err := q.AddNewResults(ctx, QueryData{row("b", "2")}, &third, true); err != nil {
		t.Fatalf("third AddNewResults: %v", err)
	}

	if third.PreviousEpoch != 1 {
		t.Errorf("PreviousEpoch = %d, want 1", third.PreviousEpoch)
	}
	if len(third.PreviousRemaining.Added) != 0 {
		t.Errorf("previous remaining added = %v, want none", third.PreviousRemaining.Added)
	}
	if !reflect.DeepEqual(third.PreviousRemaining.Removed, QueryData{row("a", "1")}) {
		t.Errorf("previous remaining removed = %v, want a", third.PreviousRemaining.Removed)
	}
	if third.PreviousRemainingCounter != 3 {
		t.Errorf("previous remaining counter = %d, want 3", third.PreviousRemainingCounter)
	}
	if !reflect.DeepEqual(third.Results.Added, QueryData{row("b", "2")}) {
		t.Errorf("new epoch added = %v, want full current set", third.Results.Added)
	}
	if third.Counter != 0 {
		t.Errorf("new epoch counter = %d, want 0", third.Counter)
	}
}

func TestEpochBoundaryNoTailDelta(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	rows := QueryData{row("a", "1")}

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, rows, &first, true); err != nil {
		t.Fatalf("first AddNewResults: %v", err)
	}

	var second LogItem
	second.Epoch = 2
	if err := q.AddNewResults(ctx, rows, &second, true); err != nil {
		t.Fatalf("second AddNewResults: %v", err)
	}
	if !second.PreviousRemaining.Empty() {
		t.Errorf("previous remaining = %+v, want empty for unchanged rows", second.PreviousRemaining)
	}
	if second.PreviousRemainingCounter != 0 {
		t.Errorf("previous remaining counter = %d, want unassigned", second.PreviousRemainingCounter)
	}
	if second.Counter != 0 {
		t.Errorf("new epoch counter = %d, want 0", second.Counter)
	}
}

func TestAddNewResultsWithoutDiff(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuery(t)

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &first, true); err != nil {
		t.Fatalf("first AddNewResults: %v", err)
	}

	// Diffing disabled: the full current set moves into added.
	var second LogItem
	second.Epoch = 1
	current := QueryData{row("a", "1"), row("b", "2")}
	if err := q.AddNewResults(ctx, current, &second, false); err != nil {
		t.Fatalf("second AddNewResults: %v", err)
	}
	if !reflect.DeepEqual(second.Results.Added, current) {
		t.Errorf("added = %v, want full current set", second.Results.Added)
	}
}

func TestAddNewEvents(t *testing.T) {
	ctx := context.Background()
	q, db := newTestQuery(t)

	// The events path never persists the epoch key, so a stable
	// stream needs the zero epoch here.
	var first LogItem
	if err := q.AddNewEvents(ctx, QueryData{row("ev", "1")}, &first); err != nil {
		t.Fatalf("AddNewEvents: %v", err)
	}
	if first.Counter != 1 {
		t.Errorf("first counter = %d, want 1", first.Counter)
	}
	if len(first.Results.Removed) != 0 {
		t.Errorf("events reported removals: %v", first.Results.Removed)
	}

	// Event baselines stay empty; only bookkeeping is kept.
	raw, err := db.Get(ctx, store.NamespaceQueries, "q1")
	if err != nil {
		t.Fatalf("baseline read: %v", err)
	}
	if raw != "[]" {
		t.Errorf("baseline = %q, want empty collection", raw)
	}

	var second LogItem
	if err := q.AddNewEvents(ctx, QueryData{row("ev", "2")}, &second); err != nil {
		t.Fatalf("AddNewEvents: %v", err)
	}
	if second.Counter != 2 {
		t.Errorf("second counter = %d, want 2", second.Counter)
	}

	// No rows: counter not advanced.
	var third LogItem
	if err := q.AddNewEvents(ctx, nil, &third); err != nil {
		t.Fatalf("AddNewEvents: %v", err)
	}
	if third.Counter != 0 {
		t.Errorf("empty execution counter = %d, want unassigned", third.Counter)
	}
}

// failingStore wraps the memory store and fails selected operations.
type failingStore struct {
	*store.MemoryStore
	failGet bool
	failSet map[string]bool
}

var errInjected = errors.New("injected store failure")

func (f *failingStore) Get(ctx context.Context, ns, key string) (string, error) {
	if f.failGet {
		return "", errInjected
	}
	return f.MemoryStore.Get(ctx, ns, key)
}

func (f *failingStore) Set(ctx context.Context, ns, key, value string) error {
	if f.failSet[key] {
		return errInjected
	}
	return f.MemoryStore.Set(ctx, ns, key, value)
}

func TestAddNewResultsStoreWriteFailure(t *testing.T) {
	ctx := context.Background()
	db := &failingStore{MemoryStore: store.NewMemory()}
	q := New(db, "q1", "SELECT 1")

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &first, true); err != nil {
		t.Fatalf("seed AddNewResults: %v", err)
	}

	// Epoch write fails after the body write succeeded: the sequence
	// aborts with a store-write error and no counter is assigned.
	db.failSet = map[string]bool{"q1epoch": true}
	var item LogItem
	item.Epoch = 1
	err := q.AddNewResults(ctx, QueryData{row("b", "2")}, &item, true)
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("err = %v, want ErrStoreWrite", err)
	}
	if item.Counter != 0 {
		t.Errorf("counter = %d, want unassigned after abort", item.Counter)
	}
}

func TestAddNewResultsStoreReadFailure(t *testing.T) {
	ctx := context.Background()
	db := &failingStore{MemoryStore: store.NewMemory()}
	q := New(db, "q1", "SELECT 1")

	var first LogItem
	first.Epoch = 1
	if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &first, true); err != nil {
		t.Fatalf("seed AddNewResults: %v", err)
	}

	db.failGet = true
	var item LogItem
	item.Epoch = 1
	err := q.AddNewResults(ctx, QueryData{row("b", "2")}, &item, true)
	if err == nil {
		t.Fatal("expected error with failing reads")
	}
}

func TestPreviousResultsMalformed(t *testing.T) {
	ctx := context.Background()
	q, db := newTestQuery(t)

	if err := db.Set(ctx, store.NamespaceQueries, "q1", "{garbage"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, err := q.PreviousResults(ctx)
	if !errors.Is(err, ErrDeserialize) {
		t.Errorf("err = %v, want ErrDeserialize", err)
	}
}

func TestStoredQueryNames(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()

	for _, name := range []string{"q1", "q2"} {
		q := New(db, name, "SELECT 1")
		var item LogItem
		item.Epoch = 1
		if err := q.AddNewResults(ctx, QueryData{row("a", "1")}, &item, true); err != nil {
			t.Fatalf("AddNewResults(%s): %v", name, err)
		}
	}

	names, err := StoredQueryNames(ctx, db)
	if err != nil {
		t.Fatalf("StoredQueryNames: %v", err)
	}

	want := map[string]bool{
		"q1": true, "q1epoch": true, "q1counter": true, "query.q1": true,
		"q2": true, "q2epoch": true, "q2counter": true, "query.q2": true,
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected stored key %q", n)
		}
		delete(want, n)
	}
	for n := range want {
		t.Errorf("missing stored key %q", n)
	}
}
