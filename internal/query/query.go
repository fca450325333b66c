package query

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"driftwatch/internal/store"
)

// Query tracks the persisted state for one named recurring query.
// Methods are not safe for concurrent use against the same name; the
// scheduler guarantees at most one in-flight recording per name.
type Query struct {
	name string
	sql  string
	db   store.Store
}

// New binds a query name and its literal query text to a store.
func New(db store.Store, name, sql string) *Query {
	return &Query{name: name, sql: sql, db: db}
}

// Status classifies one execution against the stored state.
type Status struct {
	// PreviousEpoch is the last epoch stored for this name, 0 if none.
	PreviousEpoch uint64
	// NewEpoch is set when the supplied epoch differs from the stored
	// one, or on first encounter of the name.
	NewEpoch bool
	// NewQuery is set when the literal query text changed, or on
	// first encounter of the name.
	NewQuery bool
}

// PreviousEpoch returns the epoch stored for this name, 0 if absent
// or unreadable.
func (q *Query) PreviousEpoch(ctx context.Context) uint64 {
	raw, err := q.db.Get(ctx, store.NamespaceQueries, q.name+"epoch")
	if err != nil {
		return 0
	}
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return epoch
}

// Counter computes the next execution counter without persisting it.
// All-records executions reset to 0 so consumers can recognize a full
// baseline; a freshly (re)defined query starts its differential
// stream at 1; otherwise the stored counter is incremented.
func (q *Query) Counter(ctx context.Context, allRecords, newQuery bool) uint64 {
	if allRecords {
		return 0
	}
	if newQuery {
		return 1
	}

	raw, err := q.db.Get(ctx, store.NamespaceQueries, q.name+"counter")
	if err != nil {
		return 0
	}
	stored, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return stored + 1
}

// IncrementCounter computes the next counter, persists it, and
// returns it.
func (q *Query) IncrementCounter(ctx context.Context, allRecords, newQuery bool) (uint64, error) {
	counter := q.Counter(ctx, allRecords, newQuery)
	err := q.db.Set(ctx, store.NamespaceQueries, q.name+"counter",
		strconv.FormatUint(counter, 10))
	if err != nil {
		return 0, writeErr(err)
	}
	return counter, nil
}

// IsNameInStore reports whether this query name has a persisted
// record.
func (q *Query) IsNameInStore(ctx context.Context) bool {
	names, err := StoredQueryNames(ctx, q.db)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == q.name {
			return true
		}
	}
	return false
}

// IsNewQuery reports whether the literal query text differs from the
// stored one.
func (q *Query) IsNewQuery(ctx context.Context) bool {
	text, _ := q.db.Get(ctx, store.NamespaceQueries, "query."+q.name)
	return text != q.sql
}

func (q *Query) saveQueryText(ctx context.Context) {
	err := q.db.Set(ctx, store.NamespaceQueries, "query."+q.name, q.sql)
	if err != nil {
		log.Warn().Err(err).Str("query", q.name).Msg("failed to persist query text")
	}
}

// GetStatus determines whether this execution starts a new epoch or
// belongs to a freshly (re)defined query. First encounter of a name
// is both; an epoch change, in either direction, is a discontinuity.
func (q *Query) GetStatus(ctx context.Context, epoch uint64) Status {
	st := Status{PreviousEpoch: q.PreviousEpoch(ctx)}
	if !q.IsNameInStore(ctx) {
		// First encounter of this query name.
		st.NewEpoch = true
		st.NewQuery = true
		log.Info().Str("query", q.name).Msg("storing initial results for new scheduled query")
		q.saveQueryText(ctx)
	} else if st.PreviousEpoch != epoch {
		st.NewEpoch = true
		log.Info().Str("query", q.name).Uint64("epoch", epoch).Msg("new epoch for scheduled query")
	} else if q.IsNewQuery(ctx) {
		// Prior results may be invalid for the altered query text.
		st.NewQuery = true
		log.Info().Str("query", q.name).Msg("scheduled query has been updated")
		q.saveQueryText(ctx)
	}
	return st
}

// PreviousResults loads and indexes the persisted baseline.
func (q *Query) PreviousResults(ctx context.Context) (QueryDataSet, error) {
	raw, err := q.db.Get(ctx, store.NamespaceQueries, q.name)
	if err != nil {
		return QueryDataSet{}, readErr(err)
	}

	rows, err := UnmarshalQueryData(raw)
	if err != nil {
		return QueryDataSet{}, err
	}
	return NewQueryDataSet(rows), nil
}

// AddNewResults records one differential execution: classifies it,
// computes the delta against the persisted baseline when applicable,
// persists the new baseline and epoch, and assigns counters. current
// is consumed; on return item holds the execution's full outcome.
//
// The body, epoch, and counter keys are written independently; a
// failure between writes aborts immediately and can leave them out of
// sync until the next successful recording.
func (q *Query) AddNewResults(ctx context.Context, current QueryData, item *LogItem, calculateDiff bool) error {
	st := q.GetStatus(ctx, item.Epoch)
	item.PreviousEpoch = st.PreviousEpoch

	// target is the row set to persist as the next baseline. When a
	// diff is computed it stays the raw current rows; otherwise the
	// rows move into the item's added set and are persisted from
	// there.
	target := &current
	updateDB := true

	if !st.NewQuery && calculateDiff {
		previous, err := q.PreviousResults(ctx)
		if err != nil {
			return err
		}

		if st.NewEpoch {
			// Finish reporting the closing epoch before the new epoch
			// starts over as a full added baseline. Consumers that
			// already ingested the prior epoch can skip the baseline
			// without losing intervening changes.
			item.PreviousRemaining = Diff(previous, current)
			item.Results.Added = current
			target = &item.Results.Added
		} else {
			item.Results = Diff(previous, current)
			if item.Results.Empty() {
				// Nothing changed: skip the write and the counter bump.
				updateDB = false
				log.Debug().Str("query", q.name).Int("rows", previous.Len()).
					Msg("results unchanged since last execution")
			}
		}
	} else {
		item.Results.Added = current
		target = &item.Results.Added
	}

	if updateDB {
		payload, err := MarshalQueryData(*target)
		if err != nil {
			return err
		}

		if err := q.db.Set(ctx, store.NamespaceQueries, q.name, payload); err != nil {
			return writeErr(err)
		}
		err = q.db.Set(ctx, store.NamespaceQueries, q.name+"epoch",
			strconv.FormatUint(item.Epoch, 10))
		if err != nil {
			return writeErr(err)
		}
	}

	if st.NewEpoch && !item.PreviousRemaining.Empty() {
		counter, err := q.IncrementCounter(ctx, false, false)
		if err != nil {
			return err
		}
		item.PreviousRemainingCounter = counter
	}

	if updateDB || st.NewEpoch || st.NewQuery {
		// A freshly (re)defined query starts its stream at 1 even
		// though its first result set is a full baseline; only a pure
		// epoch change resets the counter to 0.
		counter, err := q.IncrementCounter(ctx, st.NewEpoch && !st.NewQuery, st.NewQuery)
		if err != nil {
			return err
		}
		item.Counter = counter
	}
	return nil
}

// AddNewEvents records one event-stream execution. Event queries
// never diff row identity; only the epoch and counter bookkeeping is
// maintained, and the baseline is reset empty on an epoch change.
func (q *Query) AddNewEvents(ctx context.Context, current QueryData, item *LogItem) error {
	st := q.GetStatus(ctx, item.Epoch)
	item.PreviousEpoch = st.PreviousEpoch

	if st.NewEpoch {
		if err := q.db.Set(ctx, store.NamespaceQueries, q.name, "[]"); err != nil {
			return writeErr(err)
		}
	}

	item.Results.Added = current
	if len(item.Results.Added) > 0 {
		counter, err := q.IncrementCounter(ctx, false, st.NewEpoch || st.NewQuery)
		if err != nil {
			return err
		}
		item.Counter = counter
	}
	return nil
}

// StoredQueryNames enumerates every key in the queries namespace,
// including the epoch, counter, and query-text bookkeeping keys. Used
// by maintenance tooling, not the recording hot path.
func StoredQueryNames(ctx context.Context, db store.Store) ([]string, error) {
	names, err := db.Keys(ctx, store.NamespaceQueries)
	if err != nil {
		return nil, readErr(err)
	}
	return names, nil
}
