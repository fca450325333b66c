// Package query tracks differential results for named recurring
// queries. For each execution it classifies the run against the
// persisted baseline (new query, new epoch, or stable), computes the
// row-level delta, maintains the per-name epoch/counter protocol, and
// renders the outcome as JSON records for the downstream log pipeline.
//
// The persisted triple for a name (result body, epoch, counter) is
// written with independent per-key sets; a failure mid-sequence can
// leave the triple inconsistent. Callers must not run two recordings
// for the same name concurrently.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Row is one result row: column name to value. Values are normalized
// to string, json.Number, or bool so that structural equality holds
// across a JSON round trip through the store.
type Row map[string]any

// QueryData is an insertion-ordered result set.
type QueryData []Row

// DiffResults is the row-level delta between the persisted baseline
// and the current execution.
type DiffResults struct {
	Added   QueryData `json:"added"`
	Removed QueryData `json:"removed"`
}

// Empty reports whether the delta carries no rows.
func (d DiffResults) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// LogItem is the unit of output for one execution of a named query.
type LogItem struct {
	Name           string
	HostIdentifier string
	UnixTime       uint64
	CalendarTime   string

	Epoch         uint64
	PreviousEpoch uint64

	// Counter is the record sequence number within the current epoch.
	// PreviousRemainingCounter numbers the closing epoch's tail delta.
	Counter                  uint64
	PreviousRemainingCounter uint64

	Results           DiffResults
	PreviousRemaining DiffResults

	// Snapshot holds the full result set when no diff is computed.
	Snapshot   QueryData
	IsSnapshot bool

	Decorations map[string]string
}

// view selects between the closing-epoch delta and the current delta.
func (item *LogItem) view(previousRemaining bool) DiffResults {
	if previousRemaining {
		return item.PreviousRemaining
	}
	return item.Results
}

// NormalizeRow converts native numeric values to json.Number so a row
// compares equal to its deserialized form.
func NormalizeRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		switch t := v.(type) {
		case int:
			out[k] = json.Number(strconv.Itoa(t))
		case int64:
			out[k] = json.Number(strconv.FormatInt(t, 10))
		case uint64:
			out[k] = json.Number(strconv.FormatUint(t, 10))
		case float64:
			out[k] = json.Number(strconv.FormatFloat(t, 'g', -1, 64))
		default:
			out[k] = v
		}
	}
	return out
}

// NormalizeData normalizes every row in place-order.
func NormalizeData(qd QueryData) QueryData {
	out := make(QueryData, len(qd))
	for i, r := range qd {
		out[i] = NormalizeRow(r)
	}
	return out
}

// key returns a canonical encoding of the row used for structural
// membership tests. Column order does not affect the key.
func (r Row) key() string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(k)
		b.WriteByte('=')
		switch v := r[k].(type) {
		case string:
			b.WriteString("s:")
			b.WriteString(v)
		case json.Number:
			b.WriteString("n:")
			b.WriteString(v.String())
		case bool:
			b.WriteString("b:")
			b.WriteString(strconv.FormatBool(v))
		case nil:
			b.WriteString("z:")
		default:
			fmt.Fprintf(&b, "v:%v", v)
		}
		b.WriteByte(0)
	}
	return b.String()
}

// QueryDataSet is a duplicate-tolerant indexed collection built from
// the persisted baseline, supporting near-linear membership tests.
type QueryDataSet struct {
	rows  QueryData
	count map[string]int
}

// NewQueryDataSet indexes rows for membership tests, preserving their
// order for removal reporting.
func NewQueryDataSet(rows QueryData) QueryDataSet {
	s := QueryDataSet{rows: rows, count: make(map[string]int, len(rows))}
	for _, r := range rows {
		s.count[r.key()]++
	}
	return s
}

// Len returns the number of rows in the set, counting duplicates.
func (s QueryDataSet) Len() int {
	return len(s.rows)
}

// MarshalQueryData encodes rows as the persisted JSON baseline.
func MarshalQueryData(qd QueryData) (string, error) {
	if qd == nil {
		qd = QueryData{}
	}
	b, err := json.Marshal(qd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return string(b), nil
}

// UnmarshalQueryData decodes a persisted baseline, keeping numeric
// values as json.Number.
func UnmarshalQueryData(raw string) (QueryData, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var qd QueryData
	if err := dec.Decode(&qd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return qd, nil
}
