package query

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SerializeOptions carries the logger configuration that shapes the
// rendered records. It is threaded explicitly so serialization stays
// testable without process-wide state.
type SerializeOptions struct {
	// Numerics emits numeric row values using JSON number syntax
	// instead of strings.
	Numerics bool
	// DecorationsTopLevel flattens decorations into the record
	// instead of nesting them under a "decorations" key.
	DecorationsTopLevel bool
}

func renderValue(v any, numerics bool) any {
	if numerics {
		return v
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func renderRow(r Row, numerics bool) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = renderValue(v, numerics)
	}
	return out
}

func renderRows(qd QueryData, numerics bool) []map[string]any {
	out := make([]map[string]any, 0, len(qd))
	for _, r := range qd {
		out = append(out, renderRow(r, numerics))
	}
	return out
}

// addLegacyFields stamps the metadata every record carries. The
// previous-remaining view reports the closing epoch and the tail
// delta's own counter.
func addLegacyFields(doc map[string]any, item *LogItem, previousRemaining bool, opts SerializeOptions) {
	doc["name"] = item.Name
	doc["hostIdentifier"] = item.HostIdentifier
	doc["calendarTime"] = item.CalendarTime
	doc["unixTime"] = item.UnixTime
	if previousRemaining {
		doc["epoch"] = item.PreviousEpoch
		doc["previous_epoch"] = item.PreviousEpoch
		doc["counter"] = item.PreviousRemainingCounter
	} else {
		doc["epoch"] = item.Epoch
		doc["previous_epoch"] = item.PreviousEpoch
		doc["counter"] = item.Counter
	}
	doc["numerics"] = opts.Numerics

	if len(item.Decorations) == 0 {
		return
	}
	if opts.DecorationsTopLevel {
		for k, v := range item.Decorations {
			doc[k] = v
		}
	} else {
		dec := make(map[string]any, len(item.Decorations))
		for k, v := range item.Decorations {
			dec[k] = v
		}
		doc["decorations"] = dec
	}
}

// SerializeLogItem renders the aggregated form of one view: a
// diffResults object when the selected delta is non-empty, otherwise
// a snapshot array tagged action "snapshot".
func SerializeLogItem(item *LogItem, previousRemaining bool, opts SerializeOptions) map[string]any {
	doc := make(map[string]any)
	dr := item.view(previousRemaining)
	if !dr.Empty() {
		doc["diffResults"] = map[string]any{
			"added":   renderRows(dr.Added, opts.Numerics),
			"removed": renderRows(dr.Removed, opts.Numerics),
		}
	} else {
		doc["snapshot"] = renderRows(item.Snapshot, opts.Numerics)
		doc["action"] = "snapshot"
	}
	addLegacyFields(doc, item, previousRemaining, opts)
	return doc
}

// SerializeLogItemJSON renders one execution as 1 or 2 JSON lines,
// closing-epoch view first. A view is suppressed only when it has
// neither diff rows nor snapshot rows, so consumers can ignore
// counter=0 records without missing differential events; snapshot
// rows render in both views, the first tagged with the closing
// epoch's metadata.
func SerializeLogItemJSON(item *LogItem, opts SerializeOptions) ([]string, error) {
	var out []string

	if !item.PreviousRemaining.Empty() || len(item.Snapshot) > 0 {
		b, err := json.Marshal(SerializeLogItem(item, true, opts))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
		}
		out = append(out, string(b))
	}

	if !item.Results.Empty() || len(item.Snapshot) > 0 {
		b, err := json.Marshal(SerializeLogItem(item, false, opts))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
		}
		out = append(out, string(b))
	}
	return out, nil
}

// serializeEvents renders one view as one JSON line per row. Row
// columns nest under a "columns" key to avoid collisions with the
// record metadata.
func serializeEvents(item *LogItem, previousRemaining bool, opts SerializeOptions) ([]string, error) {
	type group struct {
		action string
		rows   QueryData
	}

	dr := item.view(previousRemaining)
	var groups []group
	switch {
	case !dr.Empty():
		groups = []group{{"added", dr.Added}, {"removed", dr.Removed}}
	case len(item.Snapshot) > 0:
		groups = []group{{"snapshot", item.Snapshot}}
	default:
		return nil, fmt.Errorf("%w: query %q", ErrNoResults, item.Name)
	}

	var out []string
	for _, g := range groups {
		for _, row := range g.rows {
			ev := make(map[string]any)
			addLegacyFields(ev, item, previousRemaining, opts)
			ev["columns"] = renderRow(row, opts.Numerics)
			ev["action"] = g.action

			b, err := json.Marshal(ev)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
			}
			out = append(out, string(b))
		}
	}
	return out, nil
}

// SerializeLogItemAsEventsJSON renders one execution as a stream of
// per-row event lines, closing-epoch view first. The closing-epoch
// view is suppressed only when it has neither diff rows nor snapshot
// rows; a current view with neither is a configuration error, not a
// silent no-op: an events consumer expects output for every
// non-suppressed recording.
func SerializeLogItemAsEventsJSON(item *LogItem, opts SerializeOptions) ([]string, error) {
	var out []string

	if !item.PreviousRemaining.Empty() || len(item.Snapshot) > 0 {
		events, err := serializeEvents(item, true, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}

	events, err := serializeEvents(item, false, opts)
	if err != nil {
		return nil, err
	}
	return append(out, events...), nil
}
