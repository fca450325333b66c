package query

// Diff computes the delta between the previous baseline and the
// current result set. Each current row consumes at most one matching
// previous row; unmatched current rows are added in current order,
// unconsumed previous rows are removed in baseline order. A row
// present in both with identical contents appears in neither list.
func Diff(previous QueryDataSet, current QueryData) DiffResults {
	remaining := make(map[string]int, len(previous.count))
	for k, n := range previous.count {
		remaining[k] = n
	}

	var d DiffResults
	for _, row := range current {
		k := row.key()
		if remaining[k] > 0 {
			remaining[k]--
		} else {
			d.Added = append(d.Added, row)
		}
	}

	for _, row := range previous.rows {
		k := row.key()
		if remaining[k] > 0 {
			remaining[k]--
			d.Removed = append(d.Removed, row)
		}
	}
	return d
}
