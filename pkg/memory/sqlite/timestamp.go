package sqlite

import "time"

// timeLayout is RFC3339 with a fixed-width 9-digit fractional second. Unlike
// time.RFC3339Nano (which trims trailing zeros), this keeps every formatted
// timestamp the same length, which is required for SQL-side lexicographic
// ORDER BY / >= / <= comparisons on the stored TEXT column to agree with
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
