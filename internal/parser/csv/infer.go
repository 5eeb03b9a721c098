package csv

import (
	"strconv"
	"strings"
	"time"

	"csvload/pkg/records"
)

// inferType guesses a logical type from a column's non-null values. Every
// value must satisfy a narrower type for it to win; the order is integer,
// boolean, float, date/timestamp, then text. An all-null column is text.
func inferType(c *column) records.Type {
	vals := nonNull(c)
	if len(vals) == 0 {
		return records.Text
	}
	if allMatch(vals, isInt) {
		return records.Integer
	}
	if allMatch(vals, isBool) {
		return records.Boolean
	}
	if allMatch(vals, isFloat) {
		return records.Float
	}
	allDate, anyTime := true, false
	for _, v := range vals {
		_, hasTime, err := records.ParseTime(v)
		if err != nil {
			allDate = false
			break
		}
		anyTime = anyTime || hasTime
	}
	if allDate {
		if anyTime {
			return records.Timestamp
		}
		return records.Date
	}
	return records.Text
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

func isInt(s string) bool {
	_, err := parseStrictInt(s)
	return err == nil
}

func parseStrictInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func isBool(s string) bool {
	_, ok := records.ParseBool(s)
	return ok
}

// isFloat accepts decimal or scientific notation. Integers also pass so a
// column mixing 1 and 1.5 is float.
func isFloat(s string) bool {
	_, ok := records.ParseFloat(s)
	return ok
}

// bestLayout picks the layout matching the most samples. Ties go to the
// higher preference, then to declaration order. It returns "" when nothing
// matches, and the caller falls back to per-value layout detection.
func bestLayout(samples []string, typ records.Type) string {
	layouts, pref := records.DateLayouts, dateLayoutPreference
	if typ == records.Timestamp {
		layouts, pref = records.TimestampLayouts, timestampLayoutPreference
	}
	if len(samples) == 0 {
		return ""
	}
	scores := make([]int, len(layouts))
	for _, s := range samples {
		for i, lay := range layouts {
			if _, err := time.Parse(lay, s); err == nil {
				scores[i]++
			}
		}
	}
	bestIdx, bestScore, bestPref := -1, 0, -1
	for i, lay := range layouts {
		sc, p := scores[i], pref(lay)
		if sc > bestScore || (sc == bestScore && sc > 0 && p > bestPref) {
			bestIdx, bestScore, bestPref = i, sc, p
		}
	}
	if bestIdx < 0 {
		return ""
	}
	return layouts[bestIdx]
}

// dateLayoutPreference prefers ISO, then day-first, then month-first.
func dateLayoutPreference(layout string) int {
	switch layout {
	case "2006-01-02", "2006/01/02", "20060102":
		return 3
	case "02.01.2006", "02/01/2006", "2 Jan 2006", "02-Jan-2006":
		return 2
	case "01/02/2006", "Jan 2, 2006":
		return 1
	}
	return 0
}

func timestampLayoutPreference(layout string) int {
	switch layout {
	case time.RFC3339Nano:
		return 3
	case time.RFC3339:
		return 2
	}
	return 1
}
