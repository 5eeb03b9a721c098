package records

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotConvertible is returned by Convert when a value cannot be expressed
// in the target type.
var ErrNotConvertible = errors.New("records: value not convertible")

// DateLayouts are accepted date formats without a time component. ISO comes
// first so ambiguous slash dates resolve to it only when nothing else fits.
var DateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"01/02/2006",
	"02/01/2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"20060102",
}

// TimestampLayouts are accepted formats with a time component.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05 -0700",
}

var (
	truthy = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}
	falsy  = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true}
)

// ParseBool accepts the common textual booleans, case-insensitively.
func ParseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if truthy[s] {
		return true, true
	}
	if falsy[s] {
		return false, true
	}
	return false, false
}

// ParseTime tries the timestamp layouts, then the date layouts. hasTime
// reports which family matched. Results are in UTC.
func ParseTime(s string) (t time.Time, hasTime bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range TimestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC(), true, nil
		}
	}
	for _, layout := range DateLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q is not a date", ErrNotConvertible, s)
}

// ParseTimeLayout parses s with layout first and falls back to ParseTime.
func ParseTimeLayout(s, layout string) (time.Time, error) {
	if layout != "" {
		if v, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return v.UTC(), nil
		}
	}
	v, _, err := ParseTime(s)
	return v, err
}

// ParseInt accepts base-10 integers and integral floats such as "3.0".
func ParseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatToInt(f)
	}
	return 0, false
}

// int64 bounds as exact floats. 1<<63 itself does not fit.
const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

// floatToInt converts an integral float that fits in int64.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f < minInt64Float || f >= maxInt64Float {
		return 0, false
	}
	return int64(f), true
}

// ParseFloat accepts decimal and scientific notation. NaN and Inf are
// rejected.
func ParseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Format renders a non-null value as text. Times use RFC 3339, or ISO date
// when there is no time-of-day component.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// Convert coerces v to target. nil converts to nil. Strings are parsed;
// numbers, booleans and times convert where the mapping is lossless or
// conventional (float to integer requires an integral value within int64 range).
func Convert(v any, target Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	fail := func() (any, error) {
		return nil, fmt.Errorf("%w: %v (%T) to %s", ErrNotConvertible, v, v, target)
	}
	switch target {
	case Text, Categorical:
		return Format(v), nil

	case Integer:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if i, ok := floatToInt(x); ok {
				return i, nil
			}
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if i, ok := ParseInt(x); ok {
				return i, nil
			}
		}
		return fail()

	case Float:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			if f, ok := ParseFloat(x); ok {
				return f, nil
			}
		}
		return fail()

	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case string:
			if b, ok := ParseBool(x); ok {
				return b, nil
			}
		}
		return fail()

	case Date, Timestamp:
		var t time.Time
		switch x := v.(type) {
		case time.Time:
			t = x.UTC()
		case string:
			parsed, _, err := ParseTime(x)
			if err != nil {
				return fail()
			}
			t = parsed
		default:
			return fail()
		}
		if target == Date {
			t = t.Truncate(24 * time.Hour)
		}
		return t, nil
	}
	return nil, fmt.Errorf("records: unknown target type %q", target)
}
