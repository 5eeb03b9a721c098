package enrich

import (
	"strings"
	"time"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/pkg/records"
)

// Comparison operators.
var operators = map[string]func(c int) bool{
	"lt": func(c int) bool { return c < 0 },
	"le": func(c int) bool { return c <= 0 },
	"gt": func(c int) bool { return c > 0 },
	"ge": func(c int) bool { return c >= 0 },
	"eq": func(c int) bool { return c == 0 },
	"ne": func(c int) bool { return c != 0 },
}

// nowOperand as a right-hand value compares against the run instant.
const nowOperand = "now"

func checkCompare(name string, inputs []string, p config.Options) error {
	if _, ok := operators[strings.ToLower(p.String("op", ""))]; !ok {
		return apperrors.Configf("", "%s: compare needs op lt, le, gt, ge, eq or ne", name)
	}
	if len(inputs) == 1 && !p.Has("value") {
		return apperrors.Configf("", "%s: compare needs a second input or a value", name)
	}
	if len(inputs) == 2 && p.Has("value") {
		return apperrors.Configf("", "%s: compare takes a second input or a value, not both", name)
	}
	return nil
}

// compare evaluates left op right. Either side null gives true, so a missing
// value never fails a rule.
func compare(s Spec, e env) (records.Type, func(records.Record) any, error) {
	test := operators[strings.ToLower(s.Params.String("op", ""))]
	left := s.Inputs[0]
	lt, _ := e.tbl.Column(left)

	var right func(records.Record) any
	var rt records.Type
	switch {
	case len(s.Inputs) == 2:
		col := s.Inputs[1]
		c, _ := e.tbl.Column(col)
		rt = c.Type
		right = func(r records.Record) any { return r[col] }
	case s.Params.String("value", "") == nowOperand:
		rt = records.Timestamp
		now := e.now
		right = func(records.Record) any { return now }
	default:
		v, err := records.Convert(s.Params.Any("value"), lt.Type)
		if err != nil {
			return "", nil, apperrors.Configf("", "%s: value %v does not fit %s column %q", s.Name, s.Params.Any("value"), lt.Type, left)
		}
		rt = lt.Type
		right = func(records.Record) any { return v }
	}
	if !orderable(lt.Type, rt) {
		return "", nil, apperrors.Configf("", "%s: cannot compare %s with %s", s.Name, lt.Type, rt)
	}
	return records.Boolean, func(r records.Record) any {
		a, b := r[left], right(r)
		if a == nil || b == nil {
			return true
		}
		c, ok := cmpValues(a, b)
		if !ok {
			return true
		}
		return test(c)
	}, nil
}

func orderable(a, b records.Type) bool {
	switch {
	case a.Numeric() && b.Numeric(), a.Temporal() && b.Temporal(), a.Textual() && b.Textual():
		return true
	}
	return a == records.Boolean && b == records.Boolean
}

func cmpValues(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		return cmp3(!x && y, x && !y), ok
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}
