package config

import (
	"fmt"
	"strconv"
)

// Options is a free-form parameter bag for rules and calculated fields. The
// accessors do light coercion because values arrive from JSON (float64),
// YAML (int) or environment variables (string).
type Options map[string]any

// String returns the value for key as a string, or def.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Bool returns the bool value for key, or def.
func (o Options) Bool(key string, def bool) bool {
	switch b := o[key].(type) {
	case bool:
		return b
	case string:
		if v, err := strconv.ParseBool(b); err == nil {
			return v
		}
	}
	return def
}

// Int returns the value for key as an int, or def.
func (o Options) Int(key string, def int) int {
	switch n := o[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if v, err := strconv.Atoi(n); err == nil {
			return v
		}
	}
	return def
}

// Float returns the value for key as a float64. ok is false when the key is
// absent or not numeric.
func (o Options) Float(key string) (float64, bool) {
	switch n := o[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if v, err := strconv.ParseFloat(n, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// StringSlice returns a []string for key when the value is a list of
// scalars. A single string is returned as a one-element slice.
func (o Options) StringSlice(key string) []string {
	switch vv := o[key].(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if x != nil {
				out = append(out, fmt.Sprint(x))
			}
		}
		return out
	case string:
		return []string{vv}
	}
	return nil
}

// Slice returns the raw list under key, or nil.
func (o Options) Slice(key string) []any {
	if vv, ok := o[key].([]any); ok {
		return vv
	}
	return nil
}

// Any returns the raw value for key.
func (o Options) Any(key string) any { return o[key] }
