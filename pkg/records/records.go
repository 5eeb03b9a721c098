// Package records defines the in-memory table that flows between pipeline
// stages. A Table is row-major: an ordered column header plus one Record
// (column name -> value) per row.
//
// Values are restricted to a small set of Go types so every stage can switch
// on them without reflection:
//
//	integer              int64
//	float                float64
//	text, categorical    string
//	boolean              bool
//	date, timestamp      time.Time (UTC)
//	null                 nil
package records

import (
	"fmt"
	"strings"
	"time"
)

// Type is the logical type of a column.
type Type string

const (
	Integer     Type = "integer"
	Float       Type = "float"
	Text        Type = "text"
	Boolean     Type = "boolean"
	Date        Type = "date"
	Timestamp   Type = "timestamp"
	Categorical Type = "categorical"
)

// Types lists every logical type in a stable order.
var Types = []Type{Integer, Float, Text, Boolean, Date, Timestamp, Categorical}

// ParseType resolves a type name, accepting the aliases commonly found in
// pipeline configs (int64, datetime, category, ...).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "int32", "int64", "bigint":
		return Integer, nil
	case "float", "float32", "float64", "double", "real", "numeric":
		return Float, nil
	case "text", "string", "str", "object":
		return Text, nil
	case "boolean", "bool":
		return Boolean, nil
	case "date":
		return Date, nil
	case "timestamp", "datetime", "datetime64", "datetime64[ns]":
		return Timestamp, nil
	case "categorical", "category":
		return Categorical, nil
	}
	return "", fmt.Errorf("records: unknown type %q", s)
}

// Numeric reports whether t holds int64 or float64 values.
func (t Type) Numeric() bool { return t == Integer || t == Float }

// Textual reports whether t holds string values.
func (t Type) Textual() bool { return t == Text || t == Categorical }

// Temporal reports whether t holds time.Time values.
func (t Type) Temporal() bool { return t == Date || t == Timestamp }

// Accepts reports whether v is a legal non-null value for t.
func (t Type) Accepts(v any) bool {
	switch v.(type) {
	case int64:
		return t == Integer
	case float64:
		return t == Float
	case string:
		return t.Textual()
	case bool:
		return t == Boolean
	case time.Time:
		return t.Temporal()
	}
	return false
}

// Column is one entry of a table header.
type Column struct {
	Name string
	Type Type
}

// Record is a single row keyed by column name. A missing key and a nil value
// both mean null, but well-formed tables always carry every key.
type Record map[string]any

// Clone returns a shallow copy of r. Values are immutable scalars so a
// shallow copy is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsNull reports whether the value of col is null.
func (r Record) IsNull(col string) bool {
	return r[col] == nil
}
