// Package schema derives a destination schema from a table's logical column
// types. It never talks to a destination.
package schema

import (
	"fmt"
	"strings"

	"csvload/pkg/records"
)

// WarehouseType is a destination column type. The names follow BigQuery
// standard SQL; SQL backends map them to their own dialect.
type WarehouseType string

const (
	Integer   WarehouseType = "INTEGER"
	Float     WarehouseType = "FLOAT"
	String    WarehouseType = "STRING"
	Boolean   WarehouseType = "BOOLEAN"
	Timestamp WarehouseType = "TIMESTAMP"
)

// Nullability policies.
const (
	// Tighten marks a field required when the column holds no nulls.
	Tighten = "tighten"
	// Always marks every field nullable.
	Always = "always"
)

// Field is one destination column.
type Field struct {
	Name     string        `json:"name"`
	Type     WarehouseType `json:"type"`
	Nullable bool          `json:"nullable"`
}

// Mode renders nullability the BigQuery way.
func (f Field) Mode() string {
	if f.Nullable {
		return "NULLABLE"
	}
	return "REQUIRED"
}

// Schema is an ordered field list.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Field returns the field called name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// WarehouseTypeOf maps a logical type to its destination type.
func WarehouseTypeOf(t records.Type) WarehouseType {
	switch t {
	case records.Integer:
		return Integer
	case records.Float:
		return Float
	case records.Boolean:
		return Boolean
	case records.Date, records.Timestamp:
		return Timestamp
	}
	return String
}

// LogicalType is the inverse mapping used when a destination schema is read
// back, so infer, create, describe and infer again agree on types.
func LogicalType(w WarehouseType) (records.Type, error) {
	switch WarehouseType(strings.ToUpper(string(w))) {
	case Integer, "INT64":
		return records.Integer, nil
	case Float, "FLOAT64":
		return records.Float, nil
	case String:
		return records.Text, nil
	case Boolean, "BOOL":
		return records.Boolean, nil
	case Timestamp:
		return records.Timestamp, nil
	}
	return "", fmt.Errorf("schema: unknown warehouse type %q", w)
}

// Infer maps every column of t to a field. Under Tighten a field is
// nullable unless the column has zero nulls; an empty table is all
// nullable. Under Always (or any other value) every field is nullable.
func Infer(t *records.Table, policy string) Schema {
	s := Schema{Fields: make([]Field, len(t.Columns))}
	for i, c := range t.Columns {
		nullable := true
		if strings.EqualFold(policy, Tighten) && t.Len() > 0 {
			nullable = t.NullCount(c.Name) > 0
		}
		s.Fields[i] = Field{Name: c.Name, Type: WarehouseTypeOf(c.Type), Nullable: nullable}
	}
	return s
}

// Compatible reports whether rows of s can be written into existing. Every
// field of s must exist in existing with the same type, and existing must
// be nullable wherever s is. Fields present only in existing must be
// nullable, since those columns receive nulls.
func (s Schema) Compatible(existing Schema) error {
	for _, f := range s.Fields {
		e, ok := existing.Field(f.Name)
		if !ok {
			return fmt.Errorf("field %q is missing from the destination", f.Name)
		}
		if e.Type != f.Type {
			return fmt.Errorf("field %q is %s at the destination, %s here", f.Name, e.Type, f.Type)
		}
		if f.Nullable && !e.Nullable {
			return fmt.Errorf("field %q is required at the destination but nullable here", f.Name)
		}
	}
	for _, e := range existing.Fields {
		if _, ok := s.Field(e.Name); !ok && !e.Nullable {
			return fmt.Errorf("destination field %q is required and not supplied", e.Name)
		}
	}
	return nil
}
