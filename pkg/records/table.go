package records

import (
	"fmt"
)

// Table is an ordered header plus rows. Stages treat a *Table they receive as
// read-only and return a new value.
type Table struct {
	Columns []Column
	Rows    []Record
}

// NewTable returns an empty table with the given header.
func NewTable(cols ...Column) *Table {
	c := make([]Column, len(cols))
	copy(c, cols)
	return &Table{Columns: c}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Names returns the column names in header order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the header position of name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is in the header.
func (t *Table) HasColumn(name string) bool { return t.Index(name) >= 0 }

// Column returns the header entry for name.
func (t *Table) Column(name string) (Column, bool) {
	if i := t.Index(name); i >= 0 {
		return t.Columns[i], true
	}
	return Column{}, false
}

// SetType changes the declared type of name. It does not touch values.
func (t *Table) SetType(name string, typ Type) error {
	i := t.Index(name)
	if i < 0 {
		return fmt.Errorf("records: unknown column %q", name)
	}
	t.Columns[i].Type = typ
	return nil
}

// AddColumn appends col to the header and sets it to null in every row.
func (t *Table) AddColumn(col Column) error {
	if t.HasColumn(col.Name) {
		return fmt.Errorf("records: column %q already exists", col.Name)
	}
	t.Columns = append(t.Columns, col)
	for _, r := range t.Rows {
		r[col.Name] = nil
	}
	return nil
}

// DropColumn removes name from the header and from every row.
func (t *Table) DropColumn(name string) error {
	i := t.Index(name)
	if i < 0 {
		return fmt.Errorf("records: unknown column %q", name)
	}
	t.Columns = append(t.Columns[:i:i], t.Columns[i+1:]...)
	for _, r := range t.Rows {
		delete(r, name)
	}
	return nil
}

// Append adds a row. The row is used as is; callers must not retain it.
func (t *Table) Append(r Record) { t.Rows = append(t.Rows, r) }

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable(t.Columns...)
	out.Rows = make([]Record, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Filter returns a new table with the same header and the rows for which
// keep returns true. Rows are shared with t, not copied.
func (t *Table) Filter(keep func(i int, r Record) bool) *Table {
	out := NewTable(t.Columns...)
	out.Rows = make([]Record, 0, len(t.Rows))
	for i, r := range t.Rows {
		if keep(i, r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// NullCount returns how many rows hold null in name.
func (t *Table) NullCount(name string) int {
	n := 0
	for _, r := range t.Rows {
		if r[name] == nil {
			n++
		}
	}
	return n
}

// Values returns the column as a slice, nulls included.
func (t *Table) Values(name string) []any {
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

// Check verifies the table invariants: every row carries exactly the header
// columns and every non-null value matches its column's declared type.
func (t *Table) Check() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("records: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("records: row %d has %d fields, header has %d", i, len(r), len(t.Columns))
		}
		for _, c := range t.Columns {
			v, ok := r[c.Name]
			if !ok {
				return fmt.Errorf("records: row %d missing column %q", i, c.Name)
			}
			if v != nil && !c.Type.Accepts(v) {
				return fmt.Errorf("records: row %d column %q: %T is not %s", i, c.Name, v, c.Type)
			}
		}
	}
	return nil
}
