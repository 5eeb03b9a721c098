package builtin

import (
	"fmt"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Policy decides what happens to a row whose value fails a check.
type Policy string

const (
	// PolicyFlag keeps the row and records false in <column>_valid.
	PolicyFlag Policy = "flag"
	// PolicyDrop removes the row.
	PolicyDrop Policy = "drop"
	// PolicyNull replaces the value with null. Only conversions use it.
	PolicyNull Policy = "null"
)

// FlagColumn names the boolean column a flagging step writes for column.
func FlagColumn(column string) string { return column + "_valid" }

func needColumn(t *records.Table, name string) error {
	if !t.HasColumn(name) {
		return apperrors.Configf("", "unknown column %q", name)
	}
	return nil
}

func needType(t *records.Table, name, op string, ok func(records.Type) bool, want string) (records.Column, error) {
	col, found := t.Column(name)
	if !found {
		return col, apperrors.Configf("", "unknown column %q", name)
	}
	if !ok(col.Type) {
		return col, apperrors.Configf("", "%s on column %q needs %s, column is %s", op, name, want, col.Type)
	}
	return col, nil
}

// markInvalid applies policy to the rows listed in bad. Flag mode ANDs into
// <column>_valid, so two checks on the same column share one flag. A flag
// column is created true for every row on first use; null values never
// fail a check.
func markInvalid(t *records.Table, column, op string, policy Policy, bad map[int]bool, st *Stats) (*records.Table, error) {
	switch policy {
	case PolicyDrop:
		out := t.Filter(func(i int, _ records.Record) bool { return !bad[i] })
		st.addDropped(column, op, t.Len()-out.Len())
		return out, nil
	case PolicyFlag, "":
		flag := FlagColumn(column)
		if col, ok := t.Column(flag); ok {
			if col.Type != records.Boolean {
				return nil, apperrors.Configf("", "flag column %q exists with type %s", flag, col.Type)
			}
		} else {
			if err := t.AddColumn(records.Column{Name: flag, Type: records.Boolean}); err != nil {
				return nil, err
			}
			for _, r := range t.Rows {
				r[flag] = true
			}
		}
		n := 0
		for i, r := range t.Rows {
			if bad[i] {
				r[flag] = false
			}
			if r[flag] == false {
				n++
			}
		}
		st.SetFlagCount(flag, n)
		return t, nil
	}
	return nil, fmt.Errorf("builtin: unsupported policy %q for %s", policy, op)
}
