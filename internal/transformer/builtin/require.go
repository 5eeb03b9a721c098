package builtin

import (
	"context"

	"csvload/pkg/records"
)

// Require removes every row whose value in Column is null. Several Require
// steps on different columns drop the union of their failing rows.
type Require struct {
	Column string
}

// Apply filters the table.
func (r Require) Apply(_ context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	if err := needColumn(in, r.Column); err != nil {
		return nil, err
	}
	out := in.Filter(func(_ int, rec records.Record) bool { return rec[r.Column] != nil })
	st.addDropped(r.Column, "drop_if_null", in.Len()-out.Len())
	return out, nil
}
