package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

func people() *records.Table {
	t := records.NewTable(
		records.Column{Name: "id", Type: records.Integer},
		records.Column{Name: "name", Type: records.Text},
		records.Column{Name: "seen", Type: records.Date},
	)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t.Append(records.Record{"id": int64(1), "name": nil, "seen": day})
	t.Append(records.Record{"id": int64(2), "name": "b", "seen": day})
	t.Append(records.Record{"id": int64(1), "name": "a", "seen": day})
	t.Append(records.Record{"id": int64(3), "name": "c", "seen": nil})
	return t
}

func TestDedupPolicies(t *testing.T) {
	tests := []struct {
		keep string
		want []any
	}{
		{"", []any{nil, "b", "c"}},
		{"last", []any{"b", "a", "c"}},
		{"most-complete", []any{"b", "a", "c"}},
		{"none", []any{"b", "c"}},
	}
	for _, tc := range tests {
		t.Run(tc.keep, func(t *testing.T) {
			st := NewStats()
			in := people()
			out, err := Dedup{Subset: []string{"id"}, Keep: tc.keep}.Apply(context.Background(), in, st)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Values("name"))
			assert.Equal(t, in.Len()-out.Len(), st.Duplicates)
		})
	}
}

func TestDedupAllColumns(t *testing.T) {
	in := people()
	in.Append(in.Rows[1].Clone())
	out, err := Dedup{}.Apply(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())
}

func TestDedupKeyEncodingIsTyped(t *testing.T) {
	in := records.NewTable(
		records.Column{Name: "a", Type: records.Text},
		records.Column{Name: "b", Type: records.Text},
	)
	in.Append(records.Record{"a": "a", "b": "bc"})
	in.Append(records.Record{"a": "ab", "b": "c"})
	out, err := Dedup{}.Apply(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
}

func TestDedupErrors(t *testing.T) {
	_, err := Dedup{Subset: []string{"nope"}}.Apply(context.Background(), people(), nil)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	_, err = Dedup{Keep: "random"}.Apply(context.Background(), people(), nil)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}
