package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Table {
	t := NewTable(
		Column{Name: "id", Type: Integer},
		Column{Name: "name", Type: Text},
	)
	t.Append(Record{"id": int64(1), "name": "ann"})
	t.Append(Record{"id": int64(2), "name": nil})
	return t
}

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"int64":      Integer,
		"float64":    Float,
		"string":     Text,
		"bool":       Boolean,
		"date":       Date,
		"datetime":   Timestamp,
		" Category ": Categorical,
	}
	for in, want := range cases {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseType("blob")
	assert.Error(t, err)
}

func TestTypeAccepts(t *testing.T) {
	assert.True(t, Integer.Accepts(int64(1)))
	assert.False(t, Integer.Accepts(1.0))
	assert.True(t, Categorical.Accepts("x"))
	assert.True(t, Date.Accepts(time.Now()))
	assert.False(t, Boolean.Accepts("true"))
}

func TestCloneIsDeep(t *testing.T) {
	src := sample()
	cp := src.Clone()
	cp.Rows[0]["name"] = "bob"
	require.NoError(t, cp.AddColumn(Column{Name: "extra", Type: Boolean}))

	assert.Equal(t, "ann", src.Rows[0]["name"])
	assert.Len(t, src.Columns, 2)
	_, ok := src.Rows[0]["extra"]
	assert.False(t, ok)
}

func TestAddColumnFillsNull(t *testing.T) {
	tb := sample()
	require.NoError(t, tb.AddColumn(Column{Name: "flag", Type: Boolean}))
	for _, r := range tb.Rows {
		v, ok := r["flag"]
		assert.True(t, ok)
		assert.Nil(t, v)
	}
	assert.Error(t, tb.AddColumn(Column{Name: "flag", Type: Boolean}))
	assert.NoError(t, tb.Check())
}

func TestFilterAndNullCount(t *testing.T) {
	tb := sample()
	assert.Equal(t, 1, tb.NullCount("name"))
	out := tb.Filter(func(_ int, r Record) bool { return !r.IsNull("name") })
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, 2, tb.Len())
	assert.Equal(t, []string{"id", "name"}, out.Names())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Table)
		ok   bool
	}{
		{"valid", func(*Table) {}, true},
		{"missing key", func(t *Table) { delete(t.Rows[0], "name") }, false},
		{"extra key", func(t *Table) { t.Rows[1]["x"] = nil }, false},
		{"wrong type", func(t *Table) { t.Rows[0]["id"] = "1" }, false},
		{"duplicate column", func(t *Table) { t.Columns = append(t.Columns, Column{Name: "id", Type: Integer}) }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tb := sample()
			tc.mut(tb)
			err := tb.Check()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDropColumn(t *testing.T) {
	tb := sample()
	require.NoError(t, tb.DropColumn("id"))
	assert.Equal(t, []string{"name"}, tb.Names())
	require.NoError(t, tb.Check())
	assert.Error(t, tb.DropColumn("id"))
}
