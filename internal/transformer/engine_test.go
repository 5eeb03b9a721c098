package transformer

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	csvparser "csvload/internal/parser/csv"
	"csvload/pkg/records"
)

func customers(t *testing.T) *records.Table {
	t.Helper()
	f, err := os.Open("testdata/customers.csv")
	require.NoError(t, err)
	defer f.Close()
	tb, _, err := csvparser.Extract(context.Background(), f, csvparser.Options{
		HasHeader:  true,
		NAValues:   config.DefaultNAValues,
		ParseDates: []string{"registration_date", "last_purchase_date"},
	})
	require.NoError(t, err)
	return tb
}

func customerConfig() config.Transformation {
	return config.Transformation{
		MissingValueStrategy: map[string]string{"phone": "Unknown", "last_purchase_date": "drop"},
		TextColumns:          []string{"first_name", "last_name", "city", "state", "country"},
		TextOperations:       []string{"strip", "title"},
		ValidationRules: config.ValidationRules{
			EmailValidation: true,
			PhoneValidation: true,
			InvalidPolicy:   "flag",
		},
		RemoveDuplicates: &config.Dedup{Subset: []string{"customer_id"}, Keep: "first"},
		TypeMapping: map[string]string{
			"customer_id":       "int64",
			"registration_date": "datetime",
			"total_spent":       "float64",
			"customer_segment":  "category",
		},
	}
}

func TestEngineCustomers(t *testing.T) {
	in := customers(t)
	e, err := Compile(customerConfig(), nil)
	require.NoError(t, err)

	out, st, err := e.Apply(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 16, in.Len(), "input is untouched")
	assert.Equal(t, "  john ", in.Rows[0]["first_name"])

	assert.Equal(t, 12, out.Len())
	assert.Equal(t, 4, st.Dropped["last_purchase_date:drop_if_null"])
	assert.Equal(t, 16, st.RowsIn)
	assert.Equal(t, 12, st.RowsOut)
	assert.Equal(t, 0, out.NullCount("last_purchase_date"))
	assert.Equal(t, 0, out.NullCount("phone"))

	first := out.Rows[0]
	assert.Equal(t, "John", first["first_name"])
	assert.Equal(t, "New York", first["city"])
	assert.Equal(t, "555-123-4567", first["phone"])

	assert.Equal(t, 0, st.Flags["email_valid"])
	assert.Equal(t, 3, st.Flags["phone_valid"], "1005 and 1012 were filled with Unknown, 1008 is short")

	seg, _ := out.Column("customer_segment")
	assert.Equal(t, records.Categorical, seg.Type)
	reg, _ := out.Column("registration_date")
	assert.Equal(t, records.Timestamp, reg.Type)

	want := append(in.Names(), "email_valid", "phone_valid")
	got := out.Names()
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestEngineFlagsWithoutDropping(t *testing.T) {
	in := records.NewTable(records.Column{Name: "email", Type: records.Text})
	in.Append(records.Record{"email": "ok@example.com"})
	in.Append(records.Record{"email": "bad@"})

	e, err := Compile(config.Transformation{
		FieldRules: []config.FieldRules{{Column: "email", Rules: []config.Rule{
			{Op: "validate_pattern", Params: config.Options{"pattern": "email"}},
		}}},
	}, nil)
	require.NoError(t, err)
	out, _, err := e.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, []any{true, false}, out.Values("email_valid"))
}

func TestEngineDropUnion(t *testing.T) {
	in := records.NewTable(
		records.Column{Name: "a", Type: records.Integer},
		records.Column{Name: "b", Type: records.Integer},
	)
	one := int64(1)
	in.Append(records.Record{"a": one, "b": one})
	in.Append(records.Record{"a": nil, "b": one})
	in.Append(records.Record{"a": one, "b": nil})
	in.Append(records.Record{"a": nil, "b": nil})

	e, err := Compile(config.Transformation{
		MissingValueStrategy: map[string]string{"a": "drop", "b": "drop"},
	}, nil)
	require.NoError(t, err)
	out, st, err := e.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, 3, st.TotalDropped())
}

func TestEngineDefaultMissing(t *testing.T) {
	in := records.NewTable(
		records.Column{Name: "a", Type: records.Text},
		records.Column{Name: "b", Type: records.Text},
	)
	in.Append(records.Record{"a": nil, "b": nil})
	e, err := Compile(config.Transformation{
		MissingValueStrategy: map[string]string{"a": "x"},
		MissingValueDefault:  "n/a",
	}, nil)
	require.NoError(t, err)
	out, _, err := e.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, records.Record{"a": "x", "b": "n/a"}, out.Rows[0])
}

func TestEngineOrderWithinColumn(t *testing.T) {
	in := records.NewTable(records.Column{Name: "n", Type: records.Text})
	in.Append(records.Record{"n": " 42 "})
	in.Append(records.Record{"n": nil})
	e, err := Compile(config.Transformation{
		FieldRules: []config.FieldRules{{Column: "n", Rules: []config.Rule{
			{Op: "normalize", Params: config.Options{"ops": []any{"strip"}}},
			{Op: "convert_type", Params: config.Options{"type": "integer"}},
			{Op: "fill_null", Params: config.Options{"strategy": "mean"}},
		}}},
	}, nil)
	require.NoError(t, err)
	out, _, err := e.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42), int64(42)}, out.Values("n"))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Transformation
		path string
	}{
		{"unknown op", config.Transformation{FieldRules: []config.FieldRules{{Column: "a", Rules: []config.Rule{{Op: "explode"}}}}},
			"transformation.field_rules[0].rules[0]"},
		{"bad pattern", config.Transformation{FieldRules: []config.FieldRules{{Column: "a", Rules: []config.Rule{
			{Op: "validate_pattern", Params: config.Options{"pattern": "(["}}}}}},
			"transformation.field_rules[0].rules[0]"},
		{"bad type", config.Transformation{TypeMapping: map[string]string{"a": "blob"}}, "transformation.type_mapping.a"},
		{"bad keep", config.Transformation{RemoveDuplicates: &config.Dedup{Keep: "middle"}}, "transformation.remove_duplicates.keep"},
		{"fill without value", config.Transformation{FieldRules: []config.FieldRules{{Column: "a", Rules: []config.Rule{{Op: "fill_null"}}}}},
			"transformation.field_rules[0].rules[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.cfg, nil)
			var ce *apperrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.path, ce.Path)
		})
	}
}

func TestEngineRuntimeConfigErrors(t *testing.T) {
	in := records.NewTable(records.Column{Name: "a", Type: records.Text})
	in.Append(records.Record{"a": "x"})

	e, err := Compile(config.Transformation{MissingValueStrategy: map[string]string{"a": "mean"}}, nil)
	require.NoError(t, err)
	_, _, err = e.Apply(context.Background(), in)
	var ce *apperrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "transformation.missing_value_strategy.a", ce.Path)

	e, err = Compile(config.Transformation{TextColumns: []string{"ghost"}, TextOperations: []string{"strip"}}, nil)
	require.NoError(t, err)
	_, _, err = e.Apply(context.Background(), in)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestEngineImplicitValidationSkipsAbsentColumns(t *testing.T) {
	in := records.NewTable(records.Column{Name: "a", Type: records.Text})
	in.Append(records.Record{"a": "x"})
	e, err := Compile(config.Transformation{ValidationRules: config.ValidationRules{EmailValidation: true, PhoneValidation: true}}, nil)
	require.NoError(t, err)
	out, _, err := e.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Names())
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Chain{}.Apply(ctx, records.NewTable(), nil)
	assert.NoError(t, err, "an empty chain does nothing")
	e, err := Compile(customerConfig(), nil)
	require.NoError(t, err)
	_, _, err = e.Apply(ctx, customers(t))
	assert.ErrorIs(t, err, context.Canceled)
}
