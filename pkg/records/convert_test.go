package records

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	day := time.Date(2023, 3, 14, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2023, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		in     any
		target Type
		want   any
		ok     bool
	}{
		{"nil stays nil", nil, Integer, nil, true},
		{"int text", " 42 ", Integer, int64(42), true},
		{"integral float text", "3.0", Integer, int64(3), true},
		{"fractional float text", "3.5", Integer, nil, false},
		{"float to int", 7.0, Integer, int64(7), true},
		{"bool to int", true, Integer, int64(1), true},
		{"2^63 text overflows", "9223372036854775808.0", Integer, nil, false},
		{"huge float overflows", 1e20, Integer, nil, false},
		{"max int64 as float overflows", float64(math.MaxInt64), Integer, nil, false},
		{"negative huge text overflows", "-1e19", Integer, nil, false},
		{"min int64 as float fits", float64(math.MinInt64), Integer, int64(math.MinInt64), true},
		{"large integral float fits", 1e18, Integer, int64(1e18), true},
		{"garbage int", "abc", Integer, nil, false},
		{"float text", "1e3", Float, 1000.0, true},
		{"int to float", int64(2), Float, 2.0, true},
		{"nan rejected", "NaN", Float, nil, false},
		{"yes", "Yes", Boolean, true, true},
		{"zero", int64(0), Boolean, false, true},
		{"two not bool", int64(2), Boolean, nil, false},
		{"iso date", "2023-03-14", Date, day, true},
		{"timestamp to date", ts, Date, day, true},
		{"timestamp text", "2023-03-14 09:30:00", Timestamp, ts, true},
		{"bad date", "14th of March", Timestamp, nil, false},
		{"int to text", int64(5), Text, "5", true},
		{"date to text", day, Categorical, "2023-03-14", true},
		{"float to text", 2.5, Text, "2.5", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(tc.in, tc.target)
			if !tc.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotConvertible))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTime(t *testing.T) {
	_, hasTime, err := ParseTime("2024-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.True(t, hasTime)

	v, hasTime, err := ParseTime("2024/01/02")
	require.NoError(t, err)
	assert.False(t, hasTime)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), v)

	v, err = ParseTimeLayout("02.01.2024", "02.01.2006")
	require.NoError(t, err)
	assert.Equal(t, time.January, v.Month())
}

func TestParseIntRange(t *testing.T) {
	for _, s := range []string{"9223372036854775808.0", "1e20", "-9.3e18", "NaN", "Inf"} {
		_, ok := ParseInt(s)
		assert.False(t, ok, s)
	}
	i, ok := ParseInt("9223372036854775807")
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), i)
	i, ok = ParseInt("-4.0e3")
	require.True(t, ok)
	assert.Equal(t, int64(-4000), i)
}
