package builtin

import (
	"context"
	"math"
	"sort"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Fill strategies.
const (
	FillValue    = "value"
	FillMean     = "mean"
	FillMedian   = "median"
	FillMode     = "mode"
	FillForward  = "forward"
	FillBackward = "backward"
)

// FillStrategies lists the accepted strategy names.
var FillStrategies = []string{FillValue, FillMean, FillMedian, FillMode, FillForward, FillBackward}

// Fill replaces nulls in Column. Statistics are computed over the non-null
// values present when the step runs. When there are none, nulls stay.
// Mean and median of an integer column are rounded half away from zero;
// mode ties go to the value seen first.
type Fill struct {
	Column   string
	Strategy string
	// Value is the literal for FillValue. It must convert to the column type.
	Value any
}

// Apply fills the column in place.
func (f Fill) Apply(_ context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	col, ok := in.Column(f.Column)
	if !ok {
		return nil, apperrors.Configf("", "unknown column %q", f.Column)
	}

	var n int
	switch f.Strategy {
	case FillValue:
		v, err := records.Convert(f.Value, col.Type)
		if err != nil || v == nil {
			return nil, apperrors.Configf("", "fill value %v does not fit %s column %q", f.Value, col.Type, f.Column)
		}
		n = fillWith(in, f.Column, v)
	case FillMean, FillMedian:
		if !col.Type.Numeric() {
			return nil, apperrors.Configf("", "fill %s on column %q needs a numeric column, column is %s", f.Strategy, f.Column, col.Type)
		}
		nums := numbers(in, f.Column)
		if len(nums) == 0 {
			break
		}
		var x float64
		if f.Strategy == FillMean {
			x = mean(nums)
		} else {
			x = median(nums)
		}
		var v any = x
		if col.Type == records.Integer {
			v = int64(math.Round(x))
		}
		n = fillWith(in, f.Column, v)
	case FillMode:
		if v := mode(in, f.Column); v != nil {
			n = fillWith(in, f.Column, v)
		}
	case FillForward:
		var last any
		for _, r := range in.Rows {
			if r[f.Column] == nil {
				if last != nil {
					r[f.Column] = last
					n++
				}
				continue
			}
			last = r[f.Column]
		}
	case FillBackward:
		var next any
		for i := len(in.Rows) - 1; i >= 0; i-- {
			r := in.Rows[i]
			if r[f.Column] == nil {
				if next != nil {
					r[f.Column] = next
					n++
				}
				continue
			}
			next = r[f.Column]
		}
	default:
		return nil, apperrors.Configf("", "unknown fill strategy %q", f.Strategy)
	}
	st.addFilled(f.Column, n)
	return in, nil
}

func fillWith(t *records.Table, column string, v any) int {
	n := 0
	for _, r := range t.Rows {
		if r[column] == nil {
			r[column] = v
			n++
		}
	}
	return n
}

func numbers(t *records.Table, column string) []float64 {
	out := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		switch x := r[column].(type) {
		case int64:
			out = append(out, float64(x))
		case float64:
			out = append(out, x)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func mode(t *records.Table, column string) any {
	counts := map[any]int{}
	var order []any
	for _, r := range t.Rows {
		v := r[column]
		if v == nil {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	var best any
	bestN := 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}
