package enrich

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/pkg/records"
)

const day = 24 * time.Hour

// Threshold is an inclusive lower bound of a tier.
type Threshold struct {
	Min   float64
	Label string
}

// DefaultTiers is the lifetime-value table.
var DefaultTiers = []Threshold{
	{Min: 0, Label: "Low"},
	{Min: 500, Label: "Medium"},
	{Min: 1000, Label: "High"},
	{Min: 2000, Label: "Premium"},
}

// NewSpec checks the arity and parameters of a spec and binds its function.
func NewSpec(name string, fn Function, inputs []string, params config.Options) (Spec, error) {
	s := Spec{Name: name, Function: fn, Inputs: inputs, Params: params}
	if strings.TrimSpace(name) == "" {
		return s, apperrors.Configf("", "calculated field has no name")
	}
	arity := func(lo, hi int) error {
		if len(inputs) < lo || (hi >= 0 && len(inputs) > hi) {
			return apperrors.Configf("", "%s: %s takes %s inputs, got %d", name, fn, arityText(lo, hi), len(inputs))
		}
		return nil
	}
	var err error
	switch fn {
	case DateDiff:
		s.fn = dateDiff
		err = arity(2, 2)
	case DaysSince:
		s.fn = daysSince
		err = arity(1, 1)
	case Tier:
		if err = arity(1, 1); err == nil {
			_, err = tiersOf(params)
		}
		s.fn = tier
	case Concat:
		s.fn = concat
		err = arity(1, -1)
	case ProcessedAt:
		s.fn = processedAt
		err = arity(0, 0)
	case Compare:
		if err = arity(1, 2); err == nil {
			err = checkCompare(name, inputs, params)
		}
		s.fn = compare
	case All:
		s.fn = all
		err = arity(0, -1)
	default:
		err = apperrors.Configf("", "%s: unknown function %q", name, fn)
	}
	return s, err
}

func arityText(lo, hi int) string {
	switch {
	case hi < 0:
		return fmt.Sprintf("at least %d", lo)
	case lo == hi:
		return fmt.Sprint(lo)
	}
	return fmt.Sprintf("%d to %d", lo, hi)
}

func needType(t *records.Table, col string, ok func(records.Type) bool, want string) (records.Type, error) {
	c, _ := t.Column(col)
	if !ok(c.Type) {
		return c.Type, apperrors.Configf("", "input %q must be %s, is %s", col, want, c.Type)
	}
	return c.Type, nil
}

// wholeDays is (a - b) in days, truncated toward zero.
func wholeDays(a, b time.Time) int64 { return int64(a.Sub(b) / day) }

func dateDiff(s Spec, e env) (records.Type, func(records.Record) any, error) {
	for _, in := range s.Inputs {
		if _, err := needType(e.tbl, in, records.Type.Temporal, "a date or timestamp"); err != nil {
			return "", nil, err
		}
	}
	ref, target := s.Inputs[0], s.Inputs[1]
	return records.Integer, func(r records.Record) any {
		a, ok1 := r[ref].(time.Time)
		b, ok2 := r[target].(time.Time)
		if !ok1 || !ok2 {
			return nil
		}
		return wholeDays(a, b)
	}, nil
}

// daysSince measures from the start of the run's UTC day.
func daysSince(s Spec, e env) (records.Type, func(records.Record) any, error) {
	if _, err := needType(e.tbl, s.Inputs[0], records.Type.Temporal, "a date or timestamp"); err != nil {
		return "", nil, err
	}
	ref := e.now.Truncate(day)
	col := s.Inputs[0]
	return records.Integer, func(r records.Record) any {
		t, ok := r[col].(time.Time)
		if !ok {
			return nil
		}
		return wholeDays(ref, t)
	}, nil
}

func tiersOf(p config.Options) ([]Threshold, error) {
	raw := p.Slice("tiers")
	if raw == nil {
		if th, ok := p.Any("tiers").([]Threshold); ok {
			return th, nil
		}
		return DefaultTiers, nil
	}
	out := make([]Threshold, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, apperrors.Configf("", "tiers[%d] must be an object with min and label", i)
		}
		o := config.Options(m)
		lo, ok := o.Float("min")
		label := o.String("label", "")
		if !ok || label == "" {
			return nil, apperrors.Configf("", "tiers[%d] needs a numeric min and a label", i)
		}
		out = append(out, Threshold{Min: lo, Label: label})
	}
	if len(out) == 0 {
		return nil, apperrors.Configf("", "tiers must not be empty")
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Min < out[j].Min }) {
		return nil, apperrors.Configf("", "tier thresholds must be ascending")
	}
	return out, nil
}

// tier picks the last threshold whose Min is <= v. Values below the first
// threshold get the first label.
func tier(s Spec, e env) (records.Type, func(records.Record) any, error) {
	if _, err := needType(e.tbl, s.Inputs[0], records.Type.Numeric, "numeric"); err != nil {
		return "", nil, err
	}
	th, err := tiersOf(s.Params)
	if err != nil {
		return "", nil, err
	}
	col := s.Inputs[0]
	return records.Categorical, func(r records.Record) any {
		var v float64
		switch x := r[col].(type) {
		case int64:
			v = float64(x)
		case float64:
			v = x
		default:
			return nil
		}
		label := th[0].Label
		for _, t := range th[1:] {
			if v >= t.Min {
				label = t.Label
			}
		}
		return label
	}, nil
}

// concat joins the inputs' trimmed text with a separator. Null and blank
// inputs are skipped, so no separator dangles; with none left the result is
// "" rather than null.
func concat(s Spec, _ env) (records.Type, func(records.Record) any, error) {
	sep := s.Params.String("separator", " ")
	cols := s.Inputs
	return records.Text, func(r records.Record) any {
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			if p := strings.TrimSpace(records.Format(r[c])); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, sep)
	}, nil
}

func processedAt(_ Spec, e env) (records.Type, func(records.Record) any, error) {
	now := e.now
	return records.Timestamp, func(records.Record) any { return now }, nil
}

// all is the AND of boolean inputs; null counts as true.
func all(s Spec, e env) (records.Type, func(records.Record) any, error) {
	for _, in := range s.Inputs {
		if _, err := needType(e.tbl, in, func(t records.Type) bool { return t == records.Boolean }, "boolean"); err != nil {
			return "", nil, err
		}
	}
	cols := s.Inputs
	return records.Boolean, func(r records.Record) any {
		for _, c := range cols {
			if r[c] == false {
				return false
			}
		}
		return true
	}, nil
}
