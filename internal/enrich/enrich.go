// Package enrich appends derived columns to a table. Each Spec names one
// output column and a function over input columns; specs run in order, so a
// later spec can read an earlier one's output.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/pkg/records"
)

// Function names a derivation.
type Function string

const (
	DateDiff    Function = "date_diff"
	DaysSince   Function = "days_since"
	Tier        Function = "tier"
	Concat      Function = "concat"
	ProcessedAt Function = "processed_at"
	Compare     Function = "compare"
	All         Function = "all"
)

// Spec declares one derived column.
type Spec struct {
	Name     string
	Function Function
	Inputs   []string
	Params   config.Options

	// Path is the config location, used in errors.
	Path string
	// Optional specs are skipped with a warning when an input is missing.
	Optional bool
	// Hidden columns feed later specs and are removed when the stage ends.
	Hidden bool

	fn derive
}

// Stage runs enrichment specs.
type Stage struct {
	Specs []Spec
	// Now is the clock. The stage reads it once per Apply.
	Now func() time.Time
	Log *zap.Logger
}

// env is what a derivation sees besides its row.
type env struct {
	now time.Time
	tbl *records.Table
}

// derive computes the output type for a table, or fails with a ConfigError,
// and returns the per-row function.
type derive func(spec Spec, e env) (records.Type, func(records.Record) any, error)

// Apply returns a copy of in with one column appended per spec.
func (s *Stage) Apply(ctx context.Context, in *records.Table) (*records.Table, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	clock := s.Now
	if clock == nil {
		clock = time.Now
	}
	out := in.Clone()
	e := env{now: clock().UTC(), tbl: out}

	var hidden []string
	for _, spec := range s.Specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if missing := missingInputs(out, spec.Inputs); len(missing) > 0 {
			if spec.Optional && spec.Function != All {
				log.Warn("calculated field skipped, inputs missing",
					zap.String("field", spec.Name), zap.Strings("missing", missing))
				continue
			}
			if !spec.Optional {
				return nil, apperrors.Configf(spec.Path, "%s: unknown input column %q", spec.Name, missing[0])
			}
			spec.Inputs = present(out, spec.Inputs)
		}
		if out.HasColumn(spec.Name) {
			return nil, apperrors.Configf(spec.Path, "column %q already exists", spec.Name)
		}
		typ, fn, err := spec.fn(spec, e)
		if err != nil {
			return nil, withPath(err, spec.Path)
		}
		if err := out.AddColumn(records.Column{Name: spec.Name, Type: typ}); err != nil {
			return nil, err
		}
		for _, r := range out.Rows {
			r[spec.Name] = fn(r)
		}
		if typ == records.Boolean {
			log.Info("rule evaluated",
				zap.String("field", spec.Name),
				zap.Int("false", countFalse(out, spec.Name)),
				zap.Int("rows", out.Len()))
		} else {
			log.Debug("calculated field added", zap.String("field", spec.Name), zap.String("type", string(typ)))
		}
		if spec.Hidden {
			hidden = append(hidden, spec.Name)
		}
	}
	for _, h := range hidden {
		if err := out.DropColumn(h); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func missingInputs(t *records.Table, inputs []string) []string {
	var out []string
	for _, c := range inputs {
		if !t.HasColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func present(t *records.Table, inputs []string) []string {
	out := make([]string, 0, len(inputs))
	for _, c := range inputs {
		if t.HasColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func countFalse(t *records.Table, col string) int {
	n := 0
	for _, r := range t.Rows {
		if r[col] == false {
			n++
		}
	}
	return n
}

func withPath(err error, path string) error {
	if ce, ok := err.(*apperrors.ConfigError); ok && ce.Path == "" {
		return &apperrors.ConfigError{Path: path, Msg: ce.Msg}
	}
	return err
}
