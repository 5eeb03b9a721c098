package transformer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/internal/transformer/builtin"
	"csvload/pkg/records"
)

// Engine runs compiled field rules over a table.
type Engine struct {
	Rules []FieldRule
	// Dedup runs after every rule when set.
	Dedup *builtin.Dedup
	Log   *zap.Logger

	defaultMissing *defaultMissing
}

// defaultMissing applies one missing-value rule to every column that has
// nulls and no entry of its own.
type defaultMissing struct {
	op     Op
	params config.Options
	skip   map[string]string
}

// Apply runs the rules on a private copy of in. Columns are the input
// columns plus one <column>_valid flag per flagging check. Rows failing a
// drop rule are removed; several drop rules remove the union of their rows.
func (e *Engine) Apply(ctx context.Context, in *records.Table) (*records.Table, *Stats, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	st := builtin.NewStats()
	st.RowsIn = in.Len()
	out := in.Clone()

	rules, err := e.plan(out)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !out.HasColumn(r.Column) {
			if r.Optional {
				log.Debug("rule skipped, column absent", zap.Stringer("rule", r))
				continue
			}
			return nil, nil, apperrors.Configf(r.Path, "unknown column %q", r.Column)
		}
		before := out.Len()
		if out, err = r.step.Apply(ctx, out, st); err != nil {
			return nil, nil, withPath(err, r.Path)
		}
		log.Debug("rule applied",
			zap.Stringer("rule", r),
			zap.Int("rows_before", before),
			zap.Int("rows_after", out.Len()))
	}

	if e.Dedup != nil {
		if out, err = e.Dedup.Apply(ctx, out, st); err != nil {
			return nil, nil, withPath(err, "transformation.remove_duplicates")
		}
	}
	if err := out.Check(); err != nil {
		return nil, nil, fmt.Errorf("transformer: %w", err)
	}
	st.RowsOut = out.Len()
	return out, st, nil
}

// plan prepends the default missing-value rules for t's columns.
func (e *Engine) plan(t *records.Table) ([]FieldRule, error) {
	dm := e.defaultMissing
	if dm == nil {
		return e.Rules, nil
	}
	var rules []FieldRule
	for _, col := range t.Names() {
		if _, own := dm.skip[col]; own || t.NullCount(col) == 0 {
			continue
		}
		r, err := NewFieldRule(col, dm.op, dm.params, e.Log)
		if err != nil {
			return nil, withPath(err, "transformation.missing_value_default")
		}
		r.Path = "transformation.missing_value_default"
		rules = append(rules, r)
	}
	return append(rules, e.Rules...), nil
}
