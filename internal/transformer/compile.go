package transformer

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/internal/transformer/builtin"
)

// Compile builds an Engine from the transformation config. The flat keys
// (missing_value_strategy, text_columns, validation_rules, type_mapping)
// become rules first, in that order and by column name; field_rules follow
// in the order given.
func Compile(t config.Transformation, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{Log: log}
	add := func(path, column string, op Op, params config.Options, optional bool) error {
		r, err := NewFieldRule(column, op, params, log)
		if err != nil {
			return withPath(err, path)
		}
		r.Path, r.Optional = path, optional
		e.Rules = append(e.Rules, r)
		return nil
	}

	for _, col := range sortedKeys(t.MissingValueStrategy) {
		op, params := missingRule(t.MissingValueStrategy[col])
		if err := add("transformation.missing_value_strategy."+col, col, op, params, false); err != nil {
			return nil, err
		}
	}
	if d := strings.TrimSpace(t.MissingValueDefault); d != "" {
		op, params := missingRule(d)
		probe, err := NewFieldRule("*", op, params, log)
		if err != nil {
			return nil, withPath(err, "transformation.missing_value_default")
		}
		e.defaultMissing = &defaultMissing{op: probe.Op, params: params, skip: t.MissingValueStrategy}
	}

	textCols := append([]string(nil), t.TextColumns...)
	sort.Strings(textCols)
	if len(t.TextOperations) > 0 {
		for _, col := range textCols {
			if err := add("transformation.text_columns", col, OpNormalize,
				config.Options{"ops": t.TextOperations}, false); err != nil {
				return nil, err
			}
		}
	}

	v := t.ValidationRules
	policy := v.InvalidPolicy
	if policy == "" {
		policy = string(builtin.PolicyFlag)
	}
	if v.EmailValidation {
		cols, implicit := v.EmailColumns, false
		if len(cols) == 0 {
			cols, implicit = []string{"email"}, true
		}
		for _, col := range cols {
			if err := add("transformation.validation_rules.email_validation", col, OpValidatePattern,
				config.Options{"pattern": "email", "policy": policy}, implicit); err != nil {
				return nil, err
			}
		}
	}
	if v.PhoneValidation {
		cols, implicit := v.PhoneColumns, false
		if len(cols) == 0 {
			cols, implicit = []string{"phone"}, true
		}
		for _, col := range cols {
			if err := add("transformation.validation_rules.phone_validation", col, OpStandardizeFormat,
				config.Options{"template": "phone", "policy": policy, "strip_country_code": true}, implicit); err != nil {
				return nil, err
			}
		}
	}

	for _, col := range sortedKeys(t.TypeMapping) {
		if err := add("transformation.type_mapping."+col, col, OpConvertType,
			config.Options{"type": t.TypeMapping[col]}, false); err != nil {
			return nil, err
		}
	}

	for i, fr := range t.FieldRules {
		for j, rule := range fr.Rules {
			path := fmt.Sprintf("transformation.field_rules[%d].rules[%d]", i, j)
			if err := add(path, fr.Column, Op(strings.ToLower(rule.Op)), rule.Params, false); err != nil {
				return nil, err
			}
		}
	}

	if d := t.RemoveDuplicates; d != nil {
		keep := builtin.NormalizeKeep(d.Keep)
		if keep == "" {
			return nil, apperrors.Configf("transformation.remove_duplicates.keep", "unknown keep policy %q", d.Keep)
		}
		e.Dedup = &builtin.Dedup{Subset: d.Subset, Keep: keep}
	}
	return e, nil
}

// missingRule maps a flat missing-value strategy to a rule. Anything that is
// not a known strategy is a literal fill value.
func missingRule(s string) (Op, config.Options) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop":
		return OpDropIfNull, nil
	case "mean", "median", "mode":
		return OpFillNull, config.Options{"strategy": strings.ToLower(strings.TrimSpace(s))}
	case "forward", "forward_fill", "ffill":
		return OpFillNull, config.Options{"strategy": builtin.FillForward}
	case "backward", "backward_fill", "bfill":
		return OpFillNull, config.Options{"strategy": builtin.FillBackward}
	}
	return OpFillNull, config.Options{"strategy": builtin.FillValue, "value": s}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
