package transformer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	"csvload/internal/transformer/builtin"
	"csvload/pkg/records"
)

// Op names a field rule operation.
type Op string

const (
	OpDropIfNull        Op = "drop_if_null"
	OpFillNull          Op = "fill_null"
	OpNormalize         Op = "normalize"
	OpValidatePattern   Op = "validate_pattern"
	OpStandardizeFormat Op = "standardize_format"
	OpConvertType       Op = "convert_type"
)

// Ops lists every operation in declaration order.
var Ops = []Op{OpDropIfNull, OpFillNull, OpNormalize, OpValidatePattern, OpStandardizeFormat, OpConvertType}

// FieldRule is one compiled operation on one column.
type FieldRule struct {
	Column string
	Op     Op
	// Path is the config location the rule came from, used in errors.
	Path string
	// Optional rules are skipped when the column is absent.
	Optional bool

	step Transformer
}

// NewFieldRule compiles op with params for column. Params follow the config
// keys: strategy/value, ops, pattern/policy, template/policy/
// strip_country_code, type/policy.
func NewFieldRule(column string, op Op, params config.Options, log *zap.Logger) (FieldRule, error) {
	r := FieldRule{Column: column, Op: op}
	if strings.TrimSpace(column) == "" {
		return r, apperrors.Configf("", "rule %s has no column", op)
	}
	switch op {
	case OpDropIfNull:
		r.step = builtin.Require{Column: column}

	case OpFillNull:
		strategy := strings.ToLower(params.String("strategy", builtin.FillValue))
		if !contains(builtin.FillStrategies, strategy) {
			return r, apperrors.Configf("", "unknown fill strategy %q", strategy)
		}
		if strategy == builtin.FillValue && params.Any("value") == nil {
			return r, apperrors.Configf("", "fill_null with strategy value needs a value")
		}
		r.step = builtin.Fill{Column: column, Strategy: strategy, Value: params.Any("value")}

	case OpNormalize:
		ops := params.StringSlice("ops")
		if len(ops) == 0 {
			ops = params.StringSlice("op")
		}
		if len(ops) == 0 {
			return r, apperrors.Configf("", "normalize needs ops")
		}
		for _, o := range ops {
			if !contains(builtin.NormalizeOps, o) {
				return r, apperrors.Configf("", "unknown normalize operation %q", o)
			}
		}
		r.step = builtin.Normalize{Column: column, Ops: ops}

	case OpValidatePattern:
		p := params.String("pattern", "")
		if p == "" {
			return r, apperrors.Configf("", "validate_pattern needs a pattern")
		}
		re, err := builtin.CompilePattern(p)
		if err != nil {
			return r, err
		}
		policy, err := checkPolicy(params, builtin.PolicyFlag, builtin.PolicyFlag, builtin.PolicyDrop)
		if err != nil {
			return r, err
		}
		r.step = builtin.Validate{Column: column, Pattern: re, Policy: policy}

	case OpStandardizeFormat:
		tpl, err := builtin.ResolveTemplate(params.String("template", ""))
		if err != nil {
			return r, err
		}
		policy, err := checkPolicy(params, builtin.PolicyFlag, builtin.PolicyFlag, builtin.PolicyDrop)
		if err != nil {
			return r, err
		}
		r.step = builtin.Format{
			Column:           column,
			Template:         tpl,
			Policy:           policy,
			StripCountryCode: params.Bool("strip_country_code", true),
		}

	case OpConvertType:
		typ, err := records.ParseType(params.String("type", ""))
		if err != nil {
			return r, apperrors.Configf("", "convert_type: %v", err)
		}
		policy, err := checkPolicy(params, builtin.PolicyNull, builtin.PolicyNull, builtin.PolicyDrop)
		if err != nil {
			return r, err
		}
		r.step = builtin.Coerce{Column: column, Target: typ, Policy: policy, Log: log}

	default:
		return r, apperrors.Configf("", "unknown operation %q", op)
	}
	return r, nil
}

func checkPolicy(params config.Options, def builtin.Policy, allowed ...builtin.Policy) (builtin.Policy, error) {
	p := builtin.Policy(strings.ToLower(params.String("policy", string(def))))
	for _, a := range allowed {
		if p == a {
			return p, nil
		}
	}
	return "", apperrors.Configf("", "unsupported policy %q", p)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// withPath sets the config path on a ConfigError that lacks one.
func withPath(err error, path string) error {
	if ce, ok := err.(*apperrors.ConfigError); ok && ce.Path == "" {
		return &apperrors.ConfigError{Path: path, Msg: ce.Msg}
	}
	return err
}

func (r FieldRule) String() string { return fmt.Sprintf("%s(%s)", r.Op, r.Column) }
