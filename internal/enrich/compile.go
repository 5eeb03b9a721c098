package enrich

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
)

// calculatedFields are the flat calculated_fields switches, in the order the
// columns are appended.
var calculatedFields = []struct {
	key    string
	fn     Function
	inputs []string
}{
	{"days_since_registration", DaysSince, []string{"registration_date"}},
	{"days_since_last_purchase", DaysSince, []string{"last_purchase_date"}},
	{"ltv_tier", Tier, []string{"total_spent"}},
	{"full_name", Concat, []string{"first_name", "last_name"}},
	{"processed_at", ProcessedAt, nil},
}

// businessRules are the flat business_rules switches. Each becomes a hidden
// comparison and all of them fold into is_valid.
var businessRules = []struct {
	key    string
	inputs []string
	params config.Options
}{
	{"registration_not_future", []string{"registration_date"}, config.Options{"op": "le", "value": nowOperand}},
	{"purchase_after_registration", []string{"last_purchase_date", "registration_date"}, config.Options{"op": "ge"}},
	{"non_negative_spent", []string{"total_spent"}, config.Options{"op": "ge", "value": 0.0}},
}

// ValidColumn is the row-level business rule verdict.
const ValidColumn = "is_valid"

// Compile builds the stage from the transformation config: flat
// calculated_fields, then flat business_rules, then the enrichment list.
func Compile(t config.Transformation, log *zap.Logger) (*Stage, error) {
	st := &Stage{Log: log}

	known := map[string]bool{}
	for _, cf := range calculatedFields {
		known[cf.key] = true
		if !t.CalculatedFields[cf.key] {
			continue
		}
		params := config.Options{}
		if cf.fn == Tier && len(t.Tiers) > 0 {
			th := make([]Threshold, len(t.Tiers))
			for i, x := range t.Tiers {
				th[i] = Threshold{Min: x.Min, Label: x.Label}
			}
			params["tiers"] = th
		}
		spec, err := NewSpec(cf.key, cf.fn, cf.inputs, params)
		if err != nil {
			return nil, withPath(err, "transformation.calculated_fields."+cf.key)
		}
		spec.Path, spec.Optional = "transformation.calculated_fields."+cf.key, true
		st.Specs = append(st.Specs, spec)
	}
	for _, k := range sortedKeys(t.CalculatedFields) {
		if !known[k] {
			return nil, apperrors.Configf("transformation.calculated_fields."+k, "unknown calculated field")
		}
	}

	var verdicts []string
	known = map[string]bool{}
	for _, br := range businessRules {
		known[br.key] = true
		if !t.BusinessRules[br.key] {
			continue
		}
		name := "_rule_" + br.key
		spec, err := NewSpec(name, Compare, br.inputs, br.params)
		if err != nil {
			return nil, withPath(err, "transformation.business_rules."+br.key)
		}
		spec.Path, spec.Optional, spec.Hidden = "transformation.business_rules."+br.key, true, true
		st.Specs = append(st.Specs, spec)
		verdicts = append(verdicts, name)
	}
	for _, k := range sortedKeys(t.BusinessRules) {
		if !known[k] {
			return nil, apperrors.Configf("transformation.business_rules."+k, "unknown business rule")
		}
	}
	if len(verdicts) > 0 {
		spec, err := NewSpec(ValidColumn, All, verdicts, nil)
		if err != nil {
			return nil, err
		}
		spec.Path, spec.Optional = "transformation.business_rules", true
		st.Specs = append(st.Specs, spec)
	}

	for i, e := range t.Enrichment {
		path := fmt.Sprintf("transformation.enrichment[%d]", i)
		spec, err := NewSpec(e.Name, Function(e.Function), e.Inputs, e.Params)
		if err != nil {
			return nil, withPath(err, path)
		}
		spec.Path = path
		st.Specs = append(st.Specs, spec)
	}
	return st, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
