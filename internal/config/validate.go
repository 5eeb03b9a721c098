package config

// This file holds a linter for Pipeline values. It performs static checks
// over a decoded Pipeline and returns a list of issues (errors and warnings)
// that callers surface in the CLI or in tests. Deeper checks that need the
// rule implementations (regex compilation, type compatibility) happen when
// the rules are compiled.

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"csvload/internal/apperrors"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single lint finding. Path is a dotted path into the config,
// e.g. "loading.table_id" or "transformation.field_rules[1].rules[0].op".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Known vocabularies. Kept here rather than imported so the config package
// stays a leaf.
var (
	knownBackends = set("bigquery", "postgres", "mssql", "sqlite", "duckdb")
	knownOps      = set("drop_if_null", "fill_null", "normalize", "validate_pattern",
		"standardize_format", "convert_type")
	knownFunctions = set("date_diff", "days_since", "tier", "concat", "processed_at", "compare", "all")
	knownTextOps   = set("strip", "lower", "upper", "title", "remove_special", "none")
	knownKeep      = set("", "first", "last", "keep-first", "keep-last", "most-complete", "none", "false")
	knownMetrics   = set("", "none", "prom", "datadog")
	knownWriteMode = set("replace", "append", "fail-if-present", "write_truncate", "write_append",
		"write_empty", "truncate", "create-if-absent", "empty")
	knownPolicies = set("", "flag", "drop")
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, v string) bool {
	_, ok := m[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// ValidatePipeline lints p without mutating it.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{SeverityWarning, "job", "job is empty; metrics will be labelled with an empty job"})
	}
	issues = append(issues, validateExtraction(p.Extraction)...)
	issues = append(issues, validateTransformation(p.Transformation)...)
	issues = append(issues, validateLoading(p.Loading)...)
	if !has(knownMetrics, p.Metrics.Backend) {
		issues = append(issues, Issue{SeverityError, "metrics.backend",
			fmt.Sprintf("unknown metrics backend %q", p.Metrics.Backend)})
	}
	return issues
}

// Err folds the error-severity issues into one ConfigError, or returns nil
// when there are none.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, apperrors.Configf(iss.Path, "%s", iss.Message))
		}
	}
	return errors.Join(errs...)
}

func validateExtraction(e Extraction) []Issue {
	var issues []Issue
	if strings.TrimSpace(e.CSVFile) == "" {
		issues = append(issues, Issue{SeverityError, "extraction.csv_file", "csv_file must not be empty"})
	}
	if n := len([]rune(e.Delimiter)); n != 1 {
		issues = append(issues, Issue{SeverityError, "extraction.delimiter",
			fmt.Sprintf("delimiter must be a single character, got %q", e.Delimiter)})
	}
	for _, col := range sortedKeys(e.DType) {
		if typ := e.DType[col]; !knownType(typ) {
			issues = append(issues, Issue{SeverityError, "extraction.dtype." + col,
				fmt.Sprintf("unknown type %q", typ)})
		}
	}
	return issues
}

// knownType mirrors records.ParseType's vocabulary loosely; the authoritative
// check happens at compile time.
func knownType(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "int32", "int64", "bigint",
		"float", "float32", "float64", "double", "real", "numeric",
		"text", "string", "str", "object",
		"boolean", "bool",
		"date", "timestamp", "datetime", "datetime64", "datetime64[ns]",
		"categorical", "category":
		return true
	}
	return false
}

func validateTransformation(t Transformation) []Issue {
	var issues []Issue

	for _, op := range t.TextOperations {
		if !has(knownTextOps, op) {
			issues = append(issues, Issue{SeverityError, "transformation.text_operations",
				fmt.Sprintf("unknown text operation %q", op)})
		}
	}
	for _, col := range sortedKeys(t.TypeMapping) {
		if !knownType(t.TypeMapping[col]) {
			issues = append(issues, Issue{SeverityError, "transformation.type_mapping." + col,
				fmt.Sprintf("unknown type %q", t.TypeMapping[col])})
		}
	}
	if !has(knownPolicies, t.ValidationRules.InvalidPolicy) {
		issues = append(issues, Issue{SeverityError, "transformation.validation_rules.invalid_policy",
			fmt.Sprintf("invalid_policy must be flag or drop, got %q", t.ValidationRules.InvalidPolicy)})
	}
	if d := t.RemoveDuplicates; d != nil {
		if !has(knownKeep, d.Keep) {
			issues = append(issues, Issue{SeverityError, "transformation.remove_duplicates.keep",
				fmt.Sprintf("keep must be first, last, most-complete or none, got %q", d.Keep)})
		}
	}
	for i := 1; i < len(t.Tiers); i++ {
		if t.Tiers[i].Min <= t.Tiers[i-1].Min {
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("transformation.tiers[%d].min", i),
				"tier thresholds must be strictly ascending"})
		}
	}
	switch strings.ToLower(t.Nullability) {
	case "", "tighten", "always":
	default:
		issues = append(issues, Issue{SeverityError, "transformation.nullability",
			fmt.Sprintf("nullability must be tighten or always, got %q", t.Nullability)})
	}

	for i, fr := range t.FieldRules {
		base := fmt.Sprintf("transformation.field_rules[%d]", i)
		if strings.TrimSpace(fr.Column) == "" {
			issues = append(issues, Issue{SeverityError, base + ".column", "column must not be empty"})
		}
		if len(fr.Rules) == 0 {
			issues = append(issues, Issue{SeverityWarning, base + ".rules", "no rules declared for column"})
		}
		for j, r := range fr.Rules {
			if !has(knownOps, r.Op) {
				issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s.rules[%d].op", base, j),
					fmt.Sprintf("unknown operation %q", r.Op)})
			}
		}
	}

	seen := map[string]bool{}
	for i, e := range t.Enrichment {
		base := fmt.Sprintf("transformation.enrichment[%d]", i)
		if strings.TrimSpace(e.Name) == "" {
			issues = append(issues, Issue{SeverityError, base + ".name", "name must not be empty"})
		} else if seen[e.Name] {
			issues = append(issues, Issue{SeverityError, base + ".name",
				fmt.Sprintf("duplicate calculated field %q", e.Name)})
		}
		seen[e.Name] = true
		if !has(knownFunctions, e.Function) {
			issues = append(issues, Issue{SeverityError, base + ".function",
				fmt.Sprintf("unknown function %q", e.Function)})
		}
	}
	return issues
}

func validateLoading(l Loading) []Issue {
	var issues []Issue
	backend := strings.ToLower(strings.TrimSpace(l.Backend))
	if !has(knownBackends, backend) {
		issues = append(issues, Issue{SeverityError, "loading.backend",
			fmt.Sprintf("unknown backend %q", l.Backend)})
	}
	if backend == "bigquery" && strings.TrimSpace(l.ProjectID) == "" {
		issues = append(issues, Issue{SeverityError, "loading.project_id", "project_id is required for bigquery"})
	}
	if backend != "bigquery" && strings.TrimSpace(l.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "loading.dsn",
			fmt.Sprintf("dsn is required for %s", backend)})
	}
	if strings.TrimSpace(l.DatasetID) == "" {
		issues = append(issues, Issue{SeverityError, "loading.dataset_id", "dataset_id must not be empty"})
	}
	if strings.TrimSpace(l.TableID) == "" {
		issues = append(issues, Issue{SeverityError, "loading.table_id", "table_id must not be empty"})
	}
	if !has(knownWriteMode, l.WriteDisposition) {
		issues = append(issues, Issue{SeverityError, "loading.write_disposition",
			fmt.Sprintf("unknown write disposition %q", l.WriteDisposition)})
	}
	if l.BatchSize <= 0 {
		issues = append(issues, Issue{SeverityWarning, "loading.batch_size",
			fmt.Sprintf("batch_size=%d; the whole table is written as one batch", l.BatchSize)})
	}
	if l.Retry.MaxAttempts < 1 {
		issues = append(issues, Issue{SeverityError, "loading.retry.max_attempts", "max_attempts must be at least 1"})
	}
	if l.Retry.Multiplier != 0 && l.Retry.Multiplier < 1 {
		issues = append(issues, Issue{SeverityError, "loading.retry.multiplier", "multiplier must be >= 1"})
	}
	if l.Retry.InitialInterval < 0 || l.Retry.MaxInterval < 0 || l.Retry.AttemptTimeout < 0 {
		issues = append(issues, Issue{SeverityError, "loading.retry", "intervals must not be negative"})
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
