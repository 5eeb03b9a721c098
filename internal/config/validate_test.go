package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"csvload/internal/apperrors"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	return Pipeline{
		Job:        "t",
		Extraction: Extraction{CSVFile: "in.csv", Delimiter: ","},
		Loading: Loading{
			Backend:          "bigquery",
			ProjectID:        "p",
			DatasetID:        "d",
			TableID:          "t",
			WriteDisposition: "WRITE_TRUNCATE",
			BatchSize:        100,
			Retry:            Retry{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 2},
		},
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	issues := ValidatePipeline(validPipeline())
	assert.Empty(t, issues)
	assert.NoError(t, Err(issues))
}

func TestValidatePipeline_Findings(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Pipeline)
		sev  IssueSeverity
		path string
		msg  string
	}{
		{"missing csv", func(p *Pipeline) { p.Extraction.CSVFile = "" }, SeverityError, "extraction.csv_file", "must not be empty"},
		{"bad delimiter", func(p *Pipeline) { p.Extraction.Delimiter = ";;" }, SeverityError, "extraction.delimiter", "single character"},
		{"bad dtype", func(p *Pipeline) { p.Extraction.DType = map[string]string{"a": "blob"} }, SeverityError, "extraction.dtype.a", "unknown type"},
		{"missing table", func(p *Pipeline) { p.Loading.TableID = "" }, SeverityError, "loading.table_id", "must not be empty"},
		{"bigquery needs project", func(p *Pipeline) { p.Loading.ProjectID = "" }, SeverityError, "loading.project_id", "required"},
		{"sql needs dsn", func(p *Pipeline) { p.Loading.Backend = "postgres" }, SeverityError, "loading.dsn", "required for postgres"},
		{"unknown backend", func(p *Pipeline) { p.Loading.Backend = "oracle" }, SeverityError, "loading.backend", "unknown backend"},
		{"bad disposition", func(p *Pipeline) { p.Loading.WriteDisposition = "merge" }, SeverityError, "loading.write_disposition", "unknown write disposition"},
		{"zero attempts", func(p *Pipeline) { p.Loading.Retry.MaxAttempts = 0 }, SeverityError, "loading.retry.max_attempts", "at least 1"},
		{"batch warning", func(p *Pipeline) { p.Loading.BatchSize = 0 }, SeverityWarning, "loading.batch_size", "one batch"},
		{"unknown op", func(p *Pipeline) {
			p.Transformation.FieldRules = []FieldRules{{Column: "a", Rules: []Rule{{Op: "explode"}}}}
		}, SeverityError, "transformation.field_rules[0].rules[0].op", "unknown operation"},
		{"empty rules", func(p *Pipeline) {
			p.Transformation.FieldRules = []FieldRules{{Column: "a"}}
		}, SeverityWarning, "transformation.field_rules[0].rules", "no rules"},
		{"duplicate enrichment", func(p *Pipeline) {
			p.Transformation.Enrichment = []Enrichment{{Name: "x", Function: "concat"}, {Name: "x", Function: "concat"}}
		}, SeverityError, "transformation.enrichment[1].name", "duplicate"},
		{"unknown function", func(p *Pipeline) {
			p.Transformation.Enrichment = []Enrichment{{Name: "x", Function: "sqrt"}}
		}, SeverityError, "transformation.enrichment[0].function", "unknown function"},
		{"tiers not ascending", func(p *Pipeline) {
			p.Transformation.Tiers = []Tier{{Min: 10, Label: "a"}, {Min: 5, Label: "b"}}
		}, SeverityError, "transformation.tiers[1].min", "ascending"},
		{"bad policy", func(p *Pipeline) { p.Transformation.ValidationRules.InvalidPolicy = "quarantine" }, SeverityError,
			"transformation.validation_rules.invalid_policy", "flag or drop"},
		{"bad text op", func(p *Pipeline) { p.Transformation.TextOperations = []string{"reverse"} }, SeverityError,
			"transformation.text_operations", "unknown text operation"},
		{"bad metrics", func(p *Pipeline) { p.Metrics.Backend = "graphite" }, SeverityError, "metrics.backend", "unknown metrics"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validPipeline()
			tc.mut(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s containing %q; got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestErrFoldsOnlyErrors(t *testing.T) {
	issues := []Issue{
		{SeverityWarning, "a", "warn"},
		{SeverityError, "b", "broken"},
	}
	err := Err(issues)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "b: broken")
	assert.NotContains(t, err.Error(), "warn")

	assert.NoError(t, Err(issues[:1]))
}
