package builtin

import (
	"context"
	"regexp"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// NamedPatterns are the patterns validate_pattern accepts by name.
var NamedPatterns = map[string]string{
	"email": `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`,
}

// CompilePattern resolves a named pattern or compiles a literal one.
func CompilePattern(p string) (*regexp.Regexp, error) {
	if named, ok := NamedPatterns[p]; ok {
		p = named
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, apperrors.Configf("", "invalid pattern %q: %v", p, err)
	}
	return re, nil
}

// Validate checks every non-null value of a text column against Pattern.
// Failing rows are flagged or dropped; nulls always pass.
type Validate struct {
	Column  string
	Pattern *regexp.Regexp
	Policy  Policy
}

// Apply runs the check.
func (v Validate) Apply(_ context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	if _, err := needType(in, v.Column, "validate_pattern", records.Type.Textual, "a text column"); err != nil {
		return nil, err
	}
	bad := map[int]bool{}
	for i, r := range in.Rows {
		if s, ok := r[v.Column].(string); ok && !v.Pattern.MatchString(s) {
			bad[i] = true
		}
	}
	return markInvalid(in, v.Column, "validate_pattern", v.Policy, bad, st)
}
