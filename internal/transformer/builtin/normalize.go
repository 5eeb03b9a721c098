package builtin

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Normalization operations.
const (
	NormStrip         = "strip"
	NormLower         = "lower"
	NormUpper         = "upper"
	NormTitle         = "title"
	NormRemoveSpecial = "remove_special"
	NormNone          = "none"
)

// NormalizeOps lists the accepted operation names.
var NormalizeOps = []string{NormStrip, NormLower, NormUpper, NormTitle, NormRemoveSpecial, NormNone}

// special matches anything but ASCII letters, digits and whitespace.
var special = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// Normalize applies text operations, in order, to every non-null value of a
// text column.
type Normalize struct {
	Column string
	Ops    []string
}

// Apply rewrites the column in place.
func (n Normalize) Apply(_ context.Context, in *records.Table, _ *Stats) (*records.Table, error) {
	if _, err := needType(in, n.Column, "normalize", records.Type.Textual, "a text column"); err != nil {
		return nil, err
	}
	fns := make([]func(string) string, 0, len(n.Ops))
	for _, op := range n.Ops {
		fn, err := normalizer(op)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	for _, r := range in.Rows {
		s, ok := r[n.Column].(string)
		if !ok {
			continue
		}
		for _, fn := range fns {
			s = fn(s)
		}
		r[n.Column] = s
	}
	return in, nil
}

// normalizer returns the function for op. Casers keep state, so each call
// builds its own.
func normalizer(op string) (func(string) string, error) {
	switch op {
	case NormStrip:
		return strip, nil
	case NormLower:
		return cases.Lower(language.Und).String, nil
	case NormUpper:
		return cases.Upper(language.Und).String, nil
	case NormTitle:
		return cases.Title(language.Und).String, nil
	case NormRemoveSpecial:
		return func(s string) string { return special.ReplaceAllString(s, "") }, nil
	case NormNone:
		return nil, nil
	}
	return nil, apperrors.Configf("", "unknown normalize operation %q", op)
}

// strip trims surrounding whitespace, including non-breaking spaces and their
// common mojibake form.
func strip(s string) string {
	s = strings.ReplaceAll(s, "Â\u00a0", " ")
	return strings.TrimSpace(s)
}
