package builtin

import (
	"context"
	"strings"
	"unicode"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// NamedTemplates are the templates standardize_format accepts by name. An X
// in a template is replaced by the next digit.
var NamedTemplates = map[string]string{
	"phone": "XXX-XXX-XXXX",
}

// ResolveTemplate returns the template for a name or literal.
func ResolveTemplate(t string) (string, error) {
	if named, ok := NamedTemplates[t]; ok {
		return named, nil
	}
	if strings.Count(t, "X") == 0 {
		return "", apperrors.Configf("", "template %q has no X placeholders", t)
	}
	return t, nil
}

// Format rewrites a column to a digit template. Values whose digit count
// equals the number of placeholders are rewritten; others are left as they
// are and flagged or dropped. With StripCountryCode, one extra leading 1 is
// removed first. The column becomes text.
type Format struct {
	Column           string
	Template         string
	Policy           Policy
	StripCountryCode bool
}

// Apply rewrites the column.
func (f Format) Apply(_ context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	if err := needColumn(in, f.Column); err != nil {
		return nil, err
	}
	want := strings.Count(f.Template, "X")
	bad := map[int]bool{}
	for i, r := range in.Rows {
		v := r[f.Column]
		if v == nil {
			continue
		}
		s := records.Format(v)
		digits := digitsOf(s)
		if f.StripCountryCode && len(digits) == want+1 && digits[0] == '1' {
			digits = digits[1:]
		}
		if len(digits) != want {
			r[f.Column] = s
			bad[i] = true
			continue
		}
		r[f.Column] = fill(f.Template, digits)
	}
	if err := in.SetType(f.Column, records.Text); err != nil {
		return nil, err
	}
	return markInvalid(in, f.Column, "standardize_format", f.Policy, bad, st)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsDigit(c) && c < unicode.MaxASCII {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func fill(template, digits string) string {
	var b strings.Builder
	b.Grow(len(template))
	d := 0
	for _, c := range template {
		if c == 'X' {
			b.WriteByte(digits[d])
			d++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
