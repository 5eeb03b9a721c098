// Package csv reads a delimited file into a records.Table. It applies the
// extraction hints from the pipeline config (NA tokens, date columns, pinned
// column types, source encoding) and infers a logical type for every other
// column from its values.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Options configures extraction. The zero value reads comma-separated UTF-8
// without a header and treats only empty fields as null.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// HasHeader indicates whether the first row holds column names.
	HasHeader bool
	// NAValues are raw tokens read as null. Empty fields are always null.
	NAValues []string
	// ParseDates names columns parsed as date or timestamp.
	ParseDates []string
	// DType pins column types. Values that do not convert fail extraction.
	DType map[string]records.Type
	// Encoding is a WHATWG label; empty or utf-8 reads the bytes as is.
	Encoding string
	// HeaderMap renames source headers (matched after trimming) before
	// normalization.
	HeaderMap map[string]string
	// Workers bounds concurrent per-column type resolution. Zero means
	// GOMAXPROCS.
	Workers int
}

// Report summarizes what extraction decided about the input.
type Report struct {
	Rows  int
	Types map[string]records.Type
	// DateFallbacks lists ParseDates columns holding values no layout
	// matched. They are kept as text so later rules can deal with them.
	DateFallbacks []string
}

const utf8BOM = "\uFEFF"

// column holds one column's raw cells; null[i] marks NA cells.
type column struct {
	name string
	raw  []string
	null []bool
}

// Extract reads all of r and returns the typed table.
func Extract(ctx context.Context, r io.Reader, opt Options) (*records.Table, Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}
	r, err := decoder(r, opt.Encoding)
	if err != nil {
		return nil, Report{}, err
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1

	na := make(map[string]struct{}, len(opt.NAValues)+1)
	na[""] = struct{}{}
	for _, v := range opt.NAValues {
		na[v] = struct{}{}
	}

	var cols []*column
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, Report{}, fmt.Errorf("csv: line %d: %w", line, err)
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Report{}, err
			}
		}
		if cols == nil {
			names, err := headerNames(row, opt)
			if err != nil {
				return nil, Report{}, err
			}
			cols = make([]*column, len(names))
			for i, n := range names {
				cols[i] = &column{name: n}
			}
			if opt.HasHeader {
				continue
			}
		}
		if len(row) != len(cols) {
			return nil, Report{}, fmt.Errorf("csv: line %d: expected %d fields, got %d", line, len(cols), len(row))
		}
		for i, v := range row {
			_, isNA := na[v]
			if !isNA {
				_, isNA = na[strings.TrimSpace(v)]
			}
			cols[i].raw = append(cols[i].raw, v)
			cols[i].null = append(cols[i].null, isNA)
		}
	}
	if cols == nil {
		return nil, Report{}, errors.New("csv: input is empty")
	}

	for _, name := range opt.ParseDates {
		if !hasColumn(cols, name) {
			return nil, Report{}, apperrors.Configf("extraction.parse_dates", "unknown column %q", name)
		}
	}
	for name := range opt.DType {
		if !hasColumn(cols, name) {
			return nil, Report{}, apperrors.Configf("extraction.dtype", "unknown column %q", name)
		}
	}

	resolved, err := resolveColumns(ctx, cols, opt)
	if err != nil {
		return nil, Report{}, err
	}

	header := make([]records.Column, len(cols))
	rep := Report{Types: make(map[string]records.Type, len(cols))}
	for i, rc := range resolved {
		header[i] = records.Column{Name: cols[i].name, Type: rc.typ}
		rep.Types[cols[i].name] = rc.typ
		if rc.dateFallback {
			rep.DateFallbacks = append(rep.DateFallbacks, cols[i].name)
		}
	}
	t := records.NewTable(header...)
	n := len(cols[0].raw)
	t.Rows = make([]records.Record, n)
	for row := 0; row < n; row++ {
		rec := make(records.Record, len(cols))
		for i, c := range cols {
			rec[c.name] = resolved[i].values[row]
		}
		t.Rows[row] = rec
	}
	rep.Rows = n
	return t, rep, nil
}

type resolvedColumn struct {
	typ          records.Type
	values       []any
	dateFallback bool
}

// resolveColumns types every column concurrently; columns share no state.
func resolveColumns(ctx context.Context, cols []*column, opt Options) ([]resolvedColumn, error) {
	dates := make(map[string]bool, len(opt.ParseDates))
	for _, c := range opt.ParseDates {
		dates[c] = true
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]resolvedColumn, len(cols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range cols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var err error
			if typ, ok := opt.DType[c.name]; ok {
				out[i], err = convertColumn(c, typ)
				return err
			}
			if dates[c.name] {
				out[i] = parseDateColumn(c)
				return nil
			}
			out[i], err = convertColumn(c, inferType(c))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// convertColumn converts every non-null cell to typ. Inferred types always
// convert; a failure here means a DType hint did not fit the data.
func convertColumn(c *column, typ records.Type) (resolvedColumn, error) {
	rc := resolvedColumn{typ: typ, values: make([]any, len(c.raw))}
	layout := ""
	if typ.Temporal() {
		layout = bestLayout(nonNull(c), typ)
	}
	for i, s := range c.raw {
		if c.null[i] {
			continue
		}
		var (
			v   any
			err error
		)
		if layout != "" {
			t, perr := records.ParseTimeLayout(s, layout)
			if perr == nil && typ == records.Date {
				t = t.Truncate(24 * time.Hour)
			}
			v, err = t, perr
		} else {
			v, err = records.Convert(s, typ)
		}
		if err != nil {
			return rc, &apperrors.ConversionError{Column: c.name, Row: i, Value: s, Target: string(typ)}
		}
		rc.values[i] = v
	}
	return rc, nil
}

// parseDateColumn parses a ParseDates column. When any value fails, the
// column stays text.
func parseDateColumn(c *column) resolvedColumn {
	vals := nonNull(c)
	typ := records.Date
	for _, s := range vals {
		_, hasTime, err := records.ParseTime(s)
		if err != nil {
			return textColumn(c)
		}
		if hasTime {
			typ = records.Timestamp
		}
	}
	rc, err := convertColumn(c, typ)
	if err != nil {
		return textColumn(c)
	}
	return rc
}

func textColumn(c *column) resolvedColumn {
	rc := resolvedColumn{typ: records.Text, values: make([]any, len(c.raw)), dateFallback: true}
	for i, s := range c.raw {
		if !c.null[i] {
			rc.values[i] = s
		}
	}
	return rc
}

func nonNull(c *column) []string {
	out := make([]string, 0, len(c.raw))
	for i, s := range c.raw {
		if !c.null[i] {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func hasColumn(cols []*column, name string) bool {
	for _, c := range cols {
		if c.name == name {
			return true
		}
	}
	return false
}

func decoder(r io.Reader, label string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, apperrors.Configf("extraction.encoding", "unsupported encoding %q", label)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// headerNames produces canonical column names: HeaderMap renames first, then
// accents are stripped, the name is lowercased and whitespace runs become
// underscores. Without a header, columns are named col_0, col_1, ...
func headerNames(row []string, opt Options) ([]string, error) {
	names := make([]string, len(row))
	seen := make(map[string]int, len(row))
	for i, raw := range row {
		name := fmt.Sprintf("col_%d", i)
		if opt.HasHeader {
			h := strings.TrimSpace(raw)
			if i == 0 {
				h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
			}
			if m, ok := opt.HeaderMap[h]; ok {
				h = m
			} else {
				h = normalizeHeader(h)
			}
			if h != "" {
				name = h
			}
		}
		if j, dup := seen[name]; dup {
			return nil, fmt.Errorf("csv: duplicate column %q at positions %d and %d", name, j, i)
		}
		seen[name] = i
		names[i] = name
	}
	return names, nil
}

func normalizeHeader(s string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if ascii, _, err := transform.String(stripAccents, s); err == nil {
		s = ascii
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}
