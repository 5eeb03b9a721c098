package pipeline

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/config"
	csvparser "csvload/internal/parser/csv"
	"csvload/internal/storage"
	"csvload/pkg/records"
)

// ExtractOptions converts the extraction section into parser options.
func ExtractOptions(e config.Extraction) (csvparser.Options, error) {
	opt := csvparser.Options{
		HasHeader:  e.HasHeader,
		NAValues:   e.NAValues,
		ParseDates: e.ParseDates,
		Encoding:   e.Encoding,
	}
	comma, err := delimiter(e.Delimiter)
	if err != nil {
		return csvparser.Options{}, err
	}
	opt.Comma = comma
	if len(e.DType) > 0 {
		opt.DType = make(map[string]records.Type, len(e.DType))
		for col, name := range e.DType {
			typ, err := records.ParseType(name)
			if err != nil {
				return csvparser.Options{}, apperrors.Configf("extraction.dtype."+col, "%v", err)
			}
			opt.DType[col] = typ
		}
	}
	return opt, nil
}

func delimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) || r == '\r' || r == '\n' || r == '"' {
		return 0, apperrors.Configf("extraction.delimiter", "delimiter must be a single character, got %q", s)
	}
	return r, nil
}

// StorageConfig selects and configures the warehouse backend.
func StorageConfig(l config.Loading, log *zap.Logger) storage.Config {
	return storage.Config{
		Backend:         strings.ToLower(strings.TrimSpace(l.Backend)),
		DSN:             l.DSN,
		Project:         l.ProjectID,
		Location:        l.Location,
		CredentialsPath: l.CredentialsPath,
		BatchSize:       l.BatchSize,
		Log:             log,
	}
}

// Destination names the target table.
func Destination(l config.Loading) storage.Destination {
	return storage.Destination{Project: l.ProjectID, Namespace: l.DatasetID, Table: l.TableID}
}

// RetryPolicy converts the retry section. Zero fields take the
// coordinator's defaults.
func RetryPolicy(r config.Retry) storage.RetryPolicy {
	return storage.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
		AttemptTimeout:  r.AttemptTimeout,
	}
}
