package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: CSVLOAD_LOADING__TABLE_ID sets loading.table_id.
const EnvPrefix = "CSVLOAD_"

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config/etl_config.json"

// DefaultNAValues are the raw tokens read as null when extraction.na_values
// is not set.
var DefaultNAValues = []string{"", "NULL", "null", "N/A", "n/a", "#N/A"}

// flagKeys maps CLI flag names to config keys. Flags not listed here are not
// config overrides.
var flagKeys = map[string]string{
	"csv-file":          "extraction.csv_file",
	"project-id":        "loading.project_id",
	"dataset-id":        "loading.dataset_id",
	"table-id":          "loading.table_id",
	"write-disposition": "loading.write_disposition",
	"backend":           "loading.backend",
	"dsn":               "loading.dsn",
	"log-level":         "log_level",
	"dry-run":           "runtime.dry_run",
}

func defaults() map[string]any {
	return map[string]any{
		"job":                            "csvload",
		"log_level":                      "info",
		"log_format":                     "console",
		"extraction.delimiter":           ",",
		"extraction.encoding":            "utf-8",
		"extraction.has_header":          true,
		"extraction.na_values":           DefaultNAValues,
		"transformation.text_operations": []string{"strip", "title"},
		"transformation.nullability":     "tighten",
		"loading.backend":                "bigquery",
		"loading.write_disposition":      "WRITE_TRUNCATE",
		"loading.create_table":           true,
		"loading.location":               "US",
		"loading.batch_size":             5000,
		"loading.retry.max_attempts":     4,
		"loading.retry.initial_interval": "500ms",
		"loading.retry.max_interval":     "10s",
		"loading.retry.multiplier":       2.0,
		"loading.retry.attempt_timeout":  "5m",
		"metrics.backend":                "none",
	}
}

// Load builds a Pipeline from defaults, the config file at path, CSVLOAD_
// environment variables and explicitly set flags, in increasing precedence.
// An empty path falls back to DefaultPath when that file exists. flags may
// be nil.
func Load(path string, flags *pflag.FlagSet) (Pipeline, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Pipeline{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		// The YAML parser also reads JSON documents.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Pipeline{}, fmt.Errorf("config: file %s not found", path)
			}
			return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Pipeline{}, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Pipeline{}, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var p Pipeline
	if err := k.UnmarshalWithConf("", &p, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode: %w", err)
	}
	return p, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
