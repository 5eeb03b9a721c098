// Package config defines the configuration model for a csvload run and the
// helpers to load and lint it.
//
// A run is described by one file (JSON or YAML) with four sections plus a
// few top-level logging keys:
//
//	{
//	  "job":            "customers",
//	  "log_level":      "info",
//	  "extraction":     { "csv_file": "data/customers.csv", "parse_dates": ["registration_date"] },
//	  "transformation": { "missing_value_strategy": { "phone": "Unknown" }, "type_mapping": { ... } },
//	  "loading":        { "backend": "bigquery", "project_id": "p", "dataset_id": "d", "table_id": "t" }
//	}
//
// The transformation section accepts two shapes that can be mixed. The
// shorthand keys (missing_value_strategy, text_columns, validation_rules,
// type_mapping, calculated_fields, business_rules) describe the common
// customer-data cleaning. field_rules and enrichment are explicit ordered
// lists for anything else. Both compile to the same rule list.
package config

import (
	"time"
)

// Pipeline is the top-level object decoded from a config file.
type Pipeline struct {
	// Job names the run in logs and metrics labels.
	Job string `json:"job"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	// LogDir, when set, receives one log file per run in addition to stderr.
	LogDir string `json:"log_dir"`

	Extraction     Extraction     `json:"extraction"`
	Transformation Transformation `json:"transformation"`
	Loading        Loading        `json:"loading"`
	Metrics        Metrics        `json:"metrics"`
	Runtime        Runtime        `json:"runtime"`
}

// Extraction configures how the delimited source file is read.
type Extraction struct {
	CSVFile   string `json:"csv_file"`
	Delimiter string `json:"delimiter"`
	// Encoding is a WHATWG encoding label (utf-8, windows-1250, shift_jis, ...).
	Encoding  string `json:"encoding"`
	HasHeader bool   `json:"has_header"`
	// NAValues are the raw tokens read as null.
	NAValues []string `json:"na_values"`
	// ParseDates lists columns parsed as dates or timestamps.
	ParseDates []string `json:"parse_dates"`
	// DType pins column types instead of inferring them.
	DType map[string]string `json:"dtype"`
}

// Transformation configures the cleaning and enrichment stages.
type Transformation struct {
	// MissingValueStrategy maps a column to drop, mean, median, mode,
	// forward_fill, backward_fill, or a literal fill value.
	MissingValueStrategy map[string]string `json:"missing_value_strategy"`
	// MissingValueDefault, when set, applies to nullable columns absent from
	// MissingValueStrategy.
	MissingValueDefault string `json:"missing_value_default"`

	TextColumns    []string `json:"text_columns"`
	TextOperations []string `json:"text_operations"`

	ValidationRules ValidationRules   `json:"validation_rules"`
	TypeMapping     map[string]string `json:"type_mapping"`

	RemoveDuplicates *Dedup `json:"remove_duplicates"`

	CalculatedFields map[string]bool `json:"calculated_fields"`
	BusinessRules    map[string]bool `json:"business_rules"`
	// Tiers overrides the lifetime-value tier thresholds.
	Tiers []Tier `json:"tiers"`

	FieldRules []FieldRules `json:"field_rules"`
	Enrichment []Enrichment `json:"enrichment"`

	// Nullability selects the schema policy: tighten or always.
	Nullability string `json:"nullability"`
}

// ValidationRules toggles the built-in email and phone checks.
type ValidationRules struct {
	EmailValidation bool     `json:"email_validation"`
	PhoneValidation bool     `json:"phone_validation"`
	EmailColumns    []string `json:"email_columns"`
	PhoneColumns    []string `json:"phone_columns"`
	// InvalidPolicy is flag or drop.
	InvalidPolicy string `json:"invalid_policy"`
}

// Dedup configures duplicate removal.
type Dedup struct {
	Subset []string `json:"subset"`
	// Keep is first or last.
	Keep string `json:"keep"`
}

// Tier is one inclusive lower bound of a tiering function.
type Tier struct {
	Min   float64 `json:"min"`
	Label string  `json:"label"`
}

// FieldRules is the ordered rule list for one column.
type FieldRules struct {
	Column string `json:"column"`
	Rules  []Rule `json:"rules"`
}

// Rule is one operation plus its parameters. Every key other than op lands
// in Params.
type Rule struct {
	Op     string  `json:"op"`
	Params Options `json:",remain"`
}

// Enrichment declares one calculated field.
type Enrichment struct {
	Name     string   `json:"name"`
	Function string   `json:"function"`
	Inputs   []string `json:"inputs"`
	Params   Options  `json:"params"`
}

// Loading configures the destination and the write.
type Loading struct {
	// Backend selects the warehouse: bigquery, postgres, mssql, sqlite or duckdb.
	Backend string `json:"backend"`
	// DSN is the connection string for SQL backends.
	DSN string `json:"dsn"`

	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	TableID   string `json:"table_id"`

	// WriteDisposition is replace, append or fail-if-present (BigQuery
	// names are accepted too).
	WriteDisposition string `json:"write_disposition"`
	CreateTable      bool   `json:"create_table"`

	Location        string `json:"location"`
	CredentialsPath string `json:"credentials_path"`

	BatchSize int   `json:"batch_size"`
	Retry     Retry `json:"retry"`
}

// Retry bounds the load coordinator's retries.
type Retry struct {
	MaxAttempts     int           `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	AttemptTimeout  time.Duration `json:"attempt_timeout"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, prom or datadog.
	Backend     string `json:"backend"`
	PromPushURL string `json:"prom_push_url"`
	DatadogAddr string `json:"datadog_addr"`
}

// Runtime holds run-level switches.
type Runtime struct {
	// DryRun stops before the load stage.
	DryRun bool `json:"dry_run"`
}
