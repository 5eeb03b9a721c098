package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const jsonConfig = `{
  "job": "customers",
  "extraction": {
    "csv_file": "in.csv",
    "parse_dates": ["registration_date"],
    "dtype": {"customer_id": "int64"}
  },
  "transformation": {
    "missing_value_strategy": {"phone": "Unknown", "last_purchase_date": "drop"},
    "type_mapping": {"total_spent": "float64"},
    "field_rules": [
      {"column": "email", "rules": [{"op": "validate_pattern", "pattern": "email", "policy": "flag"}]}
    ],
    "tiers": [{"min": 0, "label": "Low"}, {"min": 100, "label": "High"}]
  },
  "loading": {
    "backend": "sqlite",
    "dsn": "file:test.db",
    "dataset_id": "main",
    "table_id": "customers",
    "write_disposition": "WRITE_APPEND",
    "retry": {"max_attempts": 2, "initial_interval": "10ms"}
  }
}`

func TestLoadJSONWithDefaults(t *testing.T) {
	p, err := Load(writeFile(t, "etl.json", jsonConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "customers", p.Job)
	assert.Equal(t, "in.csv", p.Extraction.CSVFile)
	assert.Equal(t, ",", p.Extraction.Delimiter)
	assert.True(t, p.Extraction.HasHeader)
	assert.Equal(t, DefaultNAValues, p.Extraction.NAValues)
	assert.Equal(t, map[string]string{"customer_id": "int64"}, p.Extraction.DType)

	assert.Equal(t, "Unknown", p.Transformation.MissingValueStrategy["phone"])
	require.Len(t, p.Transformation.FieldRules, 1)
	rule := p.Transformation.FieldRules[0].Rules[0]
	assert.Equal(t, "validate_pattern", rule.Op)
	assert.Equal(t, "email", rule.Params.String("pattern", ""))
	assert.Equal(t, "flag", rule.Params.String("policy", ""))
	assert.Equal(t, []Tier{{Min: 0, Label: "Low"}, {Min: 100, Label: "High"}}, p.Transformation.Tiers)
	assert.Equal(t, "tighten", p.Transformation.Nullability)

	assert.Equal(t, "sqlite", p.Loading.Backend)
	assert.Equal(t, "WRITE_APPEND", p.Loading.WriteDisposition)
	assert.Equal(t, 2, p.Loading.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, p.Loading.Retry.InitialInterval)
	assert.Equal(t, 10*time.Second, p.Loading.Retry.MaxInterval)
	assert.Equal(t, 5000, p.Loading.BatchSize)

	assert.Empty(t, ValidatePipeline(p))
}

func TestLoadYAML(t *testing.T) {
	body := `
extraction:
  csv_file: data.csv
  delimiter: ";"
loading:
  project_id: proj
  dataset_id: ds
  table_id: tbl
`
	p, err := Load(writeFile(t, "etl.yaml", body), nil)
	require.NoError(t, err)
	assert.Equal(t, ";", p.Extraction.Delimiter)
	assert.Equal(t, "bigquery", p.Loading.Backend)
	assert.Equal(t, "US", p.Loading.Location)
	assert.NoError(t, Err(ValidatePipeline(p)))
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "etl.json", jsonConfig)
	t.Setenv("CSVLOAD_LOADING__TABLE_ID", "from_env")
	t.Setenv("CSVLOAD_LOADING__DATASET_ID", "env_ds")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("table-id", "", "")
	fs.String("csv-file", "", "")
	fs.String("unrelated", "", "")
	require.NoError(t, fs.Parse([]string{"--table-id", "from_flag", "--unrelated", "x"}))

	p, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", p.Loading.TableID, "flags beat env")
	assert.Equal(t, "env_ds", p.Loading.DatasetID, "env beats file")
	assert.Equal(t, "in.csv", p.Extraction.CSVFile, "unset flags do not override")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestOptionsAccessors(t *testing.T) {
	o := Options{
		"s":    "x",
		"n":    float64(3),
		"i":    7,
		"b":    "true",
		"list": []any{"a", 1},
	}
	assert.Equal(t, "x", o.String("s", ""))
	assert.Equal(t, "3", o.String("n", ""))
	assert.Equal(t, "d", o.String("missing", "d"))
	assert.Equal(t, 3, o.Int("n", 0))
	assert.Equal(t, 7, o.Int("i", 0))
	assert.True(t, o.Bool("b", false))
	f, ok := o.Float("i")
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)
	assert.Equal(t, []string{"a", "1"}, o.StringSlice("list"))
	assert.Equal(t, []string{"x"}, o.StringSlice("s"))
}

func TestShippedConfig(t *testing.T) {
	p, err := Load(filepath.Join("..", "..", DefaultPath), nil)
	require.NoError(t, err)

	assert.Equal(t, "customers", p.Job)
	// Unlisted columns with nulls drop their rows; dedup keys on customer_id.
	assert.Equal(t, "drop", p.Transformation.MissingValueDefault)
	require.NotNil(t, p.Transformation.RemoveDuplicates)
	assert.Equal(t, []string{"customer_id"}, p.Transformation.RemoveDuplicates.Subset)
	assert.NoError(t, Err(ValidatePipeline(p)))
}
