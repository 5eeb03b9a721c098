package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
job: customers
log_level: error
extraction:
  csv_file: %q
  parse_dates: [registration_date, last_purchase_date]
transformation:
  missing_value_strategy:
    last_purchase_date: drop
  validation_rules:
    email_validation: true
    phone_validation: true
loading:
  backend: sqlite
  dsn: %q
  dataset_id: customer_data
  table_id: customers
  write_disposition: replace
  retry:
    initial_interval: 1ms
`

func writeConfig(t *testing.T, body string) (cfgPath, dsn string) {
	t.Helper()
	csv, err := filepath.Abs(filepath.Join("..", "pipeline", "testdata", "customers.csv"))
	require.NoError(t, err)
	dir := t.TempDir()
	dsn = filepath.Join(dir, "warehouse.db")
	cfgPath = filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(body, csv, dsn)), 0o644))
	return cfgPath, dsn
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	cfg, _ := writeConfig(t, testConfig)

	out, err := execute(t, "validate", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = execute(t, "validate", "-c", cfg, "--table-id", "")
	require.Error(t, err)
	assert.Contains(t, out, "loading.table_id")
}

func TestSchemaCommandNeverLoads(t *testing.T) {
	cfg, dsn := writeConfig(t, testConfig)

	out, err := execute(t, "schema", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "customer_id")
	assert.Contains(t, out, "email_valid")
	assert.Contains(t, out, "12 rows")

	_, statErr := os.Stat(dsn)
	assert.True(t, os.IsNotExist(statErr), "schema must not open the warehouse")
}

func TestRunThenDescribe(t *testing.T) {
	cfg, _ := writeConfig(t, testConfig)

	out, err := execute(t, "describe", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "does not exist")

	out, err = execute(t, "run", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "job customers: extracted 16 rows")
	assert.Contains(t, out, "loaded 12 rows into customer_data.customers")

	out, err = execute(t, "describe", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "rows:     12")
	assert.Contains(t, out, "last_purchase_date")
}

func TestRootRunsPipelineAndHonoursDryRunFlag(t *testing.T) {
	cfg, dsn := writeConfig(t, testConfig)

	out, err := execute(t, "-c", cfg, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run: nothing loaded")

	_, statErr := os.Stat(dsn)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMissingConfigFails(t *testing.T) {
	_, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
