// Package ddl renders CREATE TABLE statements for the SQL backends from a
// destination schema. A Dialect supplies identifier quoting and the type
// names for each warehouse type, and maps catalog type names back when a
// backend describes an existing table.
package ddl

import (
	"fmt"
	"strings"

	"csvload/internal/schema"
)

// Dialect is the per-backend part of DDL rendering.
type Dialect struct {
	Name  string
	Quote func(string) string
	Types map[schema.WarehouseType]string
	// Catalog maps lowercased catalog type names (without length or
	// precision) back to warehouse types.
	Catalog map[string]schema.WarehouseType
}

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func bracketQuote(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }

var (
	Postgres = Dialect{
		Name:  "postgres",
		Quote: doubleQuote,
		Types: map[schema.WarehouseType]string{
			schema.Integer: "BIGINT", schema.Float: "DOUBLE PRECISION", schema.String: "TEXT",
			schema.Boolean: "BOOLEAN", schema.Timestamp: "TIMESTAMPTZ",
		},
		Catalog: map[string]schema.WarehouseType{
			"bigint": schema.Integer, "integer": schema.Integer, "smallint": schema.Integer,
			"double precision": schema.Float, "real": schema.Float, "numeric": schema.Float,
			"text": schema.String, "character varying": schema.String, "character": schema.String,
			"boolean": schema.Boolean,
			"timestamp with time zone": schema.Timestamp, "timestamp without time zone": schema.Timestamp,
			"timestamptz": schema.Timestamp, "date": schema.Timestamp,
		},
	}
	MSSQL = Dialect{
		Name:  "mssql",
		Quote: bracketQuote,
		Types: map[schema.WarehouseType]string{
			schema.Integer: "BIGINT", schema.Float: "FLOAT", schema.String: "NVARCHAR(MAX)",
			schema.Boolean: "BIT", schema.Timestamp: "DATETIMEOFFSET",
		},
		Catalog: map[string]schema.WarehouseType{
			"bigint": schema.Integer, "int": schema.Integer, "smallint": schema.Integer,
			"float": schema.Float, "real": schema.Float, "decimal": schema.Float,
			"nvarchar": schema.String, "varchar": schema.String, "nchar": schema.String,
			"bit": schema.Boolean,
			"datetimeoffset": schema.Timestamp, "datetime2": schema.Timestamp, "date": schema.Timestamp,
		},
	}
	SQLite = Dialect{
		Name:  "sqlite",
		Quote: doubleQuote,
		Types: map[schema.WarehouseType]string{
			schema.Integer: "INTEGER", schema.Float: "REAL", schema.String: "TEXT",
			schema.Boolean: "BOOLEAN", schema.Timestamp: "TIMESTAMP",
		},
		Catalog: map[string]schema.WarehouseType{
			"integer": schema.Integer, "real": schema.Float, "text": schema.String,
			"boolean": schema.Boolean, "timestamp": schema.Timestamp,
		},
	}
	DuckDB = Dialect{
		Name:  "duckdb",
		Quote: doubleQuote,
		Types: map[schema.WarehouseType]string{
			schema.Integer: "BIGINT", schema.Float: "DOUBLE", schema.String: "VARCHAR",
			schema.Boolean: "BOOLEAN", schema.Timestamp: "TIMESTAMPTZ",
		},
		Catalog: map[string]schema.WarehouseType{
			"bigint": schema.Integer, "integer": schema.Integer, "double": schema.Float,
			"varchar": schema.String, "boolean": schema.Boolean,
			"timestamp with time zone": schema.Timestamp, "timestamptz": schema.Timestamp,
			"timestamp": schema.Timestamp,
		},
	}
)

// QualifiedName quotes and joins namespace and table. An empty namespace
// yields just the table.
func (d Dialect) QualifiedName(namespace, table string) string {
	if namespace == "" {
		return d.Quote(table)
	}
	return d.Quote(namespace) + "." + d.Quote(table)
}

// WarehouseType maps a catalog type name back, ignoring case and any
// length or precision suffix.
func (d Dialect) WarehouseType(catalog string) (schema.WarehouseType, error) {
	name := strings.ToLower(strings.TrimSpace(catalog))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if w, ok := d.Catalog[name]; ok {
		return w, nil
	}
	return "", fmt.Errorf("ddl: %s type %q has no warehouse mapping", d.Name, catalog)
}

// FromSchema builds the table definition for s in dialect d.
func FromSchema(d Dialect, namespace, table string, s schema.Schema) (TableDef, error) {
	def := TableDef{FQN: d.QualifiedName(namespace, table), Columns: make([]ColumnDef, len(s.Fields))}
	for i, f := range s.Fields {
		typ, ok := d.Types[f.Type]
		if !ok {
			return TableDef{}, fmt.Errorf("ddl: %s has no type for %s", d.Name, f.Type)
		}
		def.Columns[i] = ColumnDef{Name: d.Quote(f.Name), SQLType: typ, Nullable: f.Nullable}
	}
	return def, nil
}

// BuildCreateTableSQL renders a CREATE TABLE statement:
//
//	CREATE TABLE <FQN> (
//	  <Name> <SQLType> [NOT NULL] [DEFAULT <Default>],
//	  ...,
//	  [PRIMARY KEY (<pk-cols>)]
//	);
//
// Default is raw SQL.
func BuildCreateTableSQL(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(name)
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())
		if c.PrimaryKey {
			pks = append(pks, name)
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", fqn, strings.Join(cols, ",\n  ")), nil
}
